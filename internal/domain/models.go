package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleReader Role = "reader"
	RoleAdmin  Role = "admin"
)

// Account is the owner of a wallet. Identity and role only; profile data lives elsewhere.
type Account struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Role      Role      `gorm:"size:16;not null;default:reader" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Balance is the single mutable balance record of an account.
// Opening is the amount granted at creation; it never changes. Version grows by one
// with every balance change.
type Balance struct {
	AccountID uuid.UUID `gorm:"type:uuid;primaryKey" json:"account_id"`
	Balance   Amount    `gorm:"column:balance_cents;not null;default:0;check:balance_cents >= 0" json:"balance"`
	Opening   Amount    `gorm:"column:opening_cents;not null;default:0" json:"opening"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BalanceView is the read model served from cache.
type BalanceView struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   Amount    `json:"balance"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Balance) View() *BalanceView {
	return &BalanceView{AccountID: b.AccountID, Balance: b.Balance, Version: b.Version, UpdatedAt: b.UpdatedAt}
}

type EntryKind string

const (
	KindTopUp    EntryKind = "top_up"
	KindPurchase EntryKind = "purchase"
)

type EntryStatus string

const (
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
)

// Reference points a log entry at the record it relates to. Kind is empty when absent.
type Reference struct {
	Kind EntryKind `gorm:"size:16" json:"kind,omitempty"`
	ID   *string   `gorm:"size:128" json:"id,omitempty"`
}

// LedgerEntry is one row of the append-only transaction log.
// Amount is always the token quantity moved; the sign is implied by Kind.
type LedgerEntry struct {
	ID          uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID   uuid.UUID   `gorm:"type:uuid;not null;index" json:"account_id"`
	Kind        EntryKind   `gorm:"size:16;not null" json:"kind"`
	Amount      Amount      `gorm:"column:amount_cents;not null;check:amount_cents > 0" json:"amount"`
	Description string      `gorm:"size:255" json:"description"`
	Status      EntryStatus `gorm:"size:16;not null" json:"status"`
	Ref         Reference   `gorm:"embedded;embeddedPrefix:ref_" json:"reference"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "transactions" }

func (e *LedgerEntry) BeforeUpdate(*gorm.DB) error { return ErrImmutableRecord }
func (e *LedgerEntry) BeforeDelete(*gorm.DB) error { return ErrImmutableRecord }

// Signed returns the entry's effect on the balance.
func (e LedgerEntry) Signed() Amount {
	if e.Kind == KindPurchase {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Purchase records that an account owns a piece of content.
// (AccountID, ContentID) is unique at the storage layer.
type Purchase struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_purchases_account_content" json:"account_id"`
	ContentID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_purchases_account_content" json:"content_id"`
	PricePaid     Amount    `gorm:"column:price_paid_cents;not null" json:"price_paid"`
	TransactionID uint64    `gorm:"not null;index" json:"transaction_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (p *Purchase) BeforeUpdate(*gorm.DB) error { return ErrImmutableRecord }

// Content is the purchasable unit (a story). Owned by the content collaborator.
type Content struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Price     Amount    `gorm:"column:price_cents;not null" json:"price"`
	IsPremium bool      `gorm:"not null;default:false" json:"is_premium"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Content) TableName() string { return "stories" }

// PaymentMethod is a card saved by an account. PaymentToken is the processor's handle
// for the card and is never serialized.
type PaymentMethod struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID    uuid.UUID `gorm:"type:uuid;not null;index" json:"account_id"`
	PaymentToken string    `gorm:"size:128;not null" json:"-"`
	CardLastFour string    `gorm:"size:4;not null" json:"card_last_four"`
	CardBrand    string    `gorm:"size:32;not null" json:"card_brand"`
	IsDefault    bool      `gorm:"not null;default:false" json:"is_default"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (a *Account) BeforeCreate(*gorm.DB) error        { ensureID(&a.ID); return nil }
func (p *Purchase) BeforeCreate(*gorm.DB) error       { ensureID(&p.ID); return nil }
func (c *Content) BeforeCreate(*gorm.DB) error        { ensureID(&c.ID); return nil }
func (m *PaymentMethod) BeforeCreate(*gorm.DB) error  { ensureID(&m.ID); return nil }
func (o *OrphanedCharge) BeforeCreate(*gorm.DB) error { ensureID(&o.ID); return nil }

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

type OrphanState string

const (
	OrphanPending       OrphanState = "pending"
	OrphanIndeterminate OrphanState = "indeterminate"
	OrphanResolved      OrphanState = "resolved"
	OrphanVoided        OrphanState = "voided"
)

// OrphanedCharge is a gateway charge that has not (yet) been matched by a local credit.
type OrphanedCharge struct {
	ID               uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID        uuid.UUID   `gorm:"type:uuid;not null;index" json:"account_id"`
	Package          string      `gorm:"size:32;not null" json:"package"`
	Tokens           Amount      `gorm:"column:tokens_cents;not null" json:"tokens"`
	Price            Amount      `gorm:"column:price_cents;not null" json:"price"`
	Currency         string      `gorm:"size:3;not null" json:"currency"`
	PaymentMethodRef string      `gorm:"size:128" json:"payment_method_ref"`
	GatewayReference string      `gorm:"size:128" json:"gateway_reference"`
	Cause            string      `gorm:"type:text" json:"cause"`
	State            OrphanState `gorm:"size:16;not null;index" json:"state"`
	LedgerEntryID    *uint64     `json:"ledger_entry_id,omitempty"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"created_at"`
	ResolvedAt       *time.Time  `json:"resolved_at,omitempty"`
}

// Tables lists every model migrated at startup.
func Tables() []any {
	return []any{&Account{}, &Balance{}, &LedgerEntry{}, &Purchase{}, &Content{}, &PaymentMethod{}, &OrphanedCharge{}}
}

type EventType string

const (
	EventPurchaseCompleted EventType = "purchase_completed"
	EventTopUpCompleted    EventType = "top_up_completed"
	EventOrphanedCharge    EventType = "orphaned_charge"
)

// WalletEvent is the payload sent to RabbitMQ after a commit.
type WalletEvent struct {
	Type             EventType  `json:"type"`
	AccountID        uuid.UUID  `json:"account_id"`
	TransactionID    uint64     `json:"transaction_id,omitempty"`
	Amount           Amount     `json:"amount"`
	BalanceAfter     Amount     `json:"balance_after"`
	ContentID        *uuid.UUID `json:"content_id,omitempty"`
	PurchaseID       *uuid.UUID `json:"purchase_id,omitempty"`
	GatewayReference string     `json:"gateway_reference,omitempty"`
	OccurredAt       time.Time  `json:"occurred_at"`
}

type OutcomeStatus string

const (
	OutcomeSuccess      OutcomeStatus = "success"
	OutcomeDeclined     OutcomeStatus = "declined"
	OutcomeAlreadyOwned OutcomeStatus = "already_owned"
	OutcomeError        OutcomeStatus = "error"
)

// Outcome is what the engine reports back for a purchase or top-up.
type Outcome struct {
	Status        OutcomeStatus `json:"status"`
	BalanceAfter  *Amount       `json:"balance_after,omitempty"`
	PurchaseID    *uuid.UUID    `json:"purchase_id,omitempty"`
	TransactionID *uint64       `json:"transaction_id,omitempty"`
	Reason        ReasonCode    `json:"reason_code,omitempty"`
}

func ErrorOutcome(err error) *Outcome {
	return &Outcome{Status: OutcomeError, Reason: ReasonFor(err)}
}

// Page is one page of transaction history.
type Page struct {
	Items       []LedgerEntry `json:"transactions"`
	CurrentPage int           `json:"currentPage"`
	TotalPages  int           `json:"totalPages"`
	TotalItems  int64         `json:"totalItems"`
}

// Reconciliation compares a balance against the transaction log.
type Reconciliation struct {
	AccountID uuid.UUID `json:"account_id"`
	Opening   Amount    `json:"opening"`
	Credits   Amount    `json:"credits"`
	Debits    Amount    `json:"debits"`
	Expected  Amount    `json:"expected"`
	Actual    Amount    `json:"actual"`
	Balanced  bool      `json:"balanced"`
}
