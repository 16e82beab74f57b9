package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository methods that accept tx run on it when non-nil, otherwise on their own connection.

type AccountRepository interface {
	Create(ctx context.Context, tx *gorm.DB, account *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	List(ctx context.Context) ([]Account, error)
}

type BalanceRepository interface {
	Create(ctx context.Context, tx *gorm.DB, balance *Balance) error
	GetByAccountID(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (*Balance, error)
	// ApplyDelta atomically adds delta and returns the new balance. A delta that would
	// take the balance below zero fails with ErrInsufficientFunds and changes nothing.
	ApplyDelta(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, delta Amount) (Amount, error)
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type LedgerRepository interface {
	Append(ctx context.Context, tx *gorm.DB, entry *LedgerEntry) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]LedgerEntry, int64, error)
	// Totals sums completed entries per kind.
	Totals(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (map[EntryKind]Amount, error)
}

type PurchaseRepository interface {
	Exists(ctx context.Context, tx *gorm.DB, accountID, contentID uuid.UUID) (bool, error)
	Find(ctx context.Context, accountID, contentID uuid.UUID) (*Purchase, error)
	Create(ctx context.Context, tx *gorm.DB, purchase *Purchase) error
	GetByID(ctx context.Context, id uuid.UUID) (*Purchase, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Purchase, error)
}

type OrphanRepository interface {
	Create(ctx context.Context, tx *gorm.DB, orphan *OrphanedCharge) error
	GetByID(ctx context.Context, id uuid.UUID) (*OrphanedCharge, error)
	ListByState(ctx context.Context, state OrphanState, limit int) ([]OrphanedCharge, error)
	// Transition moves an orphan from one state to another only if it is still in from.
	// Losing a race yields ErrOrphanStateChanged.
	Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to OrphanState, entryID *uint64) error
}

// ContentCatalog is the read side the engine depends on.
type ContentCatalog interface {
	GetContent(ctx context.Context, id uuid.UUID) (*Content, error)
}

type ContentRepository interface {
	ContentCatalog
	Create(ctx context.Context, content *Content) error
	List(ctx context.Context) ([]Content, error)
}

type PaymentMethodRepository interface {
	Create(ctx context.Context, tx *gorm.DB, method *PaymentMethod) error
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]PaymentMethod, error)
	// GetForAccount fails with ErrPaymentMethodNotFound when the method belongs to another account.
	GetForAccount(ctx context.Context, accountID, id uuid.UUID) (*PaymentMethod, error)
	GetDefault(ctx context.Context, accountID uuid.UUID) (*PaymentMethod, error)
	ClearDefault(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) error
}

// CacheRepository holds balance views. SetBalance never replaces a view with a higher version.
type CacheRepository interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (*BalanceView, error)
	SetBalance(ctx context.Context, view *BalanceView) error
	InvalidateBalance(ctx context.Context, accountID uuid.UUID) error
}

// IdempotencyStore claims a request key once. Claim returns false if the key was already taken.
// Release frees a claimed key so the request can be retried.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type EventProducer interface {
	PublishWalletEvent(ctx context.Context, event WalletEvent) error
}

type ChargeRequest struct {
	AccountID        uuid.UUID `json:"account_id"`
	Amount           Amount    `json:"amount"`
	Currency         string    `json:"currency"`
	PaymentMethodRef string    `json:"payment_method_ref"`
	IdempotencyKey   string    `json:"idempotency_key,omitempty"`
}

type ChargeResult struct {
	Accepted      bool   `json:"accepted"`
	Reference     string `json:"reference,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Indeterminate bool   `json:"indeterminate,omitempty"`
}

// PaymentGateway charges real money. A returned error wrapping ErrChargeIndeterminate
// means the charge may or may not have happened.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}
