package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
)

// Dependencies are the stores and collaborators the engine orchestrates.
// Cache, Events and Idempotency may be nil.
type Dependencies struct {
	Accounts    domain.AccountRepository
	Balances    domain.BalanceRepository
	Ledger      domain.LedgerRepository
	Purchases   domain.PurchaseRepository
	Orphans     domain.OrphanRepository
	Content     domain.ContentRepository
	Methods     domain.PaymentMethodRepository
	Cache       domain.CacheRepository
	Idempotency domain.IdempotencyStore
	Events      domain.EventProducer
	Gateway     domain.PaymentGateway
}

type Options struct {
	OpeningBalance domain.Amount
	Currency       string
	ChargeTimeout  time.Duration
	IdempotencyTTL time.Duration
}

// WalletService is the only writer of balances, the transaction log and purchase records.
type WalletService struct {
	accounts    domain.AccountRepository
	balances    domain.BalanceRepository
	ledger      domain.LedgerRepository
	purchases   domain.PurchaseRepository
	orphans     domain.OrphanRepository
	content     domain.ContentRepository
	methods     domain.PaymentMethodRepository
	cache       domain.CacheRepository
	idempotency domain.IdempotencyStore
	events      domain.EventProducer
	gateway     domain.PaymentGateway

	opts   Options
	logger *slog.Logger
}

func NewWalletService(deps Dependencies, opts Options, logger *slog.Logger) *WalletService {
	if deps.Cache == nil {
		deps.Cache = noopCache{}
	}
	if deps.Events == nil {
		deps.Events = noopEvents{}
	}
	if opts.ChargeTimeout <= 0 {
		opts.ChargeTimeout = 10 * time.Second
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &WalletService{
		accounts:    deps.Accounts,
		balances:    deps.Balances,
		ledger:      deps.Ledger,
		purchases:   deps.Purchases,
		orphans:     deps.Orphans,
		content:     deps.Content,
		methods:     deps.Methods,
		cache:       deps.Cache,
		idempotency: deps.Idempotency,
		events:      deps.Events,
		gateway:     deps.Gateway,
		opts:        opts,
		logger:      logger.With("service", "wallet"),
	}
}

// OpenAccount creates an account together with its balance record.
func (s *WalletService) OpenAccount(ctx context.Context, role domain.Role) (*domain.Account, *domain.Balance, error) {
	if role == "" {
		role = domain.RoleReader
	}
	account := &domain.Account{ID: uuid.New(), Role: role}
	balance := &domain.Balance{
		AccountID: account.ID,
		Balance:   s.opts.OpeningBalance,
		Opening:   s.opts.OpeningBalance,
	}

	err := s.balances.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.accounts.Create(ctx, tx, account); err != nil {
			return err
		}
		return s.balances.Create(ctx, tx, balance)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open account: %w", err)
	}

	s.logger.InfoContext(ctx, "account opened", "account_id", account.ID, "role", role, "opening_balance", balance.Opening)
	return account, balance, nil
}

func (s *WalletService) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *WalletService) GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.BalanceView, error) {
	// 1. Check Cache
	cached, err := s.cache.GetBalance(ctx, accountID)
	if err == nil && cached != nil {
		return cached, nil
	}

	// 2. Fetch from DB
	balance, err := s.balances.GetByAccountID(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	view := balance.View()

	// 3. Set Cache
	if err := s.cache.SetBalance(ctx, view); err != nil {
		s.logger.WarnContext(ctx, "failed to cache balance", "account_id", accountID, "error", err)
	}
	return view, nil
}

func (s *WalletService) Packages() []domain.TokenPackage {
	return domain.Packages()
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ListTransactions returns one page of the account's history, newest first. Pages start at 1.
func (s *WalletService) ListTransactions(ctx context.Context, accountID uuid.UUID, page, limit int) (*domain.Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if _, err := s.balances.GetByAccountID(ctx, nil, accountID); err != nil {
		return nil, err
	}

	items, total, err := s.ledger.ListByAccount(ctx, accountID, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	return &domain.Page{
		Items:       items,
		CurrentPage: page,
		TotalPages:  int((total + int64(limit) - 1) / int64(limit)),
		TotalItems:  total,
	}, nil
}

func (s *WalletService) ListPurchases(ctx context.Context, accountID uuid.UUID) ([]domain.Purchase, error) {
	return s.purchases.ListByAccount(ctx, accountID)
}

// HasAccess reports whether the account may read the content. Free content is open to everyone.
func (s *WalletService) HasAccess(ctx context.Context, accountID, contentID uuid.UUID) (bool, error) {
	item, err := s.content.GetContent(ctx, contentID)
	if err != nil {
		return false, err
	}
	if !item.IsPremium {
		return true, nil
	}
	return s.purchases.Exists(ctx, nil, accountID, contentID)
}

func (s *WalletService) CreateContent(ctx context.Context, title string, price domain.Amount, premium bool) (*domain.Content, error) {
	if price < 0 || (premium && price == 0) {
		return nil, fmt.Errorf("%w: price %s", domain.ErrInvalidAmount, price)
	}
	item := &domain.Content{ID: uuid.New(), Title: title, Price: price, IsPremium: premium}
	if err := s.content.Create(ctx, item); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "content created", "content_id", item.ID, "price", price, "premium", premium)
	return item, nil
}

// withRetry runs fn in a transaction and runs it once more if the first attempt hit a
// transient conflict.
func (s *WalletService) withRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.balances.WithTx(ctx, fn)
	if domain.IsRetryable(err) {
		s.logger.WarnContext(ctx, "transient conflict, retrying", "error", err)
		err = s.balances.WithTx(ctx, fn)
	}
	return err
}

// afterCommit refreshes derived state. Failures here never undo a committed write.
func (s *WalletService) afterCommit(ctx context.Context, event domain.WalletEvent) {
	s.refreshBalanceCache(ctx, event.AccountID)
	s.publish(ctx, event)
}

// refreshBalanceCache writes the committed balance with its version, so a slower reader
// holding an older row cannot replace it. If that fails the entry is dropped instead.
func (s *WalletService) refreshBalanceCache(ctx context.Context, accountID uuid.UUID) {
	balance, err := s.balances.GetByAccountID(ctx, nil, accountID)
	if err == nil {
		err = s.cache.SetBalance(ctx, balance.View())
	}
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "failed to refresh balance cache", "account_id", accountID, "error", err)
	if err := s.cache.InvalidateBalance(ctx, accountID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate balance cache", "account_id", accountID, "error", err)
	}
}

func (s *WalletService) publish(ctx context.Context, event domain.WalletEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := s.events.PublishWalletEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish wallet event", "type", event.Type, "account_id", event.AccountID, "error", err)
	}
}

type noopCache struct{}

func (noopCache) GetBalance(context.Context, uuid.UUID) (*domain.BalanceView, error) { return nil, nil }
func (noopCache) SetBalance(context.Context, *domain.BalanceView) error              { return nil }
func (noopCache) InvalidateBalance(context.Context, uuid.UUID) error                 { return nil }

type noopEvents struct{}

func (noopEvents) PublishWalletEvent(context.Context, domain.WalletEvent) error { return nil }

var (
	errNoGateway        = errors.New("no payment gateway configured")
	errNoPaymentMethods = errors.New("no payment method store configured")
)
