package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
	"token-wallet/internal/gateway"
	"token-wallet/internal/repository"
	"token-wallet/pkg/logger"
	"token-wallet/pkg/sqlite"
)

type harness struct {
	svc       *WalletService
	db        *gorm.DB
	gw        *gateway.Mock
	events    *recordingEvents
	cache     *memoryCache
	ledger    *flakyLedger
	purchases *flakyPurchases
	balances  domain.BalanceRepository
	orphans   domain.OrphanRepository
	content   domain.ContentRepository
	methods   domain.PaymentMethodRepository
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	db, err := sqlite.NewConnection(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	h := &harness{
		db:        db,
		gw:        gateway.NewMock(logger.Discard(), 1),
		events:    &recordingEvents{},
		cache:     newMemoryCache(),
		ledger:    &flakyLedger{LedgerRepository: repository.NewLedgerRepository(db)},
		purchases: &flakyPurchases{PurchaseRepository: repository.NewPurchaseRepository(db)},
		balances:  repository.NewBalanceRepository(db),
		orphans:   repository.NewOrphanRepository(db),
		content:   repository.NewContentRepository(db),
		methods:   repository.NewPaymentMethodRepository(db),
	}
	opts := Options{
		OpeningBalance: domain.MustParseAmount("15.00"),
		Currency:       "USD",
		ChargeTimeout:  time.Second,
		IdempotencyTTL: time.Hour,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.svc = NewWalletService(Dependencies{
		Accounts:    repository.NewAccountRepository(db),
		Balances:    h.balances,
		Ledger:      h.ledger,
		Purchases:   h.purchases,
		Orphans:     h.orphans,
		Content:     h.content,
		Methods:     h.methods,
		Cache:       h.cache,
		Idempotency: newMemoryIdempotency(),
		Events:      h.events,
		Gateway:     h.gw,
	}, opts, logger.Discard())
	return h
}

// account opens an account with a default visa card and moves its balance to the
// given value.
func (h *harness) account(t *testing.T, balance string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	acct, bal, err := h.svc.OpenAccount(ctx, domain.RoleReader)
	require.NoError(t, err)
	_, err = h.svc.AddPaymentMethod(ctx, AddPaymentMethodRequest{
		AccountID:    acct.ID,
		PaymentToken: "tok_visa",
		CardLastFour: "4242",
		CardBrand:    "visa",
	})
	require.NoError(t, err)

	target := domain.MustParseAmount(balance)
	if target != bal.Balance {
		require.NoError(t, h.db.Model(&domain.Balance{}).Where("account_id = ?", acct.ID).
			Updates(map[string]any{"balance_cents": target, "opening_cents": target}).Error)
	}
	return acct.ID
}

func (h *harness) defaultCard(t *testing.T, id uuid.UUID) *domain.PaymentMethod {
	t.Helper()
	m, err := h.methods.GetDefault(context.Background(), id)
	require.NoError(t, err)
	return m
}

func (h *harness) story(t *testing.T, price string) uuid.UUID {
	t.Helper()
	c, err := h.svc.CreateContent(context.Background(), "Story "+price, domain.MustParseAmount(price), true)
	require.NoError(t, err)
	return c.ID
}

func (h *harness) balance(t *testing.T, id uuid.UUID) domain.Amount {
	t.Helper()
	b, err := h.balances.GetByAccountID(context.Background(), nil, id)
	require.NoError(t, err)
	return b.Balance
}

func (h *harness) entries(t *testing.T, id uuid.UUID) []domain.LedgerEntry {
	t.Helper()
	items, _, err := h.ledger.ListByAccount(context.Background(), id, 0, 1000)
	require.NoError(t, err)
	return items
}

func (h *harness) purchaseCount(t *testing.T, id uuid.UUID) int {
	t.Helper()
	list, err := h.purchases.ListByAccount(context.Background(), id)
	require.NoError(t, err)
	return len(list)
}

func (h *harness) verify(t *testing.T, id uuid.UUID) {
	t.Helper()
	rec, err := h.svc.VerifyAccount(context.Background(), id)
	require.NoError(t, err)
	require.True(t, rec.Balanced, "expected %s, actual %s", rec.Expected, rec.Actual)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.WalletEvent
}

func (r *recordingEvents) PublishWalletEvent(_ context.Context, e domain.WalletEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) ofType(t domain.EventType) []domain.WalletEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WalletEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// memoryCache keeps the newest version of each view, like the redis script does.
type memoryCache struct {
	mu          sync.Mutex
	views       map[uuid.UUID]domain.BalanceView
	sets        int
	invalidated int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{views: map[uuid.UUID]domain.BalanceView{}}
}

func (c *memoryCache) GetBalance(_ context.Context, id uuid.UUID) (*domain.BalanceView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (c *memoryCache) SetBalance(_ context.Context, v *domain.BalanceView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if cur, ok := c.views[v.AccountID]; ok && cur.Version > v.Version {
		return nil
	}
	c.views[v.AccountID] = *v
	return nil
}

func (c *memoryCache) InvalidateBalance(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, id)
	c.invalidated++
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: map[string]bool{}}
}

func (m *memoryIdempotency) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

var errLedgerDown = errors.New("ledger unavailable")

// flakyLedger fails Append for entries matched by failOn.
type flakyLedger struct {
	domain.LedgerRepository
	mu     sync.Mutex
	failOn func(*domain.LedgerEntry) bool
}

func (l *flakyLedger) setFailOn(f func(*domain.LedgerEntry) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failOn = f
}

func (l *flakyLedger) Append(ctx context.Context, tx *gorm.DB, e *domain.LedgerEntry) error {
	l.mu.Lock()
	f := l.failOn
	l.mu.Unlock()
	if f != nil && f(e) {
		return errLedgerDown
	}
	return l.LedgerRepository.Append(ctx, tx, e)
}

// flakyPurchases returns transient conflicts from Create while conflicts > 0. With
// hideOwnership set, Exists reports false so a request gets past the ownership check
// the way a concurrent request does before the winner commits.
type flakyPurchases struct {
	domain.PurchaseRepository
	mu            sync.Mutex
	conflicts     int
	creates       int
	hideOwnership bool
}

func (p *flakyPurchases) Exists(ctx context.Context, tx *gorm.DB, accountID, contentID uuid.UUID) (bool, error) {
	p.mu.Lock()
	hide := p.hideOwnership
	p.mu.Unlock()
	if hide {
		return false, nil
	}
	return p.PurchaseRepository.Exists(ctx, tx, accountID, contentID)
}

func (p *flakyPurchases) Create(ctx context.Context, tx *gorm.DB, purchase *domain.Purchase) error {
	p.mu.Lock()
	p.creates++
	if p.conflicts > 0 {
		p.conflicts--
		p.mu.Unlock()
		return domain.ErrTransientConflict
	}
	p.mu.Unlock()
	return p.PurchaseRepository.Create(ctx, tx, purchase)
}
