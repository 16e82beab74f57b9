package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
	"token-wallet/pkg/sqlite"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := sqlite.NewConnection(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedAccount(t *testing.T, db *gorm.DB, balance string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	acct := &domain.Account{Role: domain.RoleReader}
	require.NoError(t, NewAccountRepository(db).Create(ctx, nil, acct))
	amt := domain.MustParseAmount(balance)
	require.NoError(t, NewBalanceRepository(db).Create(ctx, nil, &domain.Balance{
		AccountID: acct.ID,
		Balance:   amt,
		Opening:   amt,
	}))
	return acct.ID
}

func TestApplyDelta(t *testing.T) {
	db := newTestDB(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()
	id := seedAccount(t, db, "15.00")

	got, err := repo.ApplyDelta(ctx, nil, id, domain.MustParseAmount("-9.00"))
	require.NoError(t, err)
	assert.Equal(t, domain.MustParseAmount("6.00"), got)

	_, err = repo.ApplyDelta(ctx, nil, id, domain.MustParseAmount("-6.01"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bal, err := repo.GetByAccountID(ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MustParseAmount("6.00"), bal.Balance)
	assert.Equal(t, domain.MustParseAmount("15.00"), bal.Opening)

	got, err = repo.ApplyDelta(ctx, nil, id, domain.MustParseAmount("-6.00"))
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(0), got)

	_, err = repo.ApplyDelta(ctx, nil, uuid.New(), 100)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	// Two successful changes, the refused one leaves the version alone.
	bal, err = repo.GetByAccountID(ctx, nil, id)
	require.NoError(t, err)
	assert.EqualValues(t, 2, bal.Version)
	assert.EqualValues(t, 2, bal.View().Version)
}

func TestApplyDeltaConcurrentNeverNegative(t *testing.T) {
	db := newTestDB(t)
	repo := NewBalanceRepository(db)
	id := seedAccount(t, db, "10.00")

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ApplyDelta(context.Background(), nil, id, domain.MustParseAmount("-1.00"))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	bal, err := repo.GetByAccountID(context.Background(), nil, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(0), bal.Balance)
}

func TestWithTxRollsBack(t *testing.T) {
	db := newTestDB(t)
	balances := NewBalanceRepository(db)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()
	id := seedAccount(t, db, "15.00")

	err := balances.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := balances.ApplyDelta(ctx, tx, id, domain.MustParseAmount("-9.00")); err != nil {
			return err
		}
		return ledger.Append(ctx, tx, &domain.LedgerEntry{AccountID: id, Kind: domain.KindPurchase, Amount: 0, Status: domain.StatusCompleted})
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	bal, err := balances.GetByAccountID(ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MustParseAmount("15.00"), bal.Balance)
}

func TestLedgerIsAppendOnly(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()
	id := seedAccount(t, db, "15.00")

	entry := &domain.LedgerEntry{AccountID: id, Kind: domain.KindTopUp, Amount: 5000, Status: domain.StatusCompleted}
	require.NoError(t, ledger.Append(ctx, nil, entry))
	require.NotZero(t, entry.ID)

	err := db.Model(entry).Update("description", "edited").Error
	require.ErrorIs(t, err, domain.ErrImmutableRecord)
	err = db.Delete(entry).Error
	require.ErrorIs(t, err, domain.ErrImmutableRecord)

	entries, total, err := ledger.ListByAccount(ctx, id, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Empty(t, entries[0].Description)
}

func TestLedgerListAndTotals(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()
	id := seedAccount(t, db, "15.00")

	for _, e := range []domain.LedgerEntry{
		{Kind: domain.KindTopUp, Amount: 5000, Status: domain.StatusCompleted},
		{Kind: domain.KindPurchase, Amount: 900, Status: domain.StatusCompleted},
		{Kind: domain.KindPurchase, Amount: 300, Status: domain.StatusCompleted},
		{Kind: domain.KindTopUp, Amount: 10000, Status: domain.StatusFailed},
	} {
		e.AccountID = id
		require.NoError(t, ledger.Append(ctx, nil, &e))
	}

	page, total, err := ledger.ListByAccount(ctx, id, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, domain.StatusFailed, page[0].Status)
	assert.Greater(t, page[0].ID, page[1].ID)

	page, _, err = ledger.ListByAccount(ctx, id, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, domain.KindTopUp, page[1].Kind)

	totals, err := ledger.Totals(ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(5000), totals[domain.KindTopUp])
	assert.Equal(t, domain.Amount(1200), totals[domain.KindPurchase])
}

func TestPurchaseUniqueness(t *testing.T) {
	db := newTestDB(t)
	purchases := NewPurchaseRepository(db)
	ctx := context.Background()
	id := seedAccount(t, db, "15.00")
	contentID := uuid.New()

	ok, err := purchases.Exists(ctx, nil, id, contentID)
	require.NoError(t, err)
	assert.False(t, ok)

	first := &domain.Purchase{AccountID: id, ContentID: contentID, PricePaid: 900, TransactionID: 1}
	require.NoError(t, purchases.Create(ctx, nil, first))
	assert.NotEqual(t, uuid.Nil, first.ID)

	err = purchases.Create(ctx, nil, &domain.Purchase{AccountID: id, ContentID: contentID, PricePaid: 900, TransactionID: 2})
	require.ErrorIs(t, err, domain.ErrDuplicatePurchase)

	ok, err = purchases.Exists(ctx, nil, id, contentID)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := purchases.Find(ctx, id, contentID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	got, err := purchases.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(900), got.PricePaid)

	_, err = purchases.GetByID(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrPurchaseNotFound)

	list, err := purchases.ListByAccount(ctx, id)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOrphanTransition(t *testing.T) {
	db := newTestDB(t)
	orphans := NewOrphanRepository(db)
	ctx := context.Background()
	id := seedAccount(t, db, "15.00")

	o := &domain.OrphanedCharge{
		AccountID:        id,
		Package:          "small",
		Tokens:           5000,
		Price:            500,
		Currency:         "USD",
		GatewayReference: "ch_1",
		State:            domain.OrphanPending,
	}
	require.NoError(t, orphans.Create(ctx, nil, o))

	pending, err := orphans.ListByState(ctx, domain.OrphanPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	entryID := uint64(42)
	require.NoError(t, orphans.Transition(ctx, nil, o.ID, domain.OrphanPending, domain.OrphanResolved, &entryID))

	err = orphans.Transition(ctx, nil, o.ID, domain.OrphanPending, domain.OrphanResolved, nil)
	require.ErrorIs(t, err, domain.ErrOrphanStateChanged)

	err = orphans.Transition(ctx, nil, uuid.New(), domain.OrphanPending, domain.OrphanResolved, nil)
	require.ErrorIs(t, err, domain.ErrOrphanNotFound)

	got, err := orphans.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrphanResolved, got.State)
	require.NotNil(t, got.LedgerEntryID)
	assert.Equal(t, entryID, *got.LedgerEntryID)
	assert.NotNil(t, got.ResolvedAt)
}

func TestContentRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewContentRepository(db)
	ctx := context.Background()

	c := &domain.Content{Title: "The Long Night", Price: 900, IsPremium: true}
	require.NoError(t, repo.Create(ctx, c))

	got, err := repo.GetContent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Long Night", got.Title)
	assert.True(t, got.IsPremium)

	_, err = repo.GetContent(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrContentNotFound)
}

func TestAccountRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	a := &domain.Account{Role: domain.RoleAdmin}
	require.NoError(t, repo.Create(ctx, nil, a))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, got.Role)

	_, err = repo.GetByID(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPaymentMethodRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewPaymentMethodRepository(db)
	ctx := context.Background()
	owner := seedAccount(t, db, "0")
	other := seedAccount(t, db, "0")

	_, err := repo.GetDefault(ctx, owner)
	require.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)

	visa := &domain.PaymentMethod{AccountID: owner, PaymentToken: "tok_visa", CardLastFour: "4242", CardBrand: "visa", IsDefault: true}
	require.NoError(t, repo.Create(ctx, nil, visa))
	amex := &domain.PaymentMethod{AccountID: owner, PaymentToken: "tok_amex", CardLastFour: "0005", CardBrand: "amex"}
	require.NoError(t, repo.Create(ctx, nil, amex))

	got, err := repo.GetForAccount(ctx, owner, amex.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok_amex", got.PaymentToken)

	_, err = repo.GetForAccount(ctx, other, amex.ID)
	require.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)

	def, err := repo.GetDefault(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, visa.ID, def.ID)

	require.NoError(t, repo.ClearDefault(ctx, nil, owner))
	_, err = repo.GetDefault(ctx, owner)
	require.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)

	list, err := repo.ListByAccount(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = repo.ListByAccount(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, list)
}
