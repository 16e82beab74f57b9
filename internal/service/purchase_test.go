package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-wallet/internal/domain"
)

func TestPurchaseDebitsBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.account(t, "15.00")
	story := h.story(t, "9.00")

	out, err := h.svc.PurchaseContent(ctx, acct, story)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, out.Status)
	require.NotNil(t, out.BalanceAfter)
	assert.Equal(t, domain.MustParseAmount("6.00"), *out.BalanceAfter)
	require.NotNil(t, out.PurchaseID)
	require.NotNil(t, out.TransactionID)

	assert.Equal(t, domain.MustParseAmount("6.00"), h.balance(t, acct))
	assert.Equal(t, 1, h.purchaseCount(t, acct))

	entries := h.entries(t, acct)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.KindPurchase, entries[0].Kind)
	assert.Equal(t, domain.MustParseAmount("9.00"), entries[0].Amount)
	assert.Equal(t, *out.TransactionID, entries[0].ID)
	require.NotNil(t, entries[0].Ref.ID)
	assert.Equal(t, out.PurchaseID.String(), *entries[0].Ref.ID)

	p, err := h.purchases.GetByID(ctx, *out.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, domain.MustParseAmount("9.00"), p.PricePaid)
	assert.Equal(t, entries[0].ID, p.TransactionID)

	assert.Len(t, h.events.ofType(domain.EventPurchaseCompleted), 1)
	cached, err := h.cache.GetBalance(ctx, acct)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, domain.MustParseAmount("6.00"), cached.Balance)
	assert.EqualValues(t, 1, cached.Version)
	assert.Zero(t, h.cache.invalidated)
	h.verify(t, acct)
}

func TestBalanceCacheIgnoresStaleView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.account(t, "15.00")
	story := h.story(t, "9.00")

	stale, err := h.svc.GetBalance(ctx, acct)
	require.NoError(t, err)
	assert.Zero(t, stale.Version)

	_, err = h.svc.PurchaseContent(ctx, acct, story)
	require.NoError(t, err)

	// A reader that loaded the row before the purchase writes its view late.
	require.NoError(t, h.cache.SetBalance(ctx, stale))

	view, err := h.svc.GetBalance(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, domain.MustParseAmount("6.00"), view.Balance)
	assert.EqualValues(t, 1, view.Version)
}

func TestPurchaseInsufficientFundsWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.account(t, "5.00")
	story := h.story(t, "9.00")

	out, err := h.svc.PurchaseContent(ctx, acct, story)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDeclined, out.Status)
	assert.Equal(t, domain.ReasonInsufficientFunds, out.Reason)

	assert.Equal(t, domain.MustParseAmount("5.00"), h.balance(t, acct))
	assert.Zero(t, h.purchaseCount(t, acct))
	assert.Empty(t, h.entries(t, acct))
	assert.Empty(t, h.events.ofType(domain.EventPurchaseCompleted))
}

func TestPurchaseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.account(t, "15.00")
	story := h.story(t, "9.00")

	first, err := h.svc.PurchaseContent(ctx, acct, story)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSuccess, first.Status)

	second, err := h.svc.PurchaseContent(ctx, acct, story)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyOwned, second.Status)
	require.NotNil(t, second.PurchaseID)
	assert.Equal(t, *first.PurchaseID, *second.PurchaseID)

	assert.Equal(t, domain.MustParseAmount("6.00"), h.balance(t, acct))
	assert.Len(t, h.entries(t, acct), 1)
	assert.Equal(t, 1, h.purchaseCount(t, acct))
}

func TestConcurrentPurchaseOfSameContent(t *testing.T) {
	h := newHarness(t)
	acct := h.account(t, "9.00")
	story := h.story(t, "9.00")

	const attempts = 8
	outcomes := make([]*domain.Outcome, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.svc.PurchaseContent(context.Background(), acct, story)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	var success, owned int
	for _, out := range outcomes {
		require.NotNil(t, out)
		switch out.Status {
		case domain.OutcomeSuccess:
			success++
		case domain.OutcomeAlreadyOwned:
			owned++
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, attempts-1, owned)
	assert.Equal(t, domain.Amount(0), h.balance(t, acct))
	assert.Equal(t, 1, h.purchaseCount(t, acct))
	assert.Len(t, h.entries(t, acct), 1)
	h.verify(t, acct)
}

func TestPurchaseLosingUniqueRaceRollsBackDebit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.account(t, "30.00")
	story := h.story(t, "9.00")

	first, err := h.svc.PurchaseContent(ctx, acct, story)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSuccess, first.Status)

	// The second request misses the existing record and reaches the unique index
	// after debiting and appending inside its transaction.
	h.purchases.hideOwnership = true
	second, err := h.svc.PurchaseContent(ctx, acct, story)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyOwned, second.Status)
	require.NotNil(t, second.PurchaseID)
	assert.Equal(t, *first.PurchaseID, *second.PurchaseID)
	require.NotNil(t, second.BalanceAfter)
	assert.Equal(t, domain.MustParseAmount("21.00"), *second.BalanceAfter)

	assert.Equal(t, 2, h.purchases.creates)
	assert.Equal(t, domain.MustParseAmount("21.00"), h.balance(t, acct))
	assert.Len(t, h.entries(t, acct), 1)
	assert.Equal(t, 1, h.purchaseCount(t, acct))
	assert.Len(t, h.events.ofType(domain.EventPurchaseCompleted), 1)
	h.verify(t, acct)
}

func TestConcurrentPurchasesNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	acct := h.account(t, "10.00")
	stories := make([]uuid.UUID, 6)
	for i := range stories {
		stories[i] = h.story(t, "3.00")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[domain.OutcomeStatus]int{}
	)
	for _, story := range stories {
		wg.Add(1)
		go func(story uuid.UUID) {
			defer wg.Done()
			out, err := h.svc.PurchaseContent(context.Background(), acct, story)
			assert.NoError(t, err)
			mu.Lock()
			statuses[out.Status]++
			mu.Unlock()
		}(story)
	}
	wg.Wait()

	assert.Equal(t, 3, statuses[domain.OutcomeSuccess])
	assert.Equal(t, 3, statuses[domain.OutcomeDeclined])
	assert.Equal(t, domain.MustParseAmount("1.00"), h.balance(t, acct))
	assert.Equal(t, 3, h.purchaseCount(t, acct))
	h.verify(t, acct)
}

func TestPurchaseRetriesTransientConflictOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.account(t, "15.00")
	story := h.story(t, "9.00")

	h.purchases.conflicts = 1
	out, err := h.svc.PurchaseContent(ctx, acct, story)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, out.Status)
	assert.Equal(t, 2, h.purchases.creates)
	assert.Equal(t, domain.MustParseAmount("6.00"), h.balance(t, acct))
	assert.Len(t, h.entries(t, acct), 1)
	h.verify(t, acct)
}

func TestPurchaseSurfacesRepeatedTransientConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.account(t, "15.00")
	story := h.story(t, "9.00")

	h.purchases.conflicts = 2
	out, err := h.svc.PurchaseContent(ctx, acct, story)
	require.ErrorIs(t, err, domain.ErrTransientConflict)
	assert.Equal(t, domain.OutcomeError, out.Status)
	assert.Equal(t, 2, h.purchases.creates)
	assert.Equal(t, domain.MustParseAmount("15.00"), h.balance(t, acct))
	assert.Empty(t, h.entries(t, acct))
}

func TestPurchaseUnknownAccountOrContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.account(t, "15.00")
	story := h.story(t, "9.00")

	out, err := h.svc.PurchaseContent(ctx, acct, uuid.New())
	require.ErrorIs(t, err, domain.ErrContentNotFound)
	assert.Equal(t, domain.ReasonContentNotFound, out.Reason)

	out, err = h.svc.PurchaseContent(ctx, uuid.New(), story)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.Equal(t, domain.ReasonAccountNotFound, out.Reason)
}

func TestPurchaseRejectsFreeContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.account(t, "15.00")
	free, err := h.svc.CreateContent(ctx, "Prologue", 0, false)
	require.NoError(t, err)

	_, err = h.svc.PurchaseContent(ctx, acct, free.ID)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, domain.MustParseAmount("15.00"), h.balance(t, acct))
}

func TestHasAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.account(t, "15.00")
	premium := h.story(t, "9.00")
	free, err := h.svc.CreateContent(ctx, "Prologue", 0, false)
	require.NoError(t, err)

	ok, err := h.svc.HasAccess(ctx, acct, free.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.svc.HasAccess(ctx, acct, premium)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.svc.PurchaseContent(ctx, acct, premium)
	require.NoError(t, err)

	ok, err = h.svc.HasAccess(ctx, acct, premium)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.svc.HasAccess(ctx, acct, uuid.New())
	require.ErrorIs(t, err, domain.ErrContentNotFound)
}
