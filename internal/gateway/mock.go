package gateway

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"token-wallet/internal/domain"
)

// Mock is an in-process gateway. With no Simulate* switch set it accepts a SuccessRate
// fraction of charges at random.
type Mock struct {
	logger *slog.Logger

	SuccessRate           float64
	SimulateDecline       bool
	SimulateIndeterminate bool
	Delay                 time.Duration

	mu    sync.Mutex
	calls []domain.ChargeRequest
}

func NewMock(logger *slog.Logger, successRate float64) *Mock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mock{
		logger:      logger.With("adapter", "mock_payment_gateway"),
		SuccessRate: successRate,
	}
}

func (m *Mock) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "charge requested", "account_id", req.AccountID, "amount", req.Amount, "currency", req.Currency)

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.SimulateIndeterminate {
		m.logger.WarnContext(ctx, "simulated indeterminate charge", "account_id", req.AccountID)
		return &domain.ChargeResult{Reference: "mock_ch_" + uuid.NewString(), Indeterminate: true}, nil
	}
	if m.SimulateDecline || rand.Float64() >= m.SuccessRate {
		m.logger.WarnContext(ctx, "charge declined", "account_id", req.AccountID)
		return &domain.ChargeResult{Accepted: false, Reason: "card_declined"}, nil
	}

	ref := "mock_ch_" + uuid.NewString()
	m.logger.InfoContext(ctx, "charge accepted", "account_id", req.AccountID, "reference", ref)
	return &domain.ChargeResult{Accepted: true, Reference: ref}, nil
}

// Calls returns every request the mock has seen.
func (m *Mock) Calls() []domain.ChargeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChargeRequest, len(m.calls))
	copy(out, m.calls)
	return out
}
