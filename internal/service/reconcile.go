package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
)

type ReconcileReport struct {
	Credited int `json:"credited"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// ReconcileOrphanedCharges credits pending orphaned charges, oldest first. Each charge is
// credited at most once; a record already taken by another reconciler is skipped.
func (s *WalletService) ReconcileOrphanedCharges(ctx context.Context, limit int) (*ReconcileReport, error) {
	pending, err := s.orphans.ListByState(ctx, domain.OrphanPending, limit)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	for i := range pending {
		o := &pending[i]
		_, err := s.creditOrphan(ctx, o)
		switch {
		case err == nil:
			report.Credited++
		case errors.Is(err, domain.ErrOrphanStateChanged):
			report.Skipped++
		default:
			report.Failed++
			s.logger.ErrorContext(ctx, "reconciliation credit failed",
				"orphan_id", o.ID, "account_id", o.AccountID, "tokens", o.Tokens, "gateway_reference", o.GatewayReference, "error", err)
		}
	}
	if len(pending) > 0 {
		s.logger.InfoContext(ctx, "reconciliation pass finished",
			"credited", report.Credited, "skipped", report.Skipped, "failed", report.Failed)
	}
	return report, nil
}

func (s *WalletService) creditOrphan(ctx context.Context, o *domain.OrphanedCharge) (*domain.LedgerEntry, error) {
	var (
		entry        domain.LedgerEntry
		balanceAfter domain.Amount
	)
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		ref := o.GatewayReference
		after, err := s.balances.ApplyDelta(ctx, tx, o.AccountID, o.Tokens)
		if err != nil {
			return err
		}
		entry = domain.LedgerEntry{
			AccountID:   o.AccountID,
			Kind:        domain.KindTopUp,
			Amount:      o.Tokens,
			Description: fmt.Sprintf("Reconciled %s package, charge %s", o.Package, o.GatewayReference),
			Status:      domain.StatusCompleted,
			Ref:         domain.Reference{Kind: domain.KindTopUp, ID: &ref},
		}
		if err := s.ledger.Append(ctx, tx, &entry); err != nil {
			return err
		}
		balanceAfter = after
		return s.orphans.Transition(ctx, tx, o.ID, domain.OrphanPending, domain.OrphanResolved, &entry.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "orphaned charge credited",
		"orphan_id", o.ID, "account_id", o.AccountID, "transaction_id", entry.ID, "balance_after", balanceAfter)
	s.afterCommit(ctx, domain.WalletEvent{
		Type:             domain.EventTopUpCompleted,
		AccountID:        o.AccountID,
		TransactionID:    entry.ID,
		Amount:           o.Tokens,
		BalanceAfter:     balanceAfter,
		GatewayReference: o.GatewayReference,
	})
	return &entry, nil
}

// SettleIndeterminate records an operator's finding for a charge whose outcome was unknown.
// A confirmed charge is credited; otherwise the record is voided.
func (s *WalletService) SettleIndeterminate(ctx context.Context, id uuid.UUID, charged bool) (*domain.OrphanedCharge, error) {
	if !charged {
		if err := s.orphans.Transition(ctx, nil, id, domain.OrphanIndeterminate, domain.OrphanVoided, nil); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "indeterminate charge voided", "orphan_id", id)
		return s.orphans.GetByID(ctx, id)
	}

	if err := s.orphans.Transition(ctx, nil, id, domain.OrphanIndeterminate, domain.OrphanPending, nil); err != nil {
		return nil, err
	}
	o, err := s.orphans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.creditOrphan(ctx, o); err != nil {
		// Left pending; the next reconciliation pass retries it.
		return o, err
	}
	return s.orphans.GetByID(ctx, id)
}

func (s *WalletService) ListOrphanedCharges(ctx context.Context, state domain.OrphanState, limit int) ([]domain.OrphanedCharge, error) {
	return s.orphans.ListByState(ctx, state, limit)
}

// VerifyAccount checks balance == opening + completed top-ups - completed purchases
// against one consistent snapshot.
func (s *WalletService) VerifyAccount(ctx context.Context, accountID uuid.UUID) (*domain.Reconciliation, error) {
	var rec domain.Reconciliation
	err := s.balances.WithTx(ctx, func(tx *gorm.DB) error {
		balance, err := s.balances.GetByAccountID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		totals, err := s.ledger.Totals(ctx, tx, accountID)
		if err != nil {
			return err
		}
		rec = domain.Reconciliation{
			AccountID: accountID,
			Opening:   balance.Opening,
			Credits:   totals[domain.KindTopUp],
			Debits:    totals[domain.KindPurchase],
			Actual:    balance.Balance,
		}
		rec.Expected = rec.Opening + rec.Credits - rec.Debits
		rec.Balanced = rec.Expected == rec.Actual
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !rec.Balanced {
		s.logger.ErrorContext(ctx, "balance does not match transaction log",
			"account_id", accountID, "expected", rec.Expected, "actual", rec.Actual)
	}
	return &rec, nil
}

// RunReconciler runs ReconcileOrphanedCharges every interval until ctx is done.
func (s *WalletService) RunReconciler(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReconcileOrphanedCharges(ctx, batch); err != nil {
				s.logger.ErrorContext(ctx, "reconciliation pass failed", "error", err)
			}
		}
	}
}
