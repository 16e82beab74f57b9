package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
)

type TopUpRequest struct {
	AccountID uuid.UUID
	Package   string
	// PaymentMethodRef is the id of one of the account's saved payment methods.
	// Empty selects the default method.
	PaymentMethodRef string
	IdempotencyKey   string
}

// TopUp charges the gateway for a token package and credits the tokens. No transaction is
// open while the gateway is called. A declined charge returns a declined outcome and a nil
// error with nothing written locally, and frees the idempotency key for a retry.
func (s *WalletService) TopUp(ctx context.Context, req TopUpRequest) (*domain.Outcome, error) {
	log := s.logger.With("flow", "top_up", "account_id", req.AccountID, "package", req.Package)

	pkg, err := domain.LookupPackage(req.Package)
	if err != nil {
		return domain.ErrorOutcome(err), err
	}
	if _, err := s.balances.GetByAccountID(ctx, nil, req.AccountID); err != nil {
		return domain.ErrorOutcome(err), err
	}
	method, err := s.resolvePaymentMethod(ctx, req.AccountID, req.PaymentMethodRef)
	if err != nil {
		return domain.ErrorOutcome(err), err
	}
	req.PaymentMethodRef = method.ID.String()
	if s.gateway == nil {
		return domain.ErrorOutcome(errNoGateway), errNoGateway
	}

	var claimedKey string
	if req.IdempotencyKey != "" && s.idempotency != nil {
		key := fmt.Sprintf("topup:%s:%s", req.AccountID, req.IdempotencyKey)
		claimed, err := s.idempotency.Claim(ctx, key, s.opts.IdempotencyTTL)
		if err != nil {
			err = fmt.Errorf("claim idempotency key: %w", err)
			return domain.ErrorOutcome(err), err
		}
		if !claimed {
			log.WarnContext(ctx, "duplicate top-up request", "idempotency_key", req.IdempotencyKey)
			return domain.ErrorOutcome(domain.ErrDuplicateRequest), domain.ErrDuplicateRequest
		}
		claimedKey = key
	}

	// Charging
	log.InfoContext(ctx, "charging", "price", pkg.Price, "currency", s.opts.Currency, "payment_method_id", method.ID)
	chargeCtx, cancel := context.WithTimeout(ctx, s.opts.ChargeTimeout)
	res, chargeErr := s.gateway.Charge(chargeCtx, domain.ChargeRequest{
		AccountID:        req.AccountID,
		Amount:           pkg.Price,
		Currency:         s.opts.Currency,
		PaymentMethodRef: method.PaymentToken,
		IdempotencyKey:   req.IdempotencyKey,
	})
	cancel()

	switch {
	case errors.Is(chargeErr, domain.ErrChargeIndeterminate) || (chargeErr == nil && res != nil && res.Indeterminate):
		var ref string
		if res != nil {
			ref = res.Reference
		}
		err := s.recordIndeterminate(ctx, log, req, pkg, ref, chargeErr)
		return domain.ErrorOutcome(err), err
	case chargeErr != nil:
		log.WarnContext(ctx, "charge failed, treated as declined", "error", chargeErr)
		s.releaseKey(ctx, log, claimedKey)
		return declined(), nil
	case res == nil || !res.Accepted:
		reason := ""
		if res != nil {
			reason = res.Reason
		}
		log.WarnContext(ctx, "charge declined", "gateway_reason", reason)
		s.releaseKey(ctx, log, claimedKey)
		return declined(), nil
	}

	// Crediting. The charge has happened, so the caller going away must not stop the credit.
	log = log.With("gateway_reference", res.Reference)
	log.InfoContext(ctx, "charge accepted, crediting", "tokens", pkg.Tokens)
	creditCtx := context.WithoutCancel(ctx)

	var (
		entry        domain.LedgerEntry
		balanceAfter domain.Amount
	)
	err = s.withRetry(creditCtx, func(tx *gorm.DB) error {
		ref := res.Reference
		after, err := s.balances.ApplyDelta(creditCtx, tx, req.AccountID, pkg.Tokens)
		if err != nil {
			return err
		}
		entry = domain.LedgerEntry{
			AccountID:   req.AccountID,
			Kind:        domain.KindTopUp,
			Amount:      pkg.Tokens,
			Description: fmt.Sprintf("Purchased %s package (%s tokens)", pkg.Name, pkg.Tokens),
			Status:      domain.StatusCompleted,
			Ref:         domain.Reference{Kind: domain.KindTopUp, ID: &ref},
		}
		if err := s.ledger.Append(creditCtx, tx, &entry); err != nil {
			return err
		}
		balanceAfter = after
		return nil
	})
	if err != nil {
		oce := s.recordOrphan(creditCtx, log, req, pkg, res.Reference, err)
		return domain.ErrorOutcome(oce), oce
	}

	log.InfoContext(ctx, "top-up completed", "transaction_id", entry.ID, "balance_after", balanceAfter)
	s.afterCommit(creditCtx, domain.WalletEvent{
		Type:             domain.EventTopUpCompleted,
		AccountID:        req.AccountID,
		TransactionID:    entry.ID,
		Amount:           pkg.Tokens,
		BalanceAfter:     balanceAfter,
		GatewayReference: res.Reference,
	})

	return &domain.Outcome{
		Status:        domain.OutcomeSuccess,
		BalanceAfter:  &balanceAfter,
		TransactionID: &entry.ID,
	}, nil
}

func declined() *domain.Outcome {
	return &domain.Outcome{Status: domain.OutcomeDeclined, Reason: domain.ReasonPaymentDeclined}
}

// releaseKey frees an idempotency key after a charge that did not go through. A key that
// cannot be released only delays a retry until it expires.
func (s *WalletService) releaseKey(ctx context.Context, log *slog.Logger, key string) {
	if key == "" {
		return
	}
	if err := s.idempotency.Release(context.WithoutCancel(ctx), key); err != nil {
		log.WarnContext(ctx, "failed to release idempotency key", "key", key, "error", err)
	}
}

// recordOrphan persists an accepted charge whose credit failed, together with a failed
// audit entry. If even that write fails the details survive in the error log and an
// orphaned_charge event.
func (s *WalletService) recordOrphan(ctx context.Context, log *slog.Logger, req TopUpRequest, pkg domain.TokenPackage, gatewayRef string, cause error) error {
	orphan := &domain.OrphanedCharge{
		ID:               uuid.New(),
		AccountID:        req.AccountID,
		Package:          pkg.Name,
		Tokens:           pkg.Tokens,
		Price:            pkg.Price,
		Currency:         s.opts.Currency,
		PaymentMethodRef: req.PaymentMethodRef,
		GatewayReference: gatewayRef,
		Cause:            cause.Error(),
		State:            domain.OrphanPending,
	}
	oce := &domain.OrphanedChargeError{
		OrphanID:         orphan.ID,
		AccountID:        req.AccountID,
		Package:          pkg.Name,
		Tokens:           pkg.Tokens,
		Price:            pkg.Price,
		GatewayReference: gatewayRef,
		Cause:            cause,
	}

	err := s.balances.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orphans.Create(ctx, tx, orphan); err != nil {
			return err
		}
		ref := orphan.ID.String()
		return s.ledger.Append(ctx, tx, &domain.LedgerEntry{
			AccountID:   req.AccountID,
			Kind:        domain.KindTopUp,
			Amount:      pkg.Tokens,
			Description: fmt.Sprintf("Credit failed for %s package, charge %s", pkg.Name, gatewayRef),
			Status:      domain.StatusFailed,
			Ref:         domain.Reference{Kind: domain.KindTopUp, ID: &ref},
		})
	})

	attrs := []any{
		"orphan_id", orphan.ID, "tokens", pkg.Tokens, "price", pkg.Price,
		"currency", s.opts.Currency, "cause", cause,
	}
	if err != nil {
		log.ErrorContext(ctx, "orphaned charge could not be recorded", append(attrs, "record_error", err)...)
		s.publish(ctx, domain.WalletEvent{
			Type:             domain.EventOrphanedCharge,
			AccountID:        req.AccountID,
			Amount:           pkg.Tokens,
			GatewayReference: gatewayRef,
		})
		return oce
	}
	log.ErrorContext(ctx, "orphaned charge recorded", attrs...)
	return oce
}

// recordIndeterminate flags a charge whose outcome is unknown. No tokens are credited.
func (s *WalletService) recordIndeterminate(ctx context.Context, log *slog.Logger, req TopUpRequest, pkg domain.TokenPackage, gatewayRef string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	causeText := "gateway reported indeterminate outcome"
	if cause != nil {
		causeText = cause.Error()
	}
	orphan := &domain.OrphanedCharge{
		ID:               uuid.New(),
		AccountID:        req.AccountID,
		Package:          pkg.Name,
		Tokens:           pkg.Tokens,
		Price:            pkg.Price,
		Currency:         s.opts.Currency,
		PaymentMethodRef: req.PaymentMethodRef,
		GatewayReference: gatewayRef,
		Cause:            causeText,
		State:            domain.OrphanIndeterminate,
	}
	if err := s.orphans.Create(ctx, nil, orphan); err != nil {
		log.ErrorContext(ctx, "indeterminate charge could not be recorded",
			"price", pkg.Price, "gateway_reference", gatewayRef, "cause", causeText, "record_error", err)
		s.publish(ctx, domain.WalletEvent{
			Type:             domain.EventOrphanedCharge,
			AccountID:        req.AccountID,
			Amount:           pkg.Tokens,
			GatewayReference: gatewayRef,
		})
	} else {
		log.ErrorContext(ctx, "charge outcome indeterminate, flagged for reconciliation",
			"orphan_id", orphan.ID, "price", pkg.Price, "gateway_reference", gatewayRef, "cause", causeText)
	}
	return fmt.Errorf("top-up for account %s (charge record %s): %w", req.AccountID, orphan.ID, domain.ErrChargeIndeterminate)
}
