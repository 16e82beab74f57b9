package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
)

// PurchaseContent buys content with tokens. Owning the content already is a success with
// status already_owned; a balance that cannot cover the price is a declined outcome. Both
// return a nil error.
func (s *WalletService) PurchaseContent(ctx context.Context, accountID, contentID uuid.UUID) (*domain.Outcome, error) {
	log := s.logger.With("flow", "purchase", "account_id", accountID, "content_id", contentID)

	// 1. Existing ownership short-circuits.
	owned, err := s.purchases.Exists(ctx, nil, accountID, contentID)
	if err != nil {
		return domain.ErrorOutcome(err), err
	}
	if owned {
		log.InfoContext(ctx, "content already owned")
		return s.alreadyOwned(ctx, accountID, contentID)
	}

	// 2. Current price from the catalog.
	item, err := s.content.GetContent(ctx, contentID)
	if err != nil {
		return domain.ErrorOutcome(err), err
	}
	if !item.Price.IsPositive() {
		err := fmt.Errorf("%w: content %s has price %s", domain.ErrInvalidAmount, contentID, item.Price)
		return domain.ErrorOutcome(err), err
	}
	log.InfoContext(ctx, "purchase checked", "price", item.Price)

	// 3. Debit, log and record as one unit.
	var (
		entry        domain.LedgerEntry
		purchase     domain.Purchase
		balanceAfter domain.Amount
	)
	err = s.withRetry(ctx, func(tx *gorm.DB) error {
		purchaseID := uuid.New()
		ref := purchaseID.String()

		after, err := s.balances.ApplyDelta(ctx, tx, accountID, item.Price.Neg())
		if err != nil {
			return err
		}

		entry = domain.LedgerEntry{
			AccountID:   accountID,
			Kind:        domain.KindPurchase,
			Amount:      item.Price,
			Description: fmt.Sprintf("Purchased %q", item.Title),
			Status:      domain.StatusCompleted,
			Ref:         domain.Reference{Kind: domain.KindPurchase, ID: &ref},
		}
		if err := s.ledger.Append(ctx, tx, &entry); err != nil {
			return err
		}

		purchase = domain.Purchase{
			ID:            purchaseID,
			AccountID:     accountID,
			ContentID:     contentID,
			PricePaid:     item.Price,
			TransactionID: entry.ID,
		}
		if err := s.purchases.Create(ctx, tx, &purchase); err != nil {
			return err
		}
		balanceAfter = after
		return nil
	})

	switch {
	case errors.Is(err, domain.ErrDuplicatePurchase):
		log.InfoContext(ctx, "concurrent purchase won by another request; debit rolled back")
		return s.alreadyOwned(ctx, accountID, contentID)
	case errors.Is(err, domain.ErrInsufficientFunds):
		// A concurrent winner may have spent the balance on this same content.
		if owned, checkErr := s.purchases.Exists(ctx, nil, accountID, contentID); checkErr == nil && owned {
			log.InfoContext(ctx, "concurrent purchase won by another request")
			return s.alreadyOwned(ctx, accountID, contentID)
		}
		log.WarnContext(ctx, "purchase declined", "reason", domain.ReasonInsufficientFunds, "price", item.Price)
		return &domain.Outcome{Status: domain.OutcomeDeclined, Reason: domain.ReasonInsufficientFunds}, nil
	case err != nil:
		log.ErrorContext(ctx, "purchase failed", "error", err)
		return domain.ErrorOutcome(err), err
	}

	log.InfoContext(ctx, "purchase completed", "purchase_id", purchase.ID, "transaction_id", entry.ID, "balance_after", balanceAfter)
	s.afterCommit(ctx, domain.WalletEvent{
		Type:          domain.EventPurchaseCompleted,
		AccountID:     accountID,
		TransactionID: entry.ID,
		Amount:        item.Price,
		BalanceAfter:  balanceAfter,
		ContentID:     &contentID,
		PurchaseID:    &purchase.ID,
	})

	return &domain.Outcome{
		Status:        domain.OutcomeSuccess,
		BalanceAfter:  &balanceAfter,
		PurchaseID:    &purchase.ID,
		TransactionID: &entry.ID,
	}, nil
}

func (s *WalletService) alreadyOwned(ctx context.Context, accountID, contentID uuid.UUID) (*domain.Outcome, error) {
	out := &domain.Outcome{Status: domain.OutcomeAlreadyOwned, Reason: domain.ReasonAlreadyOwned}
	if p, err := s.purchases.Find(ctx, accountID, contentID); err == nil {
		out.PurchaseID = &p.ID
		out.TransactionID = &p.TransactionID
	}
	if b, err := s.balances.GetByAccountID(ctx, nil, accountID); err == nil {
		out.BalanceAfter = &b.Balance
	}
	return out, nil
}
