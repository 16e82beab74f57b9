package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
)

type AddPaymentMethodRequest struct {
	AccountID    uuid.UUID
	PaymentToken string
	CardLastFour string
	CardBrand    string
	MakeDefault  bool
}

// AddPaymentMethod saves a card for the account. The first card saved becomes the default.
func (s *WalletService) AddPaymentMethod(ctx context.Context, req AddPaymentMethodRequest) (*domain.PaymentMethod, error) {
	if s.methods == nil {
		return nil, errNoPaymentMethods
	}
	if _, err := s.balances.GetByAccountID(ctx, nil, req.AccountID); err != nil {
		return nil, err
	}
	existing, err := s.methods.ListByAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	method := &domain.PaymentMethod{
		ID:           uuid.New(),
		AccountID:    req.AccountID,
		PaymentToken: req.PaymentToken,
		CardLastFour: req.CardLastFour,
		CardBrand:    req.CardBrand,
		IsDefault:    req.MakeDefault || len(existing) == 0,
	}
	err = s.balances.WithTx(ctx, func(tx *gorm.DB) error {
		if method.IsDefault {
			if err := s.methods.ClearDefault(ctx, tx, req.AccountID); err != nil {
				return err
			}
		}
		return s.methods.Create(ctx, tx, method)
	})
	if err != nil {
		return nil, fmt.Errorf("add payment method: %w", err)
	}

	s.logger.InfoContext(ctx, "payment method added",
		"account_id", req.AccountID, "payment_method_id", method.ID, "brand", method.CardBrand,
		"last_four", method.CardLastFour, "default", method.IsDefault)
	return method, nil
}

func (s *WalletService) ListPaymentMethods(ctx context.Context, accountID uuid.UUID) ([]domain.PaymentMethod, error) {
	if s.methods == nil {
		return nil, errNoPaymentMethods
	}
	return s.methods.ListByAccount(ctx, accountID)
}

// resolvePaymentMethod finds the account's card a top-up charges. An empty ref selects
// the default card.
func (s *WalletService) resolvePaymentMethod(ctx context.Context, accountID uuid.UUID, ref string) (*domain.PaymentMethod, error) {
	if s.methods == nil {
		return nil, errNoPaymentMethods
	}
	if ref == "" {
		return s.methods.GetDefault(ctx, accountID)
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrPaymentMethodNotFound, ref)
	}
	return s.methods.GetForAccount(ctx, accountID, id)
}
