package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
)

type paymentMethodRepository struct {
	db *gorm.DB
}

func NewPaymentMethodRepository(db *gorm.DB) domain.PaymentMethodRepository {
	return &paymentMethodRepository{db: db}
}

func (r *paymentMethodRepository) Create(ctx context.Context, tx *gorm.DB, method *domain.PaymentMethod) error {
	return classify("create payment method", pick(r.db, tx).WithContext(ctx).Create(method).Error)
}

func (r *paymentMethodRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.PaymentMethod, error) {
	var methods []domain.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("is_default DESC, created_at").
		Find(&methods).Error
	if err != nil {
		return nil, classify("list payment methods", err)
	}
	return methods, nil
}

func (r *paymentMethodRepository) GetForAccount(ctx context.Context, accountID, id uuid.UUID) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := r.db.WithContext(ctx).First(&method, "id = ? AND account_id = ?", id, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPaymentMethodNotFound
	}
	if err != nil {
		return nil, classify("get payment method", err)
	}
	return &method, nil
}

func (r *paymentMethodRepository) GetDefault(ctx context.Context, accountID uuid.UUID) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := r.db.WithContext(ctx).First(&method, "account_id = ? AND is_default = ?", accountID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPaymentMethodNotFound
	}
	if err != nil {
		return nil, classify("get default payment method", err)
	}
	return &method, nil
}

func (r *paymentMethodRepository) ClearDefault(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) error {
	err := pick(r.db, tx).WithContext(ctx).Model(&domain.PaymentMethod{}).
		Where("account_id = ? AND is_default = ?", accountID, true).
		Update("is_default", false).Error
	return classify("clear default payment method", err)
}
