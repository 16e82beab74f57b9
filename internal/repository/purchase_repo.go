package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
)

type purchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) domain.PurchaseRepository {
	return &purchaseRepository{db: db}
}

func (r *purchaseRepository) Exists(ctx context.Context, tx *gorm.DB, accountID, contentID uuid.UUID) (bool, error) {
	var count int64
	err := pick(r.db, tx).WithContext(ctx).Model(&domain.Purchase{}).
		Where("account_id = ? AND content_id = ?", accountID, contentID).
		Count(&count).Error
	if err != nil {
		return false, classify("check purchase", err)
	}
	return count > 0, nil
}

func (r *purchaseRepository) Find(ctx context.Context, accountID, contentID uuid.UUID) (*domain.Purchase, error) {
	var purchase domain.Purchase
	err := r.db.WithContext(ctx).First(&purchase, "account_id = ? AND content_id = ?", accountID, contentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, classify("find purchase", err)
	}
	return &purchase, nil
}

// Create fails with ErrDuplicatePurchase when the pair is already owned.
func (r *purchaseRepository) Create(ctx context.Context, tx *gorm.DB, purchase *domain.Purchase) error {
	err := pick(r.db, tx).WithContext(ctx).Create(purchase).Error
	if isUniqueViolation(err) {
		return domain.ErrDuplicatePurchase
	}
	return classify("create purchase", err)
}

func (r *purchaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Purchase, error) {
	var purchase domain.Purchase
	err := r.db.WithContext(ctx).First(&purchase, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, classify("get purchase", err)
	}
	return &purchase, nil
}

func (r *purchaseRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Purchase, error) {
	var purchases []domain.Purchase
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("created_at DESC").Find(&purchases).Error
	if err != nil {
		return nil, classify("list purchases", err)
	}
	return purchases, nil
}
