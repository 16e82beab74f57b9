package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
)

type balanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) domain.BalanceRepository {
	return &balanceRepository{db: db}
}

func (r *balanceRepository) Create(ctx context.Context, tx *gorm.DB, balance *domain.Balance) error {
	return classify("create balance", pick(r.db, tx).WithContext(ctx).Create(balance).Error)
}

func (r *balanceRepository) GetByAccountID(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (*domain.Balance, error) {
	var balance domain.Balance
	err := pick(r.db, tx).WithContext(ctx).First(&balance, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, classify("get balance", err)
	}
	return &balance, nil
}

// ApplyDelta is one conditional UPDATE. The non-negative check runs against the locked row.
func (r *balanceRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, delta domain.Amount) (domain.Amount, error) {
	if tx == nil {
		var out domain.Amount
		err := r.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			out, err = r.ApplyDelta(ctx, tx, accountID, delta)
			return err
		})
		return out, err
	}

	conn := tx.WithContext(ctx)
	res := conn.Model(&domain.Balance{}).
		Where("account_id = ? AND balance_cents + ? >= 0", accountID, delta).
		Updates(map[string]any{
			"balance_cents": gorm.Expr("balance_cents + ?", delta),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, classify("apply balance delta", res.Error)
	}

	if res.RowsAffected == 0 {
		var count int64
		if err := conn.Model(&domain.Balance{}).Where("account_id = ?", accountID).Count(&count).Error; err != nil {
			return 0, classify("check balance", err)
		}
		if count == 0 {
			return 0, domain.ErrAccountNotFound
		}
		return 0, domain.ErrInsufficientFunds
	}

	var balance domain.Balance
	if err := conn.Select("balance_cents").First(&balance, "account_id = ?", accountID).Error; err != nil {
		return 0, classify("read balance", err)
	}
	return balance.Balance, nil
}

func (r *balanceRepository) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return classify("transaction", r.db.WithContext(ctx).Transaction(fn))
}
