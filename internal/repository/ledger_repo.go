package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
)

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) domain.LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Append(ctx context.Context, tx *gorm.DB, entry *domain.LedgerEntry) error {
	if !entry.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	return classify("append ledger entry", pick(r.db, tx).WithContext(ctx).Create(entry).Error)
}

// ListByAccount returns entries newest first along with the total count.
func (r *ledgerRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]domain.LedgerEntry, int64, error) {
	var (
		entries []domain.LedgerEntry
		total   int64
	)
	q := r.db.WithContext(ctx).Model(&domain.LedgerEntry{}).Where("account_id = ?", accountID).Session(&gorm.Session{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify("count ledger entries", err)
	}
	if err := q.Order("id DESC").Offset(offset).Limit(limit).Find(&entries).Error; err != nil {
		return nil, 0, classify("list ledger entries", err)
	}
	return entries, total, nil
}

func (r *ledgerRepository) Totals(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (map[domain.EntryKind]domain.Amount, error) {
	var rows []struct {
		Kind  domain.EntryKind
		Total int64
	}
	err := pick(r.db, tx).WithContext(ctx).Model(&domain.LedgerEntry{}).
		Select("kind, COALESCE(SUM(amount_cents), 0) AS total").
		Where("account_id = ? AND status = ?", accountID, domain.StatusCompleted).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, classify("sum ledger entries", err)
	}

	totals := make(map[domain.EntryKind]domain.Amount, len(rows))
	for _, row := range rows {
		totals[row.Kind] = domain.Amount(row.Total)
	}
	return totals, nil
}
