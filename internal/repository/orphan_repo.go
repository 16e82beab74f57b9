package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
)

type orphanRepository struct {
	db *gorm.DB
}

func NewOrphanRepository(db *gorm.DB) domain.OrphanRepository {
	return &orphanRepository{db: db}
}

func (r *orphanRepository) Create(ctx context.Context, tx *gorm.DB, orphan *domain.OrphanedCharge) error {
	return classify("create orphaned charge", pick(r.db, tx).WithContext(ctx).Create(orphan).Error)
}

func (r *orphanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.OrphanedCharge, error) {
	var orphan domain.OrphanedCharge
	err := r.db.WithContext(ctx).First(&orphan, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrphanNotFound
	}
	if err != nil {
		return nil, classify("get orphaned charge", err)
	}
	return &orphan, nil
}

// ListByState returns the oldest records first. limit <= 0 means no limit.
func (r *orphanRepository) ListByState(ctx context.Context, state domain.OrphanState, limit int) ([]domain.OrphanedCharge, error) {
	var orphans []domain.OrphanedCharge
	q := r.db.WithContext(ctx).Where("state = ?", state).Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&orphans).Error; err != nil {
		return nil, classify("list orphaned charges", err)
	}
	return orphans, nil
}

func (r *orphanRepository) Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to domain.OrphanState, entryID *uint64) error {
	updates := map[string]any{"state": to}
	if to == domain.OrphanResolved || to == domain.OrphanVoided {
		updates["resolved_at"] = time.Now().UTC()
	}
	if entryID != nil {
		updates["ledger_entry_id"] = *entryID
	}

	conn := pick(r.db, tx).WithContext(ctx)
	res := conn.Model(&domain.OrphanedCharge{}).Where("id = ? AND state = ?", id, from).Updates(updates)
	if res.Error != nil {
		return classify("transition orphaned charge", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := conn.Model(&domain.OrphanedCharge{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return classify("check orphaned charge", err)
		}
		if count == 0 {
			return domain.ErrOrphanNotFound
		}
		return domain.ErrOrphanStateChanged
	}
	return nil
}
