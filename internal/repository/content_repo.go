package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-wallet/internal/domain"
)

type contentRepository struct {
	db *gorm.DB
}

func NewContentRepository(db *gorm.DB) domain.ContentRepository {
	return &contentRepository{db: db}
}

func (r *contentRepository) GetContent(ctx context.Context, id uuid.UUID) (*domain.Content, error) {
	var content domain.Content
	err := r.db.WithContext(ctx).First(&content, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrContentNotFound
	}
	if err != nil {
		return nil, classify("get content", err)
	}
	return &content, nil
}

func (r *contentRepository) Create(ctx context.Context, content *domain.Content) error {
	return classify("create content", r.db.WithContext(ctx).Create(content).Error)
}

func (r *contentRepository) List(ctx context.Context) ([]domain.Content, error) {
	var items []domain.Content
	if err := r.db.WithContext(ctx).Order("created_at").Find(&items).Error; err != nil {
		return nil, classify("list content", err)
	}
	return items, nil
}
