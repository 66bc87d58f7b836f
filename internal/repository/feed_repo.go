package repository

import (
	"context"

	"klubban/internal/entity"

	"gorm.io/gorm"
)

type FeedRepository interface {
	Create(ctx context.Context, event *entity.FeedEvent) error
	ListRecent(ctx context.Context, limit int) ([]entity.FeedEvent, error)
}

type feedRepository struct {
	db *gorm.DB
}

func NewFeedRepository(db *gorm.DB) FeedRepository {
	return &feedRepository{db: db}
}

func (r *feedRepository) Create(ctx context.Context, event *entity.FeedEvent) error {
	return r.db.WithContext(ctx).Omit("User").Create(event).Error
}

func (r *feedRepository) ListRecent(ctx context.Context, limit int) ([]entity.FeedEvent, error) {
	var events []entity.FeedEvent
	query := r.db.WithContext(ctx).Preload("User").Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
