package repository

import (
	"context"
	"errors"
	"time"

	"klubban/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OAuthFlowStateRepository interface {
	Create(ctx context.Context, state *entity.OAuthFlowState) error
	FindByHash(ctx context.Context, stateHash string) (*entity.OAuthFlowState, error)
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type oauthFlowStateRepository struct {
	db *gorm.DB
}

func NewOAuthFlowStateRepository(db *gorm.DB) OAuthFlowStateRepository {
	return &oauthFlowStateRepository{db: db}
}

func (r *oauthFlowStateRepository) Create(ctx context.Context, s *entity.OAuthFlowState) error {
	return translate(r.db.WithContext(ctx).Create(s).Error)
}

func (r *oauthFlowStateRepository) FindByHash(ctx context.Context, stateHash string) (*entity.OAuthFlowState, error) {
	var state entity.OAuthFlowState
	err := r.db.WithContext(ctx).
		Where("state_hash = ?", stateHash).
		First(&state).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *oauthFlowStateRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&entity.OAuthFlowState{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *oauthFlowStateRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&entity.OAuthFlowState{})
	return result.RowsAffected, result.Error
}
