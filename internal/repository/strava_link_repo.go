package repository

import (
	"context"
	"errors"
	"time"

	"klubban/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type StravaLinkRepository interface {
	Create(ctx context.Context, link *entity.StravaLink) error
	FindByUserID(ctx context.Context, userID uuid.UUID) (*entity.StravaLink, error)
	FindByAthleteID(ctx context.Context, athleteID int64) (*entity.StravaLink, error)
	UpdateTokens(ctx context.Context, link *entity.StravaLink) error
	// DeleteWithActivities removes the link and the user's synced activities.
	// The user row itself is untouched.
	DeleteWithActivities(ctx context.Context, userID uuid.UUID) error
}

type stravaLinkRepository struct {
	db *gorm.DB
}

func NewStravaLinkRepository(db *gorm.DB) StravaLinkRepository {
	return &stravaLinkRepository{db: db}
}

func (r *stravaLinkRepository) Create(ctx context.Context, link *entity.StravaLink) error {
	return translate(r.db.WithContext(ctx).Create(link).Error)
}

func (r *stravaLinkRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*entity.StravaLink, error) {
	return r.first(ctx, "user_id = ?", userID)
}

func (r *stravaLinkRepository) FindByAthleteID(ctx context.Context, athleteID int64) (*entity.StravaLink, error) {
	return r.first(ctx, "athlete_id = ?", athleteID)
}

func (r *stravaLinkRepository) first(ctx context.Context, query string, args ...any) (*entity.StravaLink, error) {
	var link entity.StravaLink
	err := r.db.WithContext(ctx).Where(query, args...).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *stravaLinkRepository) UpdateTokens(ctx context.Context, link *entity.StravaLink) error {
	return r.db.WithContext(ctx).
		Model(&entity.StravaLink{}).
		Where("id = ?", link.ID).
		Updates(map[string]any{
			"access_token":  link.AccessToken,
			"refresh_token": link.RefreshToken,
			"expires_at":    link.ExpiresAt,
			"updated_at":    time.Now(),
		}).Error
}

func (r *stravaLinkRepository) DeleteWithActivities(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&entity.StravaActivity{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&entity.StravaLink{}).Error
	})
}
