package repository

import (
	"context"
	"errors"
	"time"

	"klubban/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LeaderboardEntry struct {
	UserID         uuid.UUID
	Username       string
	DisplayName    string
	TotalDistance  float64
	TotalElevation float64
	RideCount      int
}

type StravaActivityRepository interface {
	Create(ctx context.Context, activity *entity.StravaActivity) error
	FindByStravaID(ctx context.Context, stravaID int64) (*entity.StravaActivity, error)
	UpdateSynced(ctx context.Context, activity *entity.StravaActivity) error
	LatestStartDate(ctx context.Context, userID uuid.UUID) (*time.Time, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]entity.StravaActivity, error)
	ListByUserBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]entity.StravaActivity, error)
	Leaderboard(ctx context.Context, since time.Time, limit int) ([]LeaderboardEntry, error)
}

type stravaActivityRepository struct {
	db *gorm.DB
}

func NewStravaActivityRepository(db *gorm.DB) StravaActivityRepository {
	return &stravaActivityRepository{db: db}
}

func (r *stravaActivityRepository) Create(ctx context.Context, activity *entity.StravaActivity) error {
	return translate(r.db.WithContext(ctx).Omit("User").Create(activity).Error)
}

func (r *stravaActivityRepository) FindByStravaID(ctx context.Context, stravaID int64) (*entity.StravaActivity, error) {
	var activity entity.StravaActivity
	err := r.db.WithContext(ctx).
		Where("strava_id = ?", stravaID).
		First(&activity).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

// UpdateSynced overwrites the fields Strava lets athletes edit after upload.
func (r *stravaActivityRepository) UpdateSynced(ctx context.Context, activity *entity.StravaActivity) error {
	return r.db.WithContext(ctx).
		Model(&entity.StravaActivity{}).
		Where("strava_id = ?", activity.StravaID).
		Updates(map[string]any{
			"name":                 activity.Name,
			"distance_meters":      activity.DistanceMeters,
			"moving_time_seconds":  activity.MovingTimeSeconds,
			"elapsed_time_seconds": activity.ElapsedTimeSeconds,
			"total_elevation_gain": activity.TotalElevationGain,
			"average_speed":        activity.AverageSpeed,
			"max_speed":            activity.MaxSpeed,
			"synced_at":            activity.SyncedAt,
		}).Error
}

func (r *stravaActivityRepository) LatestStartDate(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	var activity entity.StravaActivity
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND start_date IS NOT NULL", userID).
		Order("start_date DESC").
		First(&activity).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return activity.StartDate, nil
}

func (r *stravaActivityRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]entity.StravaActivity, error) {
	var activities []entity.StravaActivity
	query := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("start_date DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&activities).Error; err != nil {
		return nil, err
	}
	return activities, nil
}

func (r *stravaActivityRepository) ListByUserBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]entity.StravaActivity, error) {
	var activities []entity.StravaActivity
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND start_date >= ? AND start_date < ?", userID, from, to).
		Order("start_date ASC").
		Find(&activities).Error
	if err != nil {
		return nil, err
	}
	return activities, nil
}

// Leaderboard sums ride distance per active, opted-in, linked member since the cutoff.
func (r *stravaActivityRepository) Leaderboard(ctx context.Context, since time.Time, limit int) ([]LeaderboardEntry, error) {
	var rows []LeaderboardEntry
	err := r.db.WithContext(ctx).
		Table("strava_activities AS a").
		Select(`u.id AS user_id, u.username, u.display_name,
			SUM(a.distance_meters) AS total_distance,
			SUM(a.total_elevation_gain) AS total_elevation,
			COUNT(a.id) AS ride_count`).
		Joins("JOIN users u ON u.id = a.user_id").
		Joins("JOIN strava_links l ON l.user_id = u.id").
		Where("u.state = ? AND u.leaderboard_opt_in = ?", entity.UserStateActive, true).
		Where("a.activity_type = ? AND a.start_date >= ?", entity.RideType, since).
		Group("u.id, u.username, u.display_name").
		Order("total_distance DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
