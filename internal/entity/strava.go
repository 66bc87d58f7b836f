package entity

import (
	"time"

	"github.com/google/uuid"
)

// RideType is the only activity type admitted into aggregates and leaderboards.
const RideType = "Ride"

type StravaLink struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`

	AthleteID    int64  `gorm:"uniqueIndex;not null"`
	AccessToken  string `gorm:"type:varchar(256);not null"`
	RefreshToken string `gorm:"type:varchar(256);not null"`
	ExpiresAt    int64  `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NeedsRefresh reports whether the access token is expired or within five minutes of it.
func (l *StravaLink) NeedsRefresh(now time.Time) bool {
	return now.Unix() > l.ExpiresAt-300
}

type StravaActivity struct {
	ID       uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	StravaID int64     `gorm:"uniqueIndex;not null"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index:idx_strava_activities_user_start,priority:1"`
	User     User      `gorm:"constraint:OnDelete:CASCADE"`

	Name               string  `gorm:"type:varchar(256)"`
	ActivityType       string  `gorm:"type:varchar(50)"`
	DistanceMeters     float64 `gorm:"default:0"`
	MovingTimeSeconds  int     `gorm:"default:0"`
	ElapsedTimeSeconds int     `gorm:"default:0"`
	TotalElevationGain float64 `gorm:"default:0"`

	StartDate      *time.Time `gorm:"index:idx_strava_activities_user_start,priority:2"`
	StartDateLocal *time.Time

	AverageSpeed *float64
	MaxSpeed     *float64

	SyncedAt time.Time
}
