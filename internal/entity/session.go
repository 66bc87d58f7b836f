package entity

import (
	"time"

	"github.com/google/uuid"
)

type LoginMethod string

const (
	LoginPassword LoginMethod = "password"
	LoginStrava   LoginMethod = "strava"
)

// Session is a refresh-token session. Only active members ever get one.
type Session struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index"`
	User   User      `gorm:"constraint:OnDelete:CASCADE"`

	TokenHash string      `gorm:"type:text;not null;uniqueIndex"`
	Method    LoginMethod `gorm:"type:varchar(20);not null"`

	IPAddress *string `gorm:"type:varchar(45)"`
	UserAgent *string `gorm:"type:text"`

	ExpiresAt time.Time
	RevokedAt *time.Time

	CreatedAt time.Time
}
