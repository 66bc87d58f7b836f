package entity

import (
	"time"

	"github.com/google/uuid"
)

type FeedEventKind string

const (
	FeedJoined FeedEventKind = "joined"
)

// FeedEvent is an entry in the club activity feed.
type FeedEvent struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index"`
	User   User      `gorm:"constraint:OnDelete:CASCADE"`

	Kind    FeedEventKind `gorm:"type:varchar(50);not null"`
	Message string        `gorm:"type:varchar(500)"`

	CreatedAt time.Time
}
