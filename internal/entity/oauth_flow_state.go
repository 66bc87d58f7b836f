package entity

import (
	"time"

	"github.com/google/uuid"
)

type FlowPurpose string

const (
	FlowLogin   FlowPurpose = "login"
	FlowConnect FlowPurpose = "connect"
)

// OAuthFlowState binds one OAuth redirect round-trip to where it started.
// UserID is nil for login/signup flows.
type OAuthFlowState struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	StateHash string     `gorm:"type:text;not null;uniqueIndex"`
	UserID    *uuid.UUID `gorm:"type:uuid;index"`
	User      *User      `gorm:"constraint:OnDelete:CASCADE"`

	Purpose FlowPurpose `gorm:"type:varchar(20);not null"`

	ExpiresAt time.Time
	UsedAt    *time.Time

	CreatedAt time.Time
}

func (s *OAuthFlowState) IsValid(now time.Time) bool {
	return s.UsedAt == nil && now.Before(s.ExpiresAt)
}
