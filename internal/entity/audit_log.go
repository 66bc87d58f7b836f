package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AuditAction string

const (
	AuditLoginSuccess       AuditAction = "login_success"
	AuditLoginFailed        AuditAction = "login_failed"
	AuditLoginBlocked       AuditAction = "login_blocked"
	AuditLogout             AuditAction = "logout"
	AuditSignup             AuditAction = "signup"
	AuditEmailVerified      AuditAction = "email_verified"
	AuditApproved           AuditAction = "approved"
	AuditRejected           AuditAction = "rejected"
	AuditSuspended          AuditAction = "suspended"
	AuditReactivated        AuditAction = "reactivated"
	AuditRoleChanged        AuditAction = "role_changed"
	AuditStravaConnected    AuditAction = "strava_connected"
	AuditStravaDisconnected AuditAction = "strava_disconnected"
	AuditStravaSignup       AuditAction = "strava_signup"
	AuditSessionsRevoked    AuditAction = "sessions_revoked"
)

type AuditLog struct {
	ID uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`

	// ActorID is who performed the action; nil for anonymous requests.
	ActorID *uuid.UUID `gorm:"type:uuid;index"`
	// SubjectID is the account the action applied to.
	SubjectID *uuid.UUID `gorm:"type:uuid;index"`

	IPAddress *string     `gorm:"type:varchar(45)"`
	Action    AuditAction `gorm:"type:varchar(40);not null"`

	Metadata datatypes.JSON

	CreatedAt time.Time
}
