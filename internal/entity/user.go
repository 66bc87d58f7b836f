package entity

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleUser      UserRole = "user"
	UserRoleModerator UserRole = "moderator"
	UserRoleAdmin     UserRole = "admin"
)

func ParseUserRole(value string) (UserRole, error) {
	switch role := UserRole(value); role {
	case UserRoleUser, UserRoleModerator, UserRoleAdmin:
		return role, nil
	}
	return "", fmt.Errorf("unknown user role %q", value)
}

func (r *UserRole) Scan(value any) error {
	raw, err := scanString(value)
	if err != nil {
		return err
	}
	parsed, err := ParseUserRole(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r UserRole) Value() (driver.Value, error) {
	if _, err := ParseUserRole(string(r)); err != nil {
		return nil, err
	}
	return string(r), nil
}

type UserState string

const (
	UserStatePendingEmailVerification UserState = "pending_email_verification"
	UserStatePendingApproval          UserState = "pending_approval"
	UserStateActive                   UserState = "active"
	UserStateRejected                 UserState = "rejected"
	UserStateSuspended                UserState = "suspended"
)

func ParseUserState(value string) (UserState, error) {
	switch state := UserState(value); state {
	case UserStatePendingEmailVerification, UserStatePendingApproval, UserStateActive, UserStateRejected, UserStateSuspended:
		return state, nil
	}
	return "", fmt.Errorf("unknown user state %q", value)
}

func (s *UserState) Scan(value any) error {
	raw, err := scanString(value)
	if err != nil {
		return err
	}
	parsed, err := ParseUserState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s UserState) Value() (driver.Value, error) {
	if _, err := ParseUserState(string(s)); err != nil {
		return nil, err
	}
	return string(s), nil
}

// transitions lists every legal lifecycle edge. Rejected is only left through reactivation.
var transitions = map[UserState][]UserState{
	UserStatePendingEmailVerification: {UserStatePendingApproval},
	UserStatePendingApproval:          {UserStateActive, UserStateRejected},
	UserStateActive:                   {UserStateSuspended},
	UserStateSuspended:                {UserStateActive},
	UserStateRejected:                 {UserStateActive},
}

func CanTransition(from, to UserState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash *string   `gorm:"type:text"`
	DisplayName  string    `gorm:"type:varchar(100)"`
	Bio          string    `gorm:"type:text"`
	AvatarURL    *string   `gorm:"type:varchar(256)"`

	Role  UserRole  `gorm:"type:varchar(20);default:'user';not null"`
	State UserState `gorm:"type:varchar(50);default:'pending_email_verification';not null;index"`

	EmailVerifiedAt *time.Time
	ApprovedAt      *time.Time
	ApprovedByID    *uuid.UUID `gorm:"type:uuid"`
	RejectionReason *string    `gorm:"type:text"`
	SuspendedReason *string    `gorm:"type:text"`

	LeaderboardOptIn bool `gorm:"default:false;not null"`
	LastSeenAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Sessions   []Session
	StravaLink *StravaLink
}

func (u *User) IsActive() bool {
	return u.State == UserStateActive
}

// HasAdminAccess covers both moderators and admins.
func (u *User) HasAdminAccess() bool {
	return u.Role == UserRoleAdmin || u.Role == UserRoleModerator
}

func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func scanString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("unexpected NULL value")
	default:
		return "", fmt.Errorf("unsupported type %T", value)
	}
}
