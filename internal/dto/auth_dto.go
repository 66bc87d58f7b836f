package dto

import (
	"time"

	"klubban/internal/entity"
)

// SignupRequest is validated by the account service so field errors come
// back in one shape.
type SignupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	DisplayName     string `json:"display_name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type LoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse always carries an outcome. Tokens are only present for
// logged_in; the refresh token travels in a cookie.
type LoginResponse struct {
	Outcome     string        `json:"outcome"`
	Message     string        `json:"message,omitempty"`
	Reason      *string       `json:"reason,omitempty"`
	Created     bool          `json:"created,omitempty"`
	AccessToken string        `json:"access_token,omitempty"`
	ExpiresIn   int64         `json:"expires_in,omitempty"`
	User        *UserResponse `json:"user,omitempty"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type UpdateProfileRequest struct {
	DisplayName      *string `json:"display_name" validate:"omitempty,max=100"`
	Bio              *string `json:"bio" validate:"omitempty,max=2000"`
	LeaderboardOptIn *bool   `json:"leaderboard_opt_in"`
}

type UserResponse struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	DisplayName      string     `json:"display_name"`
	Bio              string     `json:"bio,omitempty"`
	AvatarURL        *string    `json:"avatar_url,omitempty"`
	Role             string     `json:"role"`
	State            string     `json:"state"`
	EmailVerifiedAt  *time.Time `json:"email_verified_at,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	RejectionReason  *string    `json:"rejection_reason,omitempty"`
	SuspendedReason  *string    `json:"suspended_reason,omitempty"`
	LeaderboardOptIn bool       `json:"leaderboard_opt_in"`
	StravaConnected  bool       `json:"strava_connected"`
	LastSeenAt       *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func UserResponseFromEntity(user *entity.User) UserResponse {
	return UserResponse{
		ID:               user.ID.String(),
		Username:         user.Username,
		Email:            user.Email,
		DisplayName:      user.DisplayName,
		Bio:              user.Bio,
		AvatarURL:        user.AvatarURL,
		Role:             string(user.Role),
		State:            string(user.State),
		EmailVerifiedAt:  user.EmailVerifiedAt,
		ApprovedAt:       user.ApprovedAt,
		RejectionReason:  user.RejectionReason,
		SuspendedReason:  user.SuspendedReason,
		LeaderboardOptIn: user.LeaderboardOptIn,
		StravaConnected:  user.StravaLink != nil,
		LastSeenAt:       user.LastSeenAt,
		CreatedAt:        user.CreatedAt,
		UpdatedAt:        user.UpdatedAt,
	}
}

func UserResponsesFromEntities(users []entity.User) []UserResponse {
	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, UserResponseFromEntity(&users[i]))
	}
	return responses
}

// PublicUserResponse is the member view other members see.
type PublicUserResponse struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func PublicUserFromEntity(user *entity.User) PublicUserResponse {
	return PublicUserResponse{
		Username:    user.Username,
		DisplayName: user.Name(),
		Bio:         user.Bio,
		AvatarURL:   user.AvatarURL,
		CreatedAt:   user.CreatedAt,
	}
}
