package service

import (
	"klubban/internal/entity"
)

type SignupInput struct {
	Username        string `validate:"required,min=3,max=64"`
	Email           string `validate:"required,email,max=255"`
	DisplayName     string `validate:"max=100"`
	Password        string `validate:"required,min=6,max=72"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
}

type LoginInput struct {
	// Login is a username or an email address.
	Login    string
	Password string
}

// RequestMeta carries request-scoped details recorded with sessions and audit entries.
type RequestMeta struct {
	IPAddress *string
	UserAgent *string
}

type ProfileInput struct {
	DisplayName      *string `validate:"omitempty,max=100"`
	Bio              *string `validate:"omitempty,max=2000"`
	LeaderboardOptIn *bool
}

// LoginOutcome tells the five account states apart after credentials check out.
type LoginOutcome string

const (
	OutcomeLoggedIn        LoginOutcome = "logged_in"
	OutcomeEmailUnverified LoginOutcome = "email_unverified"
	OutcomePendingApproval LoginOutcome = "pending_approval"
	OutcomeRejected        LoginOutcome = "rejected"
	OutcomeSuspended       LoginOutcome = "suspended"
)

func outcomeFor(state entity.UserState) LoginOutcome {
	switch state {
	case entity.UserStateActive:
		return OutcomeLoggedIn
	case entity.UserStatePendingEmailVerification:
		return OutcomeEmailUnverified
	case entity.UserStatePendingApproval:
		return OutcomePendingApproval
	case entity.UserStateRejected:
		return OutcomeRejected
	default:
		return OutcomeSuspended
	}
}

type SessionTokens struct {
	SessionID        string
	AccessToken      string
	ExpiresIn        int64
	RefreshToken     string
	RefreshExpiresIn int64
}

// LoginResult is returned for every state once credentials are valid. Tokens
// is only set when Outcome is OutcomeLoggedIn.
type LoginResult struct {
	Outcome LoginOutcome
	User    *entity.User
	Tokens  *SessionTokens
	// Reason is the rejection or suspension reason, when one was given.
	Reason *string
	// Created is set when a Strava login originated a new account.
	Created bool
}
