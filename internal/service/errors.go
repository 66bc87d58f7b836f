package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")

	ErrForbidden          = errors.New("forbidden")
	ErrCannotSuspendSelf  = fmt.Errorf("%w: cannot suspend yourself", ErrForbidden)
	ErrCannotSuspendAdmin = fmt.Errorf("%w: only admins can suspend an admin", ErrForbidden)
	ErrAdminOnly          = fmt.Errorf("%w: admin role required", ErrForbidden)

	ErrStateConflict      = errors.New("state conflict")
	ErrNotPendingApproval = fmt.Errorf("%w: user is not pending approval", ErrStateConflict)
	ErrEmailNotPending    = fmt.Errorf("%w: email already verified", ErrStateConflict)
	ErrNotReactivatable   = fmt.Errorf("%w: user is not suspended or rejected", ErrStateConflict)
	ErrUserNotActive      = fmt.Errorf("%w: user is not active", ErrStateConflict)
	ErrAlreadyLinked      = fmt.Errorf("%w: strava account already connected", ErrStateConflict)
	ErrNotLinked          = fmt.Errorf("%w: no strava account connected", ErrStateConflict)

	ErrAlreadyLinkedToAnotherAccount = fmt.Errorf("%w: strava account linked to another member", ErrStateConflict)

	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenNotFound        = fmt.Errorf("%w: not found", ErrInvalidToken)
	ErrTokenExpired         = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrTokenAlreadyUsed     = fmt.Errorf("%w: already used", ErrInvalidToken)
	ErrTokenPurposeMismatch = fmt.Errorf("%w: purpose mismatch", ErrInvalidToken)
	ErrFlowOwnerMismatch    = fmt.Errorf("%w: flow started by another member", ErrInvalidToken)

	ErrExternalProvider    = errors.New("external provider error")
	ErrReconnectRequired   = fmt.Errorf("%w: reconnect required", ErrExternalProvider)
	ErrAuthorizationDenied = fmt.Errorf("%w: authorization denied", ErrExternalProvider)
)

// ValidationError carries per-field messages and matches ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
