package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"klubban/internal/entity"
	"klubban/internal/metrics"
	"klubban/internal/repository"
	"klubban/internal/utils"

	"github.com/google/uuid"
)

const tokenBytes = 32

// TokenIssuer issues and consumes single-use email verification tokens and
// OAuth flow states. Only SHA-256 hashes are persisted.
type TokenIssuer struct {
	verifications repository.VerificationTokenRepository
	flowStates    repository.OAuthFlowStateRepository
	clock         Clock
}

func NewTokenIssuer(
	verifications repository.VerificationTokenRepository,
	flowStates repository.OAuthFlowStateRepository,
	clock Clock,
) *TokenIssuer {
	return &TokenIssuer{
		verifications: verifications,
		flowStates:    flowStates,
		clock:         clock,
	}
}

func (t *TokenIssuer) IssueVerification(ctx context.Context, userID uuid.UUID, purpose entity.VerificationType, ttl time.Duration) (string, error) {
	raw, err := utils.GenerateRandomToken(tokenBytes)
	if err != nil {
		return "", err
	}
	token := &entity.VerificationToken{
		UserID:    userID,
		TokenHash: utils.HashToken(raw),
		Type:      purpose,
		ExpiresAt: t.now().Add(ttl),
	}
	if err := t.verifications.Create(ctx, token); err != nil {
		return "", err
	}
	return raw, nil
}

// ConsumeVerification marks the token used and returns its owner. Checks run
// in order: unknown, already used, expired, wrong purpose. A purpose mismatch
// leaves the token untouched.
func (t *TokenIssuer) ConsumeVerification(ctx context.Context, raw string, purpose entity.VerificationType) (uuid.UUID, error) {
	userID, err := t.consumeVerification(ctx, raw, purpose)
	metrics.TokenConsumes.WithLabelValues("verification", consumeResult(err)).Inc()
	return userID, err
}

func (t *TokenIssuer) consumeVerification(ctx context.Context, raw string, purpose entity.VerificationType) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, ErrTokenNotFound
	}
	token, err := t.verifications.FindByHash(ctx, utils.HashToken(raw))
	if err != nil {
		return uuid.Nil, err
	}
	if token == nil {
		return uuid.Nil, ErrTokenNotFound
	}

	now := t.now()
	if err := checkValidity(token.UsedAt, token.ExpiresAt, now); err != nil {
		return uuid.Nil, err
	}
	if token.Type != purpose {
		return uuid.Nil, ErrTokenPurposeMismatch
	}

	if err := t.verifications.MarkUsed(ctx, token.ID, now); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return uuid.Nil, ErrTokenAlreadyUsed
		}
		return uuid.Nil, err
	}
	return token.UserID, nil
}

func (t *TokenIssuer) IssueFlowState(ctx context.Context, purpose entity.FlowPurpose, owner *uuid.UUID, ttl time.Duration) (string, error) {
	raw, err := utils.GenerateRandomToken(tokenBytes)
	if err != nil {
		return "", err
	}
	state := &entity.OAuthFlowState{
		StateHash: utils.HashToken(raw),
		UserID:    owner,
		Purpose:   purpose,
		ExpiresAt: t.now().Add(ttl),
	}
	if err := t.flowStates.Create(ctx, state); err != nil {
		return "", err
	}
	return raw, nil
}

// ConsumeFlowState validates and marks a flow state used. When the state has
// an owner, caller must be that owner; the check happens before the state is
// consumed so a foreign caller cannot burn someone else's flow.
func (t *TokenIssuer) ConsumeFlowState(ctx context.Context, raw string, purpose entity.FlowPurpose, caller *uuid.UUID) (*entity.OAuthFlowState, error) {
	state, err := t.consumeFlowState(ctx, raw, purpose, caller)
	metrics.TokenConsumes.WithLabelValues("flow_state", consumeResult(err)).Inc()
	return state, err
}

func (t *TokenIssuer) consumeFlowState(ctx context.Context, raw string, purpose entity.FlowPurpose, caller *uuid.UUID) (*entity.OAuthFlowState, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrTokenNotFound
	}
	state, err := t.flowStates.FindByHash(ctx, utils.HashToken(raw))
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrTokenNotFound
	}

	now := t.now()
	if err := checkValidity(state.UsedAt, state.ExpiresAt, now); err != nil {
		return nil, err
	}
	if state.Purpose != purpose {
		return nil, ErrTokenPurposeMismatch
	}
	if state.UserID != nil && (caller == nil || *caller != *state.UserID) {
		return nil, ErrFlowOwnerMismatch
	}

	if err := t.flowStates.MarkUsed(ctx, state.ID, now); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, ErrTokenAlreadyUsed
		}
		return nil, err
	}
	state.UsedAt = &now
	return state, nil
}

// PurgeExpiredFlowStates removes flow states that can no longer be consumed.
func (t *TokenIssuer) PurgeExpiredFlowStates(ctx context.Context) (int64, error) {
	return t.flowStates.DeleteExpired(ctx, t.now())
}

func checkValidity(usedAt *time.Time, expiresAt time.Time, now time.Time) error {
	if usedAt != nil {
		return ErrTokenAlreadyUsed
	}
	if !now.Before(expiresAt) {
		return ErrTokenExpired
	}
	return nil
}

func consumeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, ErrTokenAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenPurposeMismatch):
		return "purpose_mismatch"
	case errors.Is(err, ErrFlowOwnerMismatch):
		return "owner_mismatch"
	default:
		return "error"
	}
}

func (t *TokenIssuer) now() time.Time {
	if t.clock == nil {
		return time.Now()
	}
	return t.clock.Now()
}
