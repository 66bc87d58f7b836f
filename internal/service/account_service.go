package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"klubban/internal/entity"
	"klubban/internal/metrics"
	"klubban/internal/repository"
	"klubban/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const dummyPasswordHash = "$2a$10$CwTycUXWue0Thq9StjUM0uJ8yQbWc1x9uxw2sQ2sXUNx5x9xJ9F2S"

// AccountService owns the account lifecycle: signup, email verification,
// the login gate, sessions and administrative transitions.
type AccountService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	feed     repository.FeedRepository
	audit    auditTrail

	tokens       *TokenIssuer
	notifier     Notifier
	passwordHash PasswordHasher
	accessTokens AccessTokenIssuer
	validate     *validator.Validate
	clock        Clock
	config       AuthConfig
	logger       *logrus.Logger
}

func NewAccountService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	feed repository.FeedRepository,
	auditLogs repository.AuditLogRepository,
	tokens *TokenIssuer,
	notifier Notifier,
	passwordHash PasswordHasher,
	accessTokens AccessTokenIssuer,
	validate *validator.Validate,
	clock Clock,
	config AuthConfig,
	logger *logrus.Logger,
) *AccountService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AccountService{
		users:        users,
		sessions:     sessions,
		feed:         feed,
		audit:        auditTrail{logs: auditLogs, logger: logger},
		tokens:       tokens,
		notifier:     notifier,
		passwordHash: passwordHash,
		accessTokens: accessTokens,
		validate:     validate,
		clock:        clock,
		config:       config,
		logger:       logger,
	}
}

func (s *AccountService) Signup(ctx context.Context, input SignupInput, meta RequestMeta) (*entity.User, error) {
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	input.Email = utils.NormalizeEmail(input.Email)
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if err := s.validate.Struct(input); err != nil {
		return nil, NewValidationError(err)
	}
	// Placeholder addresses identify Strava-originated members.
	if utils.IsPlaceholderEmail(input.Email) {
		return nil, &ValidationError{Fields: map[string]string{"email": "uses a reserved domain"}}
	}
	if err := s.checkAvailable(ctx, input.Username, input.Email); err != nil {
		return nil, err
	}

	hash, err := s.passwordHash.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	displayName := input.DisplayName
	if displayName == "" {
		displayName = input.Username
	}
	user := &entity.User{
		Username:     input.Username,
		Email:        input.Email,
		DisplayName:  displayName,
		PasswordHash: &hash,
		Role:         entity.UserRoleUser,
		State:        entity.UserStatePendingEmailVerification,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a race with a concurrent signup; report which field collided.
			if verr := s.checkAvailable(ctx, input.Username, input.Email); verr != nil {
				return nil, verr
			}
		}
		return nil, err
	}

	s.audit.record(ctx, &user.ID, &user.ID, meta.IPAddress, entity.AuditSignup, map[string]any{"method": "password"})
	s.sendVerification(ctx, user)
	return user, nil
}

// checkAvailable returns a ValidationError naming every taken field.
func (s *AccountService) checkAvailable(ctx context.Context, username, email string) error {
	fields := map[string]string{}
	existing, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		fields["username"] = "is already taken"
	}
	existing, err = s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		fields["email"] = "is already registered"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// VerifyEmail consumes the token and moves the member to pending approval.
// The token is spent before the transition is written; when that write fails
// the member is still pending verification and ResendVerification issues a
// new token.
func (s *AccountService) VerifyEmail(ctx context.Context, rawToken string) (*entity.User, error) {
	userID, err := s.tokens.ConsumeVerification(ctx, rawToken, entity.EmailVerify)
	if err != nil {
		return nil, err
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.State != entity.UserStatePendingEmailVerification {
		return user, ErrEmailNotPending
	}

	now := s.now()
	err = s.transition(ctx, user, entity.UserStatePendingApproval, func(u *entity.User) {
		u.EmailVerifiedAt = &now
	})
	if err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil, ErrEmailNotPending
		}
		return nil, err
	}

	s.audit.record(ctx, &user.ID, &user.ID, nil, entity.AuditEmailVerified, nil)
	s.notifier.Notify(ctx, Notification{Kind: NotifyPendingApproval, User: user})
	return user, nil
}

// ResendVerification issues a fresh token for an unverified address. Earlier
// tokens stay valid until they expire. Unknown or already verified addresses
// are ignored so the endpoint does not reveal which emails exist.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	email = utils.NormalizeEmail(email)
	if email == "" {
		return &ValidationError{Fields: map[string]string{"email": "is required"}}
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil || user.State != entity.UserStatePendingEmailVerification {
		return nil
	}
	s.sendVerification(ctx, user)
	return nil
}

func (s *AccountService) sendVerification(ctx context.Context, user *entity.User) {
	token, err := s.tokens.IssueVerification(ctx, user.ID, entity.EmailVerify, s.verificationTokenTTL())
	if err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("failed to issue verification token")
		return
	}
	s.notifier.Notify(ctx, Notification{Kind: NotifyVerification, User: user, Token: token})
}

func (s *AccountService) Login(ctx context.Context, input LoginInput, meta RequestMeta) (*LoginResult, error) {
	login := strings.ToLower(strings.TrimSpace(input.Login))
	fields := map[string]string{}
	if login == "" {
		fields["login"] = "is required"
	}
	if input.Password == "" {
		fields["password"] = "is required"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	user, err := s.users.FindByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == nil {
		_ = s.passwordHash.Verify(dummyPasswordHash, input.Password)
		s.audit.record(ctx, nil, userIDOrNil(user), meta.IPAddress, entity.AuditLoginFailed, map[string]any{"login": login})
		metrics.LoginOutcomes.WithLabelValues(string(entity.LoginPassword), "invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}
	if !s.passwordHash.Verify(*user.PasswordHash, input.Password) {
		s.audit.record(ctx, nil, &user.ID, meta.IPAddress, entity.AuditLoginFailed, map[string]any{"login": login})
		metrics.LoginOutcomes.WithLabelValues(string(entity.LoginPassword), "invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	return s.Admit(ctx, user, entity.LoginPassword, meta)
}

// Admit applies the login gate to an authenticated user. Only active members
// get a session; every other state yields its own outcome and no tokens.
func (s *AccountService) Admit(ctx context.Context, user *entity.User, method entity.LoginMethod, meta RequestMeta) (*LoginResult, error) {
	result := &LoginResult{Outcome: outcomeFor(user.State), User: user}
	switch user.State {
	case entity.UserStateRejected:
		result.Reason = user.RejectionReason
	case entity.UserStateSuspended:
		result.Reason = user.SuspendedReason
	}
	metrics.LoginOutcomes.WithLabelValues(string(method), string(result.Outcome)).Inc()

	if result.Outcome != OutcomeLoggedIn {
		s.audit.record(ctx, nil, &user.ID, meta.IPAddress, entity.AuditLoginBlocked, map[string]any{
			"method": method,
			"state":  user.State,
		})
		return result, nil
	}

	tokens, err := s.openSession(ctx, user, method, meta)
	if err != nil {
		return nil, err
	}
	result.Tokens = tokens

	now := s.now()
	if err := s.users.TouchLastSeen(ctx, user.ID, now); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("failed to stamp last seen")
	} else {
		user.LastSeenAt = &now
	}
	s.audit.record(ctx, &user.ID, &user.ID, meta.IPAddress, entity.AuditLoginSuccess, map[string]any{"method": method})
	return result, nil
}

func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, &ValidationError{Fields: map[string]string{"refresh_token": "is required"}}
	}

	session, err := s.sessions.FindByTokenHash(ctx, utils.HashToken(refreshToken))
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrInvalidToken
	}

	user, err := s.findUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		if err := s.sessions.Revoke(ctx, session.ID); err != nil {
			s.logger.WithError(err).WithField("session_id", session.ID).Warn("failed to revoke session")
		}
		return nil, ErrUserNotActive
	}

	newRefreshToken, newRefreshHash, newRefreshExpiry, err := s.buildRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.sessions.RotateToken(ctx, session.ID, newRefreshHash, newRefreshExpiry); err != nil {
		return nil, err
	}

	accessToken, expiresIn, err := s.accessTokens.IssueAccessToken(*user, session.ID)
	if err != nil {
		return nil, err
	}
	return &SessionTokens{
		SessionID:        session.ID.String(),
		AccessToken:      accessToken,
		ExpiresIn:        int64(expiresIn.Seconds()),
		RefreshToken:     newRefreshToken,
		RefreshExpiresIn: int64(newRefreshExpiry.Sub(s.now()).Seconds()),
	}, nil
}

func (s *AccountService) Logout(ctx context.Context, sessionID uuid.UUID, userID uuid.UUID, meta RequestMeta) error {
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.audit.record(ctx, &userID, &userID, meta.IPAddress, entity.AuditLogout, nil)
	return nil
}

func (s *AccountService) LogoutAll(ctx context.Context, userID uuid.UUID, meta RequestMeta) error {
	if err := s.sessions.RevokeAllByUser(ctx, userID); err != nil {
		return err
	}
	s.audit.record(ctx, &userID, &userID, meta.IPAddress, entity.AuditSessionsRevoked, map[string]any{"scope": "all"})
	return nil
}

// Approve moves a pending user to active. A user that is not pending yields
// ErrNotPendingApproval and nothing changes.
func (s *AccountService) Approve(ctx context.Context, actor Actor, userID uuid.UUID) (*entity.User, error) {
	if !actor.HasAdminAccess() {
		return nil, ErrForbidden
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.State != entity.UserStatePendingApproval {
		return user, ErrNotPendingApproval
	}

	now := s.now()
	err = s.transition(ctx, user, entity.UserStateActive, func(u *entity.User) {
		u.ApprovedAt = &now
		u.ApprovedByID = &actor.UserID
	})
	if err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil, ErrNotPendingApproval
		}
		return nil, err
	}

	event := &entity.FeedEvent{
		UserID:  user.ID,
		Kind:    entity.FeedJoined,
		Message: fmt.Sprintf("%s gick med i Klubbans Vanner!", user.Name()),
	}
	if err := s.feed.Create(ctx, event); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("failed to write joined feed event")
	}
	s.audit.record(ctx, &actor.UserID, &user.ID, nil, entity.AuditApproved, nil)
	s.notifier.Notify(ctx, Notification{Kind: NotifyApproval, User: user})
	return user, nil
}

func (s *AccountService) Reject(ctx context.Context, actor Actor, userID uuid.UUID, reason *string) (*entity.User, error) {
	if !actor.HasAdminAccess() {
		return nil, ErrForbidden
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.State != entity.UserStatePendingApproval {
		return user, ErrNotPendingApproval
	}

	reason = trimReason(reason)
	err = s.transition(ctx, user, entity.UserStateRejected, func(u *entity.User) {
		u.RejectionReason = reason
		u.SuspendedReason = nil
	})
	if err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil, ErrNotPendingApproval
		}
		return nil, err
	}

	s.audit.record(ctx, &actor.UserID, &user.ID, nil, entity.AuditRejected, reasonMetadata(reason))
	s.notifier.Notify(ctx, Notification{Kind: NotifyRejection, User: user, Reason: reason})
	return user, nil
}

// Suspend moves an active member to suspended and revokes their sessions.
// Nobody can suspend themselves and only admins can suspend an admin.
func (s *AccountService) Suspend(ctx context.Context, actor Actor, userID uuid.UUID, reason *string) (*entity.User, error) {
	if !actor.HasAdminAccess() {
		return nil, ErrForbidden
	}
	if actor.UserID == userID {
		return nil, ErrCannotSuspendSelf
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsAdmin() && actor.Role != entity.UserRoleAdmin {
		return nil, ErrCannotSuspendAdmin
	}
	if user.State != entity.UserStateActive {
		return user, ErrUserNotActive
	}

	reason = trimReason(reason)
	if err := s.transition(ctx, user, entity.UserStateSuspended, func(u *entity.User) {
		u.SuspendedReason = reason
		u.RejectionReason = nil
	}); err != nil {
		return nil, err
	}

	if err := s.sessions.RevokeAllByUser(ctx, user.ID); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("failed to revoke sessions of suspended user")
	}
	s.audit.record(ctx, &actor.UserID, &user.ID, nil, entity.AuditSuspended, reasonMetadata(reason))
	return user, nil
}

// Reactivate is the only way out of rejected. It clears both reason fields.
func (s *AccountService) Reactivate(ctx context.Context, actor Actor, userID uuid.UUID) (*entity.User, error) {
	if !actor.HasAdminAccess() {
		return nil, ErrForbidden
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.State != entity.UserStateSuspended && user.State != entity.UserStateRejected {
		return user, ErrNotReactivatable
	}

	from := user.State
	now := s.now()
	if err := s.transition(ctx, user, entity.UserStateActive, func(u *entity.User) {
		u.SuspendedReason = nil
		u.RejectionReason = nil
		if u.ApprovedAt == nil {
			u.ApprovedAt = &now
			u.ApprovedByID = &actor.UserID
		}
	}); err != nil {
		return nil, err
	}

	s.audit.record(ctx, &actor.UserID, &user.ID, nil, entity.AuditReactivated, map[string]any{"from": from})
	return user, nil
}

func (s *AccountService) ChangeRole(ctx context.Context, actor Actor, userID uuid.UUID, role string) (*entity.User, error) {
	if actor.Role != entity.UserRoleAdmin {
		return nil, ErrAdminOnly
	}
	newRole, err := entity.ParseUserRole(strings.ToLower(strings.TrimSpace(role)))
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"role": "must be one of user moderator admin"}}
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == newRole {
		return user, nil
	}

	previous := user.Role
	if err := s.users.UpdateRole(ctx, user.ID, newRole); err != nil {
		return nil, err
	}
	user.Role = newRole
	s.audit.record(ctx, &actor.UserID, &user.ID, nil, entity.AuditRoleChanged, map[string]any{
		"from": previous,
		"to":   newRole,
	})
	return user, nil
}

func (s *AccountService) UpdateProfile(ctx context.Context, userID uuid.UUID, input ProfileInput) (*entity.User, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, NewValidationError(err)
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if input.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*input.DisplayName)
	}
	if input.Bio != nil {
		user.Bio = strings.TrimSpace(*input.Bio)
	}
	if input.LeaderboardOptIn != nil {
		user.LeaderboardOptIn = *input.LeaderboardOptIn
	}
	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AccountService) GetUser(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	return s.findUser(ctx, userID)
}

func (s *AccountService) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	user, err := s.users.FindByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AccountService) ListPending(ctx context.Context, limit, offset int) ([]entity.User, error) {
	return s.users.ListByState(ctx, entity.UserStatePendingApproval, limit, offset)
}

func (s *AccountService) ListUsers(ctx context.Context, limit, offset int) ([]entity.User, error) {
	return s.users.List(ctx, limit, offset)
}

func (s *AccountService) RecentFeed(ctx context.Context, limit int) ([]entity.FeedEvent, error) {
	return s.feed.ListRecent(ctx, limit)
}

func (s *AccountService) RevokeUserSessions(ctx context.Context, actor Actor, userID uuid.UUID) error {
	if !actor.HasAdminAccess() {
		return ErrForbidden
	}
	if err := s.sessions.RevokeAllByUser(ctx, userID); err != nil {
		return err
	}
	s.audit.record(ctx, &actor.UserID, &userID, nil, entity.AuditSessionsRevoked, map[string]any{"scope": "admin"})
	return nil
}

// transition applies a legal state change with a compare-and-set on the
// current state. user is only updated in place once the write commits.
func (s *AccountService) transition(ctx context.Context, user *entity.User, to entity.UserState, mutate func(*entity.User)) error {
	from := user.State
	if !entity.CanTransition(from, to) {
		return fmt.Errorf("%w: %s to %s", ErrStateConflict, from, to)
	}

	next := *user
	next.State = to
	if mutate != nil {
		mutate(&next)
	}
	next.UpdatedAt = s.now()

	if err := s.users.TransitionState(ctx, &next, from); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return fmt.Errorf("%w: %s changed concurrently", ErrStateConflict, from)
		}
		return err
	}
	*user = next
	metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"from":    from,
		"to":      to,
	}).Info("account state changed")
	return nil
}

func (s *AccountService) openSession(ctx context.Context, user *entity.User, method entity.LoginMethod, meta RequestMeta) (*SessionTokens, error) {
	refreshToken, refreshHash, refreshExpiry, err := s.buildRefreshToken()
	if err != nil {
		return nil, err
	}

	session := &entity.Session{
		UserID:    user.ID,
		TokenHash: refreshHash,
		Method:    method,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		ExpiresAt: refreshExpiry,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	accessToken, expiresIn, err := s.accessTokens.IssueAccessToken(*user, session.ID)
	if err != nil {
		return nil, err
	}

	return &SessionTokens{
		SessionID:        session.ID.String(),
		AccessToken:      accessToken,
		ExpiresIn:        int64(expiresIn.Seconds()),
		RefreshToken:     refreshToken,
		RefreshExpiresIn: int64(refreshExpiry.Sub(s.now()).Seconds()),
	}, nil
}

func (s *AccountService) buildRefreshToken() (string, string, time.Time, error) {
	rawToken, err := utils.GenerateRandomToken(48)
	if err != nil {
		return "", "", time.Time{}, err
	}
	expiresAt := s.now().Add(s.refreshTokenTTL())
	return rawToken, utils.HashToken(rawToken), expiresAt, nil
}

func (s *AccountService) findUser(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AccountService) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

func (s *AccountService) verificationTokenTTL() time.Duration {
	if s.config.VerificationTokenTTL > 0 {
		return s.config.VerificationTokenTTL
	}
	return 24 * time.Hour
}

func (s *AccountService) refreshTokenTTL() time.Duration {
	if s.config.RefreshTokenTTL > 0 {
		return s.config.RefreshTokenTTL
	}
	return 30 * 24 * time.Hour
}

func trimReason(reason *string) *string {
	if reason == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*reason)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func reasonMetadata(reason *string) map[string]any {
	if reason == nil {
		return nil
	}
	return map[string]any{"reason": *reason}
}

func userIDOrNil(user *entity.User) *uuid.UUID {
	if user == nil {
		return nil
	}
	return &user.ID
}
