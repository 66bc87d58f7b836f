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
	"klubban/internal/strava"
	"klubban/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxUsernameAttempts = 100

// StravaProvider is the subset of the Strava API the service layer calls.
type StravaProvider interface {
	AuthorizeURL(state string, redirectURI string) string
	ExchangeCode(ctx context.Context, code string) (*strava.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*strava.Tokens, error)
	ListActivities(ctx context.Context, accessToken string, after time.Time, page, perPage int) ([]strava.Activity, error)
}

type LinkerConfig struct {
	ConnectRedirectURL string
	LoginRedirectURL   string
	StateTTL           time.Duration
}

// CallbackInput is what the provider sends back on the redirect.
type CallbackInput struct {
	State string
	Code  string
	// Error is set when the athlete declined or the provider failed.
	Error string
}

// LinkerService connects Strava athletes to members and originates members
// from first-time Strava logins.
type LinkerService struct {
	users    repository.UserRepository
	links    repository.StravaLinkRepository
	tokens   *TokenIssuer
	accounts *AccountService
	provider StravaProvider
	notifier Notifier
	audit    auditTrail
	clock    Clock
	config   LinkerConfig
	logger   *logrus.Logger
}

func NewLinkerService(
	users repository.UserRepository,
	links repository.StravaLinkRepository,
	auditLogs repository.AuditLogRepository,
	tokens *TokenIssuer,
	accounts *AccountService,
	provider StravaProvider,
	notifier Notifier,
	clock Clock,
	config LinkerConfig,
	logger *logrus.Logger,
) *LinkerService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LinkerService{
		users:    users,
		links:    links,
		tokens:   tokens,
		accounts: accounts,
		provider: provider,
		notifier: notifier,
		audit:    auditTrail{logs: auditLogs, logger: logger},
		clock:    clock,
		config:   config,
		logger:   logger,
	}
}

// StartConnect returns the Strava authorize URL for an active, unlinked member.
func (s *LinkerService) StartConnect(ctx context.Context, actor Actor) (string, error) {
	user, err := s.findUser(ctx, actor.UserID)
	if err != nil {
		return "", err
	}
	if !user.IsActive() {
		return "", ErrUserNotActive
	}
	link, err := s.links.FindByUserID(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if link != nil {
		return "", ErrAlreadyLinked
	}

	state, err := s.tokens.IssueFlowState(ctx, entity.FlowConnect, &user.ID, s.stateTTL())
	if err != nil {
		return "", err
	}
	return s.provider.AuthorizeURL(state, s.config.ConnectRedirectURL), nil
}

func (s *LinkerService) CompleteConnect(ctx context.Context, actor Actor, in CallbackInput) (*entity.StravaLink, error) {
	if err := checkCallback(in); err != nil {
		return nil, err
	}
	if _, err := s.tokens.ConsumeFlowState(ctx, in.State, entity.FlowConnect, &actor.UserID); err != nil {
		return nil, err
	}

	user, err := s.findUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, ErrUserNotActive
	}

	grant, err := s.provider.ExchangeCode(ctx, in.Code)
	if err != nil {
		return nil, providerError("exchange code", err)
	}

	existing, err := s.links.FindByAthleteID(ctx, grant.Athlete.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.UserID != user.ID {
			return nil, ErrAlreadyLinkedToAnotherAccount
		}
		applyTokens(existing, grant.Tokens)
		if err := s.links.UpdateTokens(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	own, err := s.links.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if own != nil {
		return nil, ErrAlreadyLinked
	}

	link := &entity.StravaLink{UserID: user.ID, AthleteID: grant.Athlete.ID}
	applyTokens(link, grant.Tokens)
	if err := s.links.Create(ctx, link); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, s.linkConflict(ctx, user.ID, grant.Athlete.ID)
		}
		return nil, err
	}

	s.audit.record(ctx, &user.ID, &user.ID, nil, entity.AuditStravaConnected, map[string]any{"athlete_id": grant.Athlete.ID})
	return link, nil
}

// linkConflict explains a unique violation on a link insert.
func (s *LinkerService) linkConflict(ctx context.Context, userID uuid.UUID, athleteID int64) error {
	owner, err := s.links.FindByAthleteID(ctx, athleteID)
	if err != nil {
		return err
	}
	if owner != nil && owner.UserID != userID {
		return ErrAlreadyLinkedToAnotherAccount
	}
	return ErrAlreadyLinked
}

func (s *LinkerService) StartLogin(ctx context.Context) (string, error) {
	state, err := s.tokens.IssueFlowState(ctx, entity.FlowLogin, nil, s.stateTTL())
	if err != nil {
		return "", err
	}
	return s.provider.AuthorizeURL(state, s.config.LoginRedirectURL), nil
}

// CompleteLogin logs in the member linked to the athlete, or originates a new
// pending member when the athlete has never been seen.
func (s *LinkerService) CompleteLogin(ctx context.Context, in CallbackInput, meta RequestMeta) (*LoginResult, error) {
	if err := checkCallback(in); err != nil {
		return nil, err
	}
	if _, err := s.tokens.ConsumeFlowState(ctx, in.State, entity.FlowLogin, nil); err != nil {
		return nil, err
	}

	grant, err := s.provider.ExchangeCode(ctx, in.Code)
	if err != nil {
		return nil, providerError("exchange code", err)
	}

	link, err := s.links.FindByAthleteID(ctx, grant.Athlete.ID)
	if err != nil {
		return nil, err
	}
	if link != nil {
		return s.loginLinked(ctx, link, grant.Tokens, meta)
	}
	return s.originate(ctx, grant, meta)
}

func (s *LinkerService) loginLinked(ctx context.Context, link *entity.StravaLink, tokens strava.Tokens, meta RequestMeta) (*LoginResult, error) {
	user, err := s.findUser(ctx, link.UserID)
	if err != nil {
		return nil, err
	}
	// Tokens of members who cannot sign in stay as they were.
	if user.IsActive() {
		applyTokens(link, tokens)
		if err := s.links.UpdateTokens(ctx, link); err != nil {
			return nil, err
		}
	}
	return s.accounts.Admit(ctx, user, entity.LoginStrava, meta)
}

func (s *LinkerService) originate(ctx context.Context, grant *strava.Grant, meta RequestMeta) (*LoginResult, error) {
	athlete := grant.Athlete

	// A member who disconnected keeps their placeholder address; reattach them.
	previous, err := s.users.FindByEmail(ctx, utils.PlaceholderEmail(athlete.ID))
	if err != nil {
		return nil, err
	}
	squatted := false
	if previous != nil {
		if stravaOriginated(previous) {
			return s.relink(ctx, previous, grant, meta)
		}
		s.logger.WithFields(logrus.Fields{
			"user_id":    previous.ID,
			"athlete_id": athlete.ID,
		}).Warn("placeholder address held by a password account; originating a separate member")
		squatted = true
	}

	base := utils.DeriveUsernameBase(athlete.FirstName, athlete.LastName, athlete.ID)
	now := s.now()
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		candidate := utils.UsernameCandidate(base, attempt)
		taken, err := s.users.FindByUsername(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if taken != nil {
			continue
		}

		user := newStravaUser(candidate, athlete, now)
		if squatted {
			user.Email = utils.PlaceholderEmailFor(athlete.ID, candidate)
		}
		link := &entity.StravaLink{AthleteID: athlete.ID}
		applyTokens(link, grant.Tokens)

		err = s.users.CreateWithStravaLink(ctx, user, link)
		if err == nil {
			s.audit.record(ctx, nil, &user.ID, meta.IPAddress, entity.AuditStravaSignup, map[string]any{"athlete_id": athlete.ID})
			s.notifier.Notify(ctx, Notification{Kind: NotifyPendingApproval, User: user})
			result, err := s.accounts.Admit(ctx, user, entity.LoginStrava, meta)
			if err != nil {
				return nil, err
			}
			result.Created = true
			return result, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}

		// Either a concurrent callback linked this athlete first or the
		// username was claimed in between.
		linked, err := s.links.FindByAthleteID(ctx, athlete.ID)
		if err != nil {
			return nil, err
		}
		if linked != nil {
			return s.loginLinked(ctx, linked, grant.Tokens, meta)
		}
	}
	return nil, fmt.Errorf("no free username for base %q", base)
}

// stravaOriginated reports whether user was created by a Strava login and may
// be reattached to the athlete its placeholder address names.
func stravaOriginated(user *entity.User) bool {
	return user.PasswordHash == nil &&
		utils.IsPlaceholderEmail(user.Email) &&
		user.State != entity.UserStatePendingEmailVerification
}

func (s *LinkerService) relink(ctx context.Context, user *entity.User, grant *strava.Grant, meta RequestMeta) (*LoginResult, error) {
	link := &entity.StravaLink{UserID: user.ID, AthleteID: grant.Athlete.ID}
	applyTokens(link, grant.Tokens)
	if err := s.links.Create(ctx, link); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		linked, findErr := s.links.FindByAthleteID(ctx, grant.Athlete.ID)
		if findErr != nil {
			return nil, findErr
		}
		if linked == nil {
			// The member is already linked to some other athlete.
			return nil, ErrAlreadyLinked
		}
		return s.loginLinked(ctx, linked, grant.Tokens, meta)
	}
	s.audit.record(ctx, &user.ID, &user.ID, meta.IPAddress, entity.AuditStravaConnected, map[string]any{"athlete_id": grant.Athlete.ID})
	return s.accounts.Admit(ctx, user, entity.LoginStrava, meta)
}

// Disconnect removes the member's link and synced activities.
func (s *LinkerService) Disconnect(ctx context.Context, actor Actor) error {
	link, err := s.links.FindByUserID(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if link == nil {
		return ErrNotLinked
	}
	if err := s.links.DeleteWithActivities(ctx, actor.UserID); err != nil {
		return err
	}
	s.audit.record(ctx, &actor.UserID, &actor.UserID, nil, entity.AuditStravaDisconnected, map[string]any{"athlete_id": link.AthleteID})
	return nil
}

func (s *LinkerService) Link(ctx context.Context, userID uuid.UUID) (*entity.StravaLink, error) {
	return s.links.FindByUserID(ctx, userID)
}

// ValidAccessToken returns a usable access token for link, refreshing it when
// it expires within five minutes. A failed refresh yields ErrReconnectRequired.
func (s *LinkerService) ValidAccessToken(ctx context.Context, link *entity.StravaLink) (string, error) {
	if !link.NeedsRefresh(s.now()) {
		return link.AccessToken, nil
	}

	tokens, err := s.provider.Refresh(ctx, link.RefreshToken)
	metrics.TokenRefreshes.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":    link.UserID,
			"athlete_id": link.AthleteID,
		}).Warn("strava token refresh failed")
		return "", fmt.Errorf("%w: %v", ErrReconnectRequired, err)
	}

	applyTokens(link, *tokens)
	if err := s.links.UpdateTokens(ctx, link); err != nil {
		s.logger.WithError(err).WithField("user_id", link.UserID).Error("failed to persist refreshed strava tokens")
	}
	return link.AccessToken, nil
}

func (s *LinkerService) findUser(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *LinkerService) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

func (s *LinkerService) stateTTL() time.Duration {
	if s.config.StateTTL > 0 {
		return s.config.StateTTL
	}
	return 10 * time.Minute
}

func newStravaUser(username string, athlete strava.Athlete, now time.Time) *entity.User {
	displayName := strings.TrimSpace(athlete.FirstName + " " + athlete.LastName)
	if displayName == "" {
		displayName = username
	}
	user := &entity.User{
		Username:        username,
		Email:           utils.PlaceholderEmail(athlete.ID),
		DisplayName:     displayName,
		Role:            entity.UserRoleUser,
		State:           entity.UserStatePendingApproval,
		EmailVerifiedAt: &now,
	}
	if avatar := athlete.Profile; strings.HasPrefix(avatar, "http") {
		user.AvatarURL = &avatar
	}
	if city := strings.TrimSpace(athlete.City); city != "" {
		user.Bio = "Cyklist fran " + city
	}
	return user
}

func checkCallback(in CallbackInput) error {
	if strings.TrimSpace(in.Error) != "" {
		return fmt.Errorf("%w: %s", ErrAuthorizationDenied, in.Error)
	}
	fields := map[string]string{}
	if strings.TrimSpace(in.State) == "" {
		fields["state"] = "is required"
	}
	if strings.TrimSpace(in.Code) == "" {
		fields["code"] = "is required"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func applyTokens(link *entity.StravaLink, tokens strava.Tokens) {
	link.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		link.RefreshToken = tokens.RefreshToken
	}
	link.ExpiresAt = tokens.ExpiresAt
}

func providerError(op string, err error) error {
	if errors.Is(err, strava.ErrUnauthorized) {
		return fmt.Errorf("%w: %s: %v", ErrAuthorizationDenied, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrExternalProvider, op, err)
}
