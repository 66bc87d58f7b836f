package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"klubban/internal/entity"
	"klubban/internal/repository"
	"klubban/internal/strava"
	"klubban/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory database shared by the fake repositories. It
// enforces the unique columns the real schema declares.
type memStore struct {
	mu sync.Mutex

	users         map[uuid.UUID]entity.User
	links         map[uuid.UUID]entity.StravaLink
	activities    map[int64]entity.StravaActivity
	sessions      map[uuid.UUID]entity.Session
	verifications map[uuid.UUID]entity.VerificationToken
	flowStates    map[uuid.UUID]entity.OAuthFlowState
	feed          []entity.FeedEvent
	audit         []entity.AuditLog

	// failTransition, when set, is returned once by the next TransitionState.
	failTransition error
}

func newMemStore() *memStore {
	return &memStore{
		users:         map[uuid.UUID]entity.User{},
		links:         map[uuid.UUID]entity.StravaLink{},
		activities:    map[int64]entity.StravaActivity{},
		sessions:      map[uuid.UUID]entity.Session{},
		verifications: map[uuid.UUID]entity.VerificationToken{},
		flowStates:    map[uuid.UUID]entity.OAuthFlowState{},
	}
}

func (s *memStore) userConflict(user *entity.User) bool {
	for id, existing := range s.users {
		if id == user.ID {
			continue
		}
		if existing.Username == user.Username || existing.Email == user.Email {
			return true
		}
	}
	return false
}

func (s *memStore) linkConflict(link *entity.StravaLink) bool {
	for _, existing := range s.links {
		if existing.ID == link.ID {
			continue
		}
		if existing.UserID == link.UserID || existing.AthleteID == link.AthleteID {
			return true
		}
	}
	return false
}

func (s *memStore) withLink(user entity.User) *entity.User {
	if link, ok := s.links[user.ID]; ok {
		user.StravaLink = &link
	} else {
		user.StravaLink = nil
	}
	return &user
}

func (s *memStore) auditActions(subjectID uuid.UUID) []entity.AuditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var actions []entity.AuditAction
	for _, log := range s.audit {
		if log.SubjectID != nil && *log.SubjectID == subjectID {
			actions = append(actions, log.Action)
		}
	}
	return actions
}

func (s *memStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) linkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *memStore) activeSessions(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, session := range s.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			n++
		}
	}
	return n
}

type memUsers struct{ s *memStore }

func (r memUsers) Create(_ context.Context, user *entity.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if r.s.userConflict(user) {
		return repository.ErrDuplicate
	}
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	stored := *user
	stored.StravaLink = nil
	r.s.users[user.ID] = stored
	return nil
}

func (r memUsers) CreateWithStravaLink(_ context.Context, user *entity.User, link *entity.StravaLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if r.s.userConflict(user) {
		return repository.ErrDuplicate
	}
	link.UserID = user.ID
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if r.s.linkConflict(link) {
		return repository.ErrDuplicate
	}
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	stored := *user
	stored.StravaLink = nil
	r.s.users[user.ID] = stored
	r.s.links[user.ID] = *link
	user.StravaLink = link
	return nil
}

func (r memUsers) find(match func(entity.User) bool) (*entity.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, user := range r.s.users {
		if match(user) {
			return r.s.withLink(user), nil
		}
	}
	return nil, nil
}

func (r memUsers) FindByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	return r.find(func(u entity.User) bool { return u.ID == id })
}

func (r memUsers) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	return r.find(func(u entity.User) bool { return u.Email == email })
}

func (r memUsers) FindByUsername(_ context.Context, username string) (*entity.User, error) {
	return r.find(func(u entity.User) bool { return u.Username == username })
}

func (r memUsers) FindByLogin(_ context.Context, identifier string) (*entity.User, error) {
	return r.find(func(u entity.User) bool { return u.Username == identifier || u.Email == identifier })
}

func (r memUsers) UpdateProfile(_ context.Context, user *entity.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.users[user.ID]
	if !ok {
		return nil
	}
	stored.DisplayName = user.DisplayName
	stored.Bio = user.Bio
	stored.AvatarURL = user.AvatarURL
	stored.LeaderboardOptIn = user.LeaderboardOptIn
	r.s.users[user.ID] = stored
	return nil
}

func (r memUsers) UpdateRole(_ context.Context, id uuid.UUID, role entity.UserRole) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if stored, ok := r.s.users[id]; ok {
		stored.Role = role
		r.s.users[id] = stored
	}
	return nil
}

func (r memUsers) TransitionState(_ context.Context, user *entity.User, from entity.UserState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failTransition; err != nil {
		r.s.failTransition = nil
		return err
	}
	stored, ok := r.s.users[user.ID]
	if !ok || stored.State != from {
		return repository.ErrStaleState
	}
	stored.State = user.State
	stored.EmailVerifiedAt = user.EmailVerifiedAt
	stored.ApprovedAt = user.ApprovedAt
	stored.ApprovedByID = user.ApprovedByID
	stored.RejectionReason = user.RejectionReason
	stored.SuspendedReason = user.SuspendedReason
	stored.UpdatedAt = user.UpdatedAt
	r.s.users[user.ID] = stored
	return nil
}

func (r memUsers) TouchLastSeen(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if stored, ok := r.s.users[id]; ok {
		stored.LastSeenAt = &at
		r.s.users[id] = stored
	}
	return nil
}

func (r memUsers) filter(match func(entity.User) bool, limit, offset int) []entity.User {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var users []entity.User
	for _, user := range r.s.users {
		if match(user) {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	if offset > 0 {
		if offset >= len(users) {
			return nil
		}
		users = users[offset:]
	}
	if limit > 0 && limit < len(users) {
		users = users[:limit]
	}
	return users
}

func (r memUsers) ListByState(_ context.Context, state entity.UserState, limit, offset int) ([]entity.User, error) {
	return r.filter(func(u entity.User) bool { return u.State == state }, limit, offset), nil
}

func (r memUsers) ListByRoles(_ context.Context, roles ...entity.UserRole) ([]entity.User, error) {
	return r.filter(func(u entity.User) bool {
		for _, role := range roles {
			if u.Role == role {
				return true
			}
		}
		return false
	}, 0, 0), nil
}

func (r memUsers) List(_ context.Context, limit, offset int) ([]entity.User, error) {
	return r.filter(func(entity.User) bool { return true }, limit, offset), nil
}

type memLinks struct{ s *memStore }

func (r memLinks) Create(_ context.Context, link *entity.StravaLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if r.s.linkConflict(link) {
		return repository.ErrDuplicate
	}
	r.s.links[link.UserID] = *link
	return nil
}

func (r memLinks) FindByUserID(_ context.Context, userID uuid.UUID) (*entity.StravaLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	link, ok := r.s.links[userID]
	if !ok {
		return nil, nil
	}
	return &link, nil
}

func (r memLinks) FindByAthleteID(_ context.Context, athleteID int64) (*entity.StravaLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, link := range r.s.links {
		if link.AthleteID == athleteID {
			return &link, nil
		}
	}
	return nil, nil
}

func (r memLinks) UpdateTokens(_ context.Context, link *entity.StravaLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.links[link.UserID]
	if !ok {
		return nil
	}
	stored.AccessToken = link.AccessToken
	stored.RefreshToken = link.RefreshToken
	stored.ExpiresAt = link.ExpiresAt
	r.s.links[link.UserID] = stored
	return nil
}

func (r memLinks) DeleteWithActivities(_ context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.links, userID)
	for id, activity := range r.s.activities {
		if activity.UserID == userID {
			delete(r.s.activities, id)
		}
	}
	return nil
}

type memActivities struct {
	s *memStore
	// beforeCreate runs without the lock held, to simulate a concurrent writer.
	beforeCreate func(activity *entity.StravaActivity)
}

func (r *memActivities) Create(_ context.Context, activity *entity.StravaActivity) error {
	if r.beforeCreate != nil {
		r.beforeCreate(activity)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.activities[activity.StravaID]; exists {
		return repository.ErrDuplicate
	}
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	r.s.activities[activity.StravaID] = *activity
	return nil
}

func (r *memActivities) FindByStravaID(_ context.Context, stravaID int64) (*entity.StravaActivity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	activity, ok := r.s.activities[stravaID]
	if !ok {
		return nil, nil
	}
	return &activity, nil
}

func (r *memActivities) UpdateSynced(_ context.Context, activity *entity.StravaActivity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.activities[activity.StravaID]
	if !ok {
		return nil
	}
	stored.Name = activity.Name
	stored.DistanceMeters = activity.DistanceMeters
	stored.MovingTimeSeconds = activity.MovingTimeSeconds
	stored.ElapsedTimeSeconds = activity.ElapsedTimeSeconds
	stored.TotalElevationGain = activity.TotalElevationGain
	stored.AverageSpeed = activity.AverageSpeed
	stored.MaxSpeed = activity.MaxSpeed
	stored.SyncedAt = activity.SyncedAt
	r.s.activities[activity.StravaID] = stored
	return nil
}

func (r *memActivities) LatestStartDate(_ context.Context, userID uuid.UUID) (*time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *time.Time
	for _, activity := range r.s.activities {
		if activity.UserID != userID || activity.StartDate == nil {
			continue
		}
		if latest == nil || activity.StartDate.After(*latest) {
			start := *activity.StartDate
			latest = &start
		}
	}
	return latest, nil
}

func (r *memActivities) byUser(userID uuid.UUID, match func(entity.StravaActivity) bool) []entity.StravaActivity {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []entity.StravaActivity
	for _, activity := range r.s.activities {
		if activity.UserID == userID && match(activity) {
			out = append(out, activity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(*out[j].StartDate) })
	return out
}

func (r *memActivities) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]entity.StravaActivity, error) {
	out := r.byUser(userID, func(entity.StravaActivity) bool { return true })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memActivities) ListByUserBetween(_ context.Context, userID uuid.UUID, from, to time.Time) ([]entity.StravaActivity, error) {
	return r.byUser(userID, func(a entity.StravaActivity) bool {
		return a.StartDate != nil && !a.StartDate.Before(from) && a.StartDate.Before(to)
	}), nil
}

func (r *memActivities) Leaderboard(_ context.Context, since time.Time, limit int) ([]repository.LeaderboardEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	totals := map[uuid.UUID]*repository.LeaderboardEntry{}
	for _, activity := range r.s.activities {
		user, ok := r.s.users[activity.UserID]
		if !ok || !user.IsActive() || !user.LeaderboardOptIn {
			continue
		}
		if _, linked := r.s.links[user.ID]; !linked {
			continue
		}
		if activity.ActivityType != entity.RideType || activity.StartDate == nil || activity.StartDate.Before(since) {
			continue
		}
		entry, ok := totals[user.ID]
		if !ok {
			entry = &repository.LeaderboardEntry{UserID: user.ID, Username: user.Username, DisplayName: user.DisplayName}
			totals[user.ID] = entry
		}
		entry.TotalDistance += activity.DistanceMeters
		entry.TotalElevation += activity.TotalElevationGain
		entry.RideCount++
	}
	out := make([]repository.LeaderboardEntry, 0, len(totals))
	for _, entry := range totals {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalDistance > out[j].TotalDistance })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type memSessions struct{ s *memStore }

func (r memSessions) Create(_ context.Context, session *entity.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.sessions {
		if existing.TokenHash == session.TokenHash {
			return repository.ErrDuplicate
		}
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	r.s.sessions[session.ID] = *session
	return nil
}

func (r memSessions) FindByTokenHash(_ context.Context, hash string) (*entity.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, session := range r.s.sessions {
		if session.TokenHash == hash && session.RevokedAt == nil {
			return &session, nil
		}
	}
	return nil, nil
}

func (r memSessions) IsActive(_ context.Context, sessionID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session, ok := r.s.sessions[sessionID]
	return ok && session.RevokedAt == nil, nil
}

func (r memSessions) RotateToken(_ context.Context, sessionID uuid.UUID, hash string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if session, ok := r.s.sessions[sessionID]; ok {
		session.TokenHash = hash
		session.ExpiresAt = expiresAt
		r.s.sessions[sessionID] = session
	}
	return nil
}

func (r memSessions) Revoke(_ context.Context, sessionID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if session, ok := r.s.sessions[sessionID]; ok && session.RevokedAt == nil {
		now := time.Now()
		session.RevokedAt = &now
		r.s.sessions[sessionID] = session
	}
	return nil
}

func (r memSessions) RevokeAllByUser(_ context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	for id, session := range r.s.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			session.RevokedAt = &now
			r.s.sessions[id] = session
		}
	}
	return nil
}

func (r memSessions) CleanupExpired(_ context.Context) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	for id, session := range r.s.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

type memVerifications struct{ s *memStore }

func (r memVerifications) Create(_ context.Context, token *entity.VerificationToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.verifications {
		if existing.TokenHash == token.TokenHash {
			return repository.ErrDuplicate
		}
	}
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	r.s.verifications[token.ID] = *token
	return nil
}

func (r memVerifications) FindByHash(_ context.Context, tokenHash string) (*entity.VerificationToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, token := range r.s.verifications {
		if token.TokenHash == tokenHash {
			return &token, nil
		}
	}
	return nil, nil
}

func (r memVerifications) MarkUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token, ok := r.s.verifications[id]
	if !ok || token.UsedAt != nil {
		return repository.ErrStaleState
	}
	token.UsedAt = &at
	r.s.verifications[id] = token
	return nil
}

type memFlowStates struct{ s *memStore }

func (r memFlowStates) Create(_ context.Context, state *entity.OAuthFlowState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.flowStates {
		if existing.StateHash == state.StateHash {
			return repository.ErrDuplicate
		}
	}
	if state.ID == uuid.Nil {
		state.ID = uuid.New()
	}
	r.s.flowStates[state.ID] = *state
	return nil
}

func (r memFlowStates) FindByHash(_ context.Context, stateHash string) (*entity.OAuthFlowState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, state := range r.s.flowStates {
		if state.StateHash == stateHash {
			return &state, nil
		}
	}
	return nil, nil
}

func (r memFlowStates) MarkUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	state, ok := r.s.flowStates[id]
	if !ok || state.UsedAt != nil {
		return repository.ErrStaleState
	}
	state.UsedAt = &at
	r.s.flowStates[id] = state
	return nil
}

func (r memFlowStates) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var deleted int64
	for id, state := range r.s.flowStates {
		if state.ExpiresAt.Before(before) {
			delete(r.s.flowStates, id)
			deleted++
		}
	}
	return deleted, nil
}

type memFeed struct{ s *memStore }

func (r memFeed) Create(_ context.Context, event *entity.FeedEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = time.Now()
	r.s.feed = append(r.s.feed, *event)
	return nil
}

func (r memFeed) ListRecent(_ context.Context, limit int) ([]entity.FeedEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]entity.FeedEvent, 0, len(r.s.feed))
	for i := len(r.s.feed) - 1; i >= 0; i-- {
		event := r.s.feed[i]
		event.User = r.s.users[event.UserID]
		out = append(out, event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type memAuditLogs struct{ s *memStore }

func (r memAuditLogs) Log(_ context.Context, log *entity.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, *log)
	return nil
}

func (r memAuditLogs) ListBySubject(_ context.Context, subjectID uuid.UUID, limit int) ([]entity.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []entity.AuditLog
	for _, log := range r.s.audit {
		if log.SubjectID != nil && *log.SubjectID == subjectID {
			out = append(out, log)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return true
}

func (n *recordingNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]NotificationKind, 0, len(n.sent))
	for _, note := range n.sent {
		kinds = append(kinds, note.Kind)
	}
	return kinds
}

// lastToken returns the token of the most recent verification notification.
func (n *recordingNotifier) lastToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == NotifyVerification {
			return n.sent[i].Token
		}
	}
	return ""
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) AuthorizeURL(state string, redirectURI string) string {
	return redirectURI + "?state=" + state
}

func (m *mockProvider) ExchangeCode(ctx context.Context, code string) (*strava.Grant, error) {
	args := m.Called(ctx, code)
	grant, _ := args.Get(0).(*strava.Grant)
	return grant, args.Error(1)
}

func (m *mockProvider) Refresh(ctx context.Context, refreshToken string) (*strava.Tokens, error) {
	args := m.Called(ctx, refreshToken)
	tokens, _ := args.Get(0).(*strava.Tokens)
	return tokens, args.Error(1)
}

func (m *mockProvider) ListActivities(ctx context.Context, accessToken string, after time.Time, page, perPage int) ([]strava.Activity, error) {
	args := m.Called(ctx, accessToken, after, page, perPage)
	activities, _ := args.Get(0).([]strava.Activity)
	return activities, args.Error(1)
}

// testEnv wires every service over one memStore.
type testEnv struct {
	store    *memStore
	clock    *fakeClock
	notifier *recordingNotifier
	provider *mockProvider

	activities *memActivities

	tokens    *TokenIssuer
	accounts  *AccountService
	linker    *LinkerService
	ingestion *IngestionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store := newMemStore()
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	provider := &mockProvider{}
	activities := &memActivities{s: store}

	tokens := NewTokenIssuer(memVerifications{store}, memFlowStates{store}, clock)
	accounts := NewAccountService(
		memUsers{store},
		memSessions{store},
		memFeed{store},
		memAuditLogs{store},
		tokens,
		notifier,
		BcryptPasswordHasher{Cost: bcrypt.MinCost},
		JWTAccessIssuer{Manager: &utils.JWTManager{Secret: []byte("test-secret"), Issuer: "klubban-test"}},
		validator.New(),
		clock,
		AuthConfig{},
		logger,
	)
	linker := NewLinkerService(
		memUsers{store},
		memLinks{store},
		memAuditLogs{store},
		tokens,
		accounts,
		provider,
		notifier,
		clock,
		LinkerConfig{
			ConnectRedirectURL: "https://klubban.test/strava/connect/callback",
			LoginRedirectURL:   "https://klubban.test/auth/strava/callback",
		},
		logger,
	)
	ingestion := NewIngestionService(
		memUsers{store},
		memLinks{store},
		activities,
		linker,
		provider,
		clock,
		IngestionConfig{},
		logger,
	)

	return &testEnv{
		store:      store,
		clock:      clock,
		notifier:   notifier,
		provider:   provider,
		activities: activities,
		tokens:     tokens,
		accounts:   accounts,
		linker:     linker,
		ingestion:  ingestion,
	}
}

// seedUser stores a user directly in the given state with password "secret123".
func (e *testEnv) seedUser(t *testing.T, username string, state entity.UserState, role entity.UserRole) *entity.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	hashed := string(hash)
	user := &entity.User{
		Username:     username,
		Email:        username + "@example.com",
		DisplayName:  username,
		PasswordHash: &hashed,
		Role:         role,
		State:        state,
	}
	if err := (memUsers{e.store}).Create(context.Background(), user); err != nil {
		t.Fatal(err)
	}
	return user
}

// seedLink connects user to athleteID with a token valid for an hour.
func (e *testEnv) seedLink(t *testing.T, user *entity.User, athleteID int64) *entity.StravaLink {
	t.Helper()
	link := &entity.StravaLink{
		UserID:       user.ID,
		AthleteID:    athleteID,
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    e.clock.Now().Add(time.Hour).Unix(),
	}
	if err := (memLinks{e.store}).Create(context.Background(), link); err != nil {
		t.Fatal(err)
	}
	return link
}

func (e *testEnv) user(t *testing.T, id uuid.UUID) *entity.User {
	t.Helper()
	user, err := (memUsers{e.store}).FindByID(context.Background(), id)
	if err != nil || user == nil {
		t.Fatalf("user %s not found: %v", id, err)
	}
	return user
}

func adminActor(user *entity.User) Actor {
	return Actor{UserID: user.ID, Role: user.Role}
}
