package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"klubban/internal/entity"
	"klubban/internal/repository"
	"klubban/internal/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSessions struct {
	repository.SessionRepository
	active map[uuid.UUID]bool
}

func (s stubSessions) IsActive(_ context.Context, sessionID uuid.UUID) (bool, error) {
	return s.active[sessionID], nil
}

func issue(t *testing.T, manager *utils.JWTManager, userID, sessionID uuid.UUID, role entity.UserRole) string {
	t.Helper()
	token, _, err := manager.IssueAccessToken(utils.AccessSubject{
		UserID:    userID.String(),
		Username:  "anna",
		Role:      string(role),
		SessionID: sessionID.String(),
	})
	require.NoError(t, err)
	return token
}

func run(mw echo.MiddlewareFunc, req *http.Request) (echo.Context, error) {
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	err := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	return c, err
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	return httpErr.Code
}

func TestRequireAuth(t *testing.T) {
	manager := &utils.JWTManager{Secret: []byte("secret"), Issuer: "klubban"}
	userID, sessionID, revokedID := uuid.New(), uuid.New(), uuid.New()
	mw := AuthMiddleware{JWT: manager, Sessions: stubSessions{active: map[uuid.UUID]bool{sessionID: true}}}

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+issue(t, manager, userID, sessionID, entity.UserRoleModerator))
		c, err := run(mw.RequireAuth, req)
		require.NoError(t, err)

		actor, ok := ActorFromContext(c)
		require.True(t, ok)
		assert.Equal(t, userID, actor.UserID)
		assert.Equal(t, entity.UserRoleModerator, actor.Role)
		got, ok := SessionIDFromContext(c)
		require.True(t, ok)
		assert.Equal(t, sessionID, got)
	})

	t.Run("access cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/strava/connect/callback", nil)
		req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: issue(t, manager, userID, sessionID, entity.UserRoleUser)})
		_, err := run(mw.RequireAuth, req)
		assert.NoError(t, err)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := run(mw.RequireAuth, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Token abc")
		_, err := run(mw.RequireAuth, req)
		assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
	})

	t.Run("revoked session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+issue(t, manager, userID, revokedID, entity.UserRoleUser))
		_, err := run(mw.RequireAuth, req)
		assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
	})
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/users", nil), httptest.NewRecorder())
	SetAuthContext(c, uuid.New(), "moderator", uuid.New())
	assert.NoError(t, RequireAdminAccess()(next)(c))
	assert.Equal(t, http.StatusForbidden, statusOf(t, RequireRole(entity.UserRoleAdmin)(next)(c)))

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/users", nil), httptest.NewRecorder())
	SetAuthContext(c, uuid.New(), "user", uuid.New())
	assert.Equal(t, http.StatusForbidden, statusOf(t, RequireAdminAccess()(next)(c)))

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/users", nil), httptest.NewRecorder())
	assert.Equal(t, http.StatusForbidden, statusOf(t, RequireAdminAccess()(next)(c)))
}
