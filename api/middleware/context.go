package middleware

import (
	"klubban/internal/entity"
	"klubban/internal/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	contextUserIDKey  = "auth_user_id"
	contextRoleKey    = "auth_role"
	contextSessionKey = "auth_session_id"
)

func SetAuthContext(c echo.Context, userID uuid.UUID, role string, sessionID uuid.UUID) {
	c.Set(contextUserIDKey, userID)
	c.Set(contextRoleKey, role)
	c.Set(contextSessionKey, sessionID)
}

func UserIDFromContext(c echo.Context) (uuid.UUID, bool) {
	value := c.Get(contextUserIDKey)
	userID, ok := value.(uuid.UUID)
	return userID, ok
}

func RoleFromContext(c echo.Context) (entity.UserRole, bool) {
	value, ok := c.Get(contextRoleKey).(string)
	if !ok {
		return "", false
	}
	role, err := entity.ParseUserRole(value)
	if err != nil {
		return "", false
	}
	return role, true
}

func SessionIDFromContext(c echo.Context) (uuid.UUID, bool) {
	value := c.Get(contextSessionKey)
	sessionID, ok := value.(uuid.UUID)
	return sessionID, ok
}

// ActorFromContext returns the authenticated caller set by RequireAuth.
func ActorFromContext(c echo.Context) (service.Actor, bool) {
	userID, ok := UserIDFromContext(c)
	if !ok {
		return service.Actor{}, false
	}
	role, ok := RoleFromContext(c)
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{UserID: userID, Role: role}, true
}
