package middleware

import (
	"net/http"
	"strings"

	"klubban/internal/repository"
	"klubban/internal/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// AccessCookieName carries the access token on browser redirects, where no
// Authorization header is available.
const AccessCookieName = "access_token"

type AuthMiddleware struct {
	JWT      *utils.JWTManager
	Sessions repository.SessionRepository
}

func (m AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.JWT == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		token := extractBearerToken(c.Request())
		if token == "" {
			token = extractCookieToken(c)
		}
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		claims, err := m.JWT.ParseAccessToken(token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		sessionID, err := uuid.Parse(claims.SessionID)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		if m.Sessions != nil {
			active, err := m.Sessions.IsActive(c.Request().Context(), sessionID)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "session lookup failed")
			}
			if !active {
				return echo.NewHTTPError(http.StatusUnauthorized, "session revoked")
			}
		}
		SetAuthContext(c, userID, claims.Role, sessionID)
		return next(c)
	}
}

func extractBearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return ""
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func extractCookieToken(c echo.Context) string {
	cookie, err := c.Cookie(AccessCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
