package middleware

import (
	"net/http"

	"klubban/internal/entity"

	"github.com/labstack/echo/v4"
)

func RequireRole(roles ...entity.UserRole) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			currentRole, ok := RoleFromContext(c)
			if !ok {
				return echo.NewHTTPError(http.StatusForbidden, "forbidden")
			}
			for _, role := range roles {
				if currentRole == role {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "forbidden")
		}
	}
}

// RequireAdminAccess lets moderators and admins through.
func RequireAdminAccess() echo.MiddlewareFunc {
	return RequireRole(entity.UserRoleModerator, entity.UserRoleAdmin)
}
