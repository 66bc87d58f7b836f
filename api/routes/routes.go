package routes

import (
	"net/http"

	"klubban/api/handler"
	"klubban/api/middleware"
	"klubban/internal/entity"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	Echo           *echo.Echo
	Auth           *handler.AuthHandler
	Admin          *handler.AdminHandler
	Strava         *handler.StravaHandler
	AuthMiddleware middleware.AuthMiddleware
}

func NewRouter(
	e *echo.Echo,
	authHandler *handler.AuthHandler,
	adminHandler *handler.AdminHandler,
	stravaHandler *handler.StravaHandler,
	authMiddleware middleware.AuthMiddleware,
) *Router {
	return &Router{
		Echo:           e,
		Auth:           authHandler,
		Admin:          adminHandler,
		Strava:         stravaHandler,
		AuthMiddleware: authMiddleware,
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo
	requireAuth := r.AuthMiddleware.RequireAuth

	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/auth/signup", r.Auth.Signup)
	e.GET("/auth/verify-email", r.Auth.VerifyEmail)
	e.POST("/auth/verify-email", r.Auth.VerifyEmail)
	e.POST("/auth/verify-email/resend", r.Auth.ResendVerification)
	e.POST("/auth/login", r.Auth.Login)
	e.POST("/auth/refresh", r.Auth.Refresh)
	e.POST("/auth/logout", r.Auth.Logout, requireAuth)
	e.POST("/auth/logout-all", r.Auth.LogoutAll, requireAuth)

	e.GET("/auth/strava", r.Strava.StartLogin)
	e.GET("/auth/strava/callback", r.Strava.LoginCallback)

	e.GET("/me", r.Auth.Me, requireAuth)
	e.PATCH("/me", r.Auth.UpdateProfile, requireAuth)
	e.GET("/members/:username", r.Auth.Member, requireAuth)
	e.GET("/feed", r.Strava.Feed, requireAuth)
	e.GET("/leaderboard", r.Strava.Leaderboard, requireAuth)

	strava := e.Group("/strava", requireAuth)
	strava.GET("", r.Strava.Status)
	strava.GET("/connect", r.Strava.StartConnect)
	strava.GET("/connect/callback", r.Strava.ConnectCallback)
	strava.DELETE("", r.Strava.Disconnect)
	strava.POST("/sync", r.Strava.Sync)
	strava.GET("/activities", r.Strava.Activities)

	admin := e.Group("/admin", requireAuth, middleware.RequireAdminAccess())
	admin.GET("/approvals", r.Admin.ListPending)
	admin.GET("/users", r.Admin.ListUsers)
	admin.POST("/users/:id/approve", r.Admin.Approve)
	admin.POST("/users/:id/reject", r.Admin.Reject)
	admin.POST("/users/:id/suspend", r.Admin.Suspend)
	admin.POST("/users/:id/reactivate", r.Admin.Reactivate)
	admin.POST("/users/:id/revoke-sessions", r.Admin.RevokeSessions)
	admin.PUT("/users/:id/role", r.Admin.ChangeRole, middleware.RequireRole(entity.UserRoleAdmin))
}
