package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klubban/api/handler"
	apiMiddleware "klubban/api/middleware"
	"klubban/api/routes"
	"klubban/config"
	"klubban/internal/repository"
	"klubban/internal/service"
	"klubban/internal/strava"
	"klubban/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.SetLevel(cfg.Level())

	db, err := config.ConnectionDb(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("database unavailable")
	}
	validate := validator.New()
	clock := service.RealClock{}

	accessManager := utils.JWTManager{
		Secret:         []byte(cfg.JWTSecret),
		Issuer:         cfg.JWTIssuer,
		AccessTokenTTL: cfg.AccessTokenTTL,
	}
	accessIssuer := service.JWTAccessIssuer{Manager: &accessManager}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	verificationRepo := repository.NewVerificationTokenRepository(db)
	flowStateRepo := repository.NewOAuthFlowStateRepository(db)
	stravaLinkRepo := repository.NewStravaLinkRepository(db)
	activityRepo := repository.NewStravaActivityRepository(db)
	feedRepo := repository.NewFeedRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	tokenIssuer := service.NewTokenIssuer(verificationRepo, flowStateRepo, clock)

	var mailer service.Mailer = service.ConsoleMailer{Logger: logger}
	if cfg.ResendAPIKey != "" {
		resendMailer, err := service.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom)
		if err != nil {
			logger.WithError(err).Fatal("failed to configure resend")
		}
		mailer = resendMailer
	} else {
		logger.Warn("RESEND_API_KEY not set, emails are logged instead of sent")
	}
	notifier := service.NewEmailNotifier(mailer, userRepo, cfg.SiteURL, logger)

	accountService := service.NewAccountService(
		userRepo,
		sessionRepo,
		feedRepo,
		auditRepo,
		tokenIssuer,
		notifier,
		service.BcryptPasswordHasher{},
		accessIssuer,
		validate,
		clock,
		service.AuthConfig{
			AccessTokenTTL:       cfg.AccessTokenTTL,
			RefreshTokenTTL:      cfg.RefreshTokenTTL,
			VerificationTokenTTL: cfg.VerificationTokenTTL,
			OAuthStateTTL:        cfg.OAuthStateTTL,
		},
		logger,
	)

	if !cfg.StravaEnabled() {
		logger.Warn("STRAVA_CLIENT_ID or STRAVA_CLIENT_SECRET not set, strava flows will fail")
	}
	stravaClient := strava.NewClient(strava.Config{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		AuthURL:      cfg.StravaAuthURL,
		TokenURL:     cfg.StravaTokenURL,
		APIBaseURL:   cfg.StravaAPIBaseURL,
		RateLimit:    rate.Limit(cfg.StravaRequestsPerSecond),
		Burst:        cfg.StravaBurst,
		Logger:       logger,
	})
	linkerService := service.NewLinkerService(
		userRepo,
		stravaLinkRepo,
		auditRepo,
		tokenIssuer,
		accountService,
		stravaClient,
		notifier,
		clock,
		service.LinkerConfig{
			ConnectRedirectURL: cfg.StravaConnectRedirectURL,
			LoginRedirectURL:   cfg.StravaLoginRedirectURL,
			StateTTL:           cfg.OAuthStateTTL,
		},
		logger,
	)
	ingestionService := service.NewIngestionService(
		userRepo,
		stravaLinkRepo,
		activityRepo,
		linkerService,
		stravaClient,
		clock,
		service.IngestionConfig{PageTimeout: cfg.SyncPageTimeout},
		logger,
	)

	cookies := handler.DefaultCookieSettings()
	cookies.CookieDomain = cfg.CookieDomain
	cookies.SecureCookies = cfg.CookieSecure

	authHandler := handler.NewAuthHandler(accountService, validate, cookies, logger)
	adminHandler := handler.NewAdminHandler(accountService, validate, logger)
	stravaHandler := handler.NewStravaHandler(linkerService, ingestionService, accountService, cookies, cfg.SiteURL, logger)

	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.Use(echoMiddleware.Recover())
	app.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURI:      true,
		LogRemoteIP: true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"status":     v.Status,
				"method":     v.Method,
				"uri":        v.URI,
				"ip":         v.RemoteIP,
				"latency_ms": v.Latency.Milliseconds(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))

	authMiddleware := apiMiddleware.AuthMiddleware{JWT: &accessManager, Sessions: sessionRepo}
	router := routes.NewRouter(app, authHandler, adminHandler, stravaHandler, authMiddleware)
	router.RegisterRoutes()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	janitor := service.NewJanitor(tokenIssuer, sessionRepo, cfg.CleanupInterval, logger)
	go janitor.Run(ctx)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("server started")
		if err := app.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	logger.Info("server stopped")
}
