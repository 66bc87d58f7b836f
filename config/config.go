package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	SiteURL     string `env:"SITE_URL" envDefault:"http://localhost:8080"`

	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	JWTSecret            string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer            string        `env:"JWT_ISSUER" envDefault:"klubban"`
	AccessTokenTTL       time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL      time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	VerificationTokenTTL time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"24h"`
	OAuthStateTTL        time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`

	CookieDomain string `env:"COOKIE_DOMAIN"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"true"`

	StravaClientID           string        `env:"STRAVA_CLIENT_ID"`
	StravaClientSecret       string        `env:"STRAVA_CLIENT_SECRET"`
	StravaAuthURL            string        `env:"STRAVA_AUTH_URL" envDefault:"https://www.strava.com/oauth/authorize"`
	StravaTokenURL           string        `env:"STRAVA_TOKEN_URL" envDefault:"https://www.strava.com/oauth/token"`
	StravaAPIBaseURL         string        `env:"STRAVA_API_BASE_URL" envDefault:"https://www.strava.com/api/v3"`
	StravaConnectRedirectURL string        `env:"STRAVA_CONNECT_REDIRECT_URL" envDefault:"http://localhost:8080/strava/connect/callback"`
	StravaLoginRedirectURL   string        `env:"STRAVA_LOGIN_REDIRECT_URL" envDefault:"http://localhost:8080/auth/strava/callback"`
	StravaRequestsPerSecond  float64       `env:"STRAVA_REQUESTS_PER_SECOND" envDefault:"0.11"`
	StravaBurst              int           `env:"STRAVA_BURST" envDefault:"10"`
	SyncPageTimeout          time.Duration `env:"SYNC_PAGE_TIMEOUT" envDefault:"15s"`

	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	ResendAPIKey string `env:"RESEND_API_KEY"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"Klubbans Vanner <noreply@klubban.se>"`
}

// Load reads .env when present, then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("no .env file loaded")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Environment != "development" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
	}
	if c.StravaRequestsPerSecond <= 0 {
		return errors.New("STRAVA_REQUESTS_PER_SECOND must be positive")
	}
	return nil
}

func (c *Config) StravaEnabled() bool {
	return c.StravaClientID != "" && c.StravaClientSecret != ""
}

func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
