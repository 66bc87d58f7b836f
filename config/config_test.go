package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":  "development",
		"DATABASE_URL": "postgres://localhost/klubban",
		"JWT_SECRET":   "dev-secret",
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.VerificationTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.OAuthStateTTL)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
	assert.True(t, cfg.CookieSecure)
	assert.False(t, cfg.StravaEnabled())
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	setEnvs(t, map[string]string{
		"DATABASE_URL": "",
		"JWT_SECRET":   "dev-secret",
	})

	cfg, err := Load()
	assert.Nil(t, cfg)
	assert.Error(t, err)
}

func TestLoadProductionRejectsShortSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":  "production",
		"DATABASE_URL": "postgres://db/klubban",
		"JWT_SECRET":   "short",
	})

	cfg, err := Load()
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET must be at least 32 characters")
}

func TestLoadStravaSettings(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":                "development",
		"DATABASE_URL":               "postgres://localhost/klubban",
		"JWT_SECRET":                 "dev-secret",
		"STRAVA_CLIENT_ID":           "123",
		"STRAVA_CLIENT_SECRET":       "abc",
		"STRAVA_REQUESTS_PER_SECOND": "2.5",
		"LOG_LEVEL":                  "debug",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.StravaEnabled())
	assert.Equal(t, 2.5, cfg.StravaRequestsPerSecond)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())
}

func TestLoadRejectsNonPositiveStravaRate(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":                "development",
		"DATABASE_URL":               "postgres://localhost/klubban",
		"JWT_SECRET":                 "dev-secret",
		"STRAVA_REQUESTS_PER_SECOND": "0",
	})

	_, err := Load()
	assert.Error(t, err)
}
