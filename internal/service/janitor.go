package service

import (
	"context"
	"time"

	"klubban/internal/repository"

	"github.com/sirupsen/logrus"
)

// Janitor periodically removes expired OAuth flow states and sessions.
type Janitor struct {
	tokens   *TokenIssuer
	sessions repository.SessionRepository
	interval time.Duration
	logger   *logrus.Logger
}

func NewJanitor(tokens *TokenIssuer, sessions repository.SessionRepository, interval time.Duration, logger *logrus.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Janitor{tokens: tokens, sessions: sessions, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (j *Janitor) Sweep(ctx context.Context) {
	purged, err := j.tokens.PurgeExpiredFlowStates(ctx)
	if err != nil {
		j.logger.WithError(err).Warn("failed to purge expired oauth flow states")
	} else if purged > 0 {
		j.logger.WithField("purged", purged).Info("purged expired oauth flow states")
	}
	if err := j.sessions.CleanupExpired(ctx); err != nil {
		j.logger.WithError(err).Warn("failed to clean up expired sessions")
	}
}
