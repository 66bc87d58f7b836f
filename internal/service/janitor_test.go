package service

import (
	"context"
	"testing"
	"time"

	"klubban/internal/entity"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitorRunSweepsBeforeStopping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sessions := memSessions{env.store}

	userID := uuid.New()
	require.NoError(t, sessions.Create(ctx, &entity.Session{UserID: userID, TokenHash: "old", ExpiresAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, sessions.Create(ctx, &entity.Session{UserID: userID, TokenHash: "new", ExpiresAt: time.Now().Add(time.Hour)}))

	_, err := env.tokens.IssueFlowState(ctx, entity.FlowLogin, nil, time.Minute)
	require.NoError(t, err)
	env.clock.Advance(time.Hour)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	janitor := NewJanitor(env.tokens, sessions, time.Hour, logger)

	stopped, cancel := context.WithCancel(ctx)
	cancel()
	done := make(chan struct{})
	go func() {
		janitor.Run(stopped)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	assert.Len(t, env.store.flowStates, 0)
	assert.Len(t, env.store.sessions, 1)
}
