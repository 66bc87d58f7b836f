package service

import (
	"time"

	"klubban/internal/entity"
	"klubban/internal/utils"

	"github.com/google/uuid"
)

type JWTAccessIssuer struct {
	Manager *utils.JWTManager
}

func (j JWTAccessIssuer) IssueAccessToken(user entity.User, sessionID uuid.UUID) (string, time.Duration, error) {
	if j.Manager == nil {
		return "", 0, ErrInvalidToken
	}
	return j.Manager.IssueAccessToken(utils.AccessSubject{
		UserID:    user.ID.String(),
		Username:  user.Username,
		Role:      string(user.Role),
		SessionID: sessionID.String(),
	})
}
