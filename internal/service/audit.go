package service

import (
	"context"
	"encoding/json"

	"klubban/internal/entity"
	"klubban/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// auditTrail writes audit entries. A failed write is logged and swallowed so it
// never changes the outcome of the audited operation.
type auditTrail struct {
	logs   repository.AuditLogRepository
	logger *logrus.Logger
}

func (a auditTrail) record(
	ctx context.Context,
	actorID *uuid.UUID,
	subjectID *uuid.UUID,
	ipAddress *string,
	action entity.AuditAction,
	metadata map[string]any,
) {
	if a.logs == nil {
		return
	}
	var payload datatypes.JSON
	if metadata != nil {
		bytes, err := json.Marshal(metadata)
		if err != nil {
			a.logger.WithError(err).WithField("action", action).Warn("audit metadata not serializable")
		} else {
			payload = datatypes.JSON(bytes)
		}
	}

	log := &entity.AuditLog{
		ActorID:   actorID,
		SubjectID: subjectID,
		IPAddress: ipAddress,
		Action:    action,
		Metadata:  payload,
	}
	if err := a.logs.Log(ctx, log); err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to write audit log")
	}
}
