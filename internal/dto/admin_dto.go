package dto

import (
	"time"

	"klubban/internal/entity"
)

type ReasonRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=1000"`
}

type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user moderator admin"`
}

// AdminActionResponse reports the resulting user. Warning is set when the
// action was a no-op, such as approving a user that is no longer pending.
type AdminActionResponse struct {
	Warning string        `json:"warning,omitempty"`
	User    *UserResponse `json:"user,omitempty"`
}

type FeedEventResponse struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func FeedEventsFromEntities(events []entity.FeedEvent) []FeedEventResponse {
	responses := make([]FeedEventResponse, 0, len(events))
	for _, event := range events {
		responses = append(responses, FeedEventResponse{
			Kind:      string(event.Kind),
			Message:   event.Message,
			Username:  event.User.Username,
			CreatedAt: event.CreatedAt,
		})
	}
	return responses
}
