package handler

import (
	"errors"
	"io"
	"net/http"

	"klubban/api/middleware"
	"klubban/internal/dto"
	"klubban/internal/entity"
	"klubban/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type AdminHandler struct {
	Service  *service.AccountService
	Validate *validator.Validate
	Logger   *logrus.Logger
}

func NewAdminHandler(svc *service.AccountService, validate *validator.Validate, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{Service: svc, Validate: validate, Logger: logger}
}

func (h *AdminHandler) ListPending(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	users, err := h.Service.ListPending(c.Request().Context(), limit, offset)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponsesFromEntities(users))
}

func (h *AdminHandler) ListUsers(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	users, err := h.Service.ListUsers(c.Request().Context(), limit, offset)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponsesFromEntities(users))
}

// Approve answers 200 with a warning when the user was already handled, so a
// second moderator clicking the same request sees the current state.
func (h *AdminHandler) Approve(c echo.Context) error {
	actor, userID, err := h.target(c)
	if err != nil {
		return err
	}
	user, err := h.Service.Approve(c.Request().Context(), actor, userID)
	return h.decisionResponse(c, user, err)
}

func (h *AdminHandler) Reject(c echo.Context) error {
	actor, userID, err := h.target(c)
	if err != nil {
		return err
	}
	reason, err := h.reason(c)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	user, err := h.Service.Reject(c.Request().Context(), actor, userID, reason)
	return h.decisionResponse(c, user, err)
}

func (h *AdminHandler) Suspend(c echo.Context) error {
	actor, userID, err := h.target(c)
	if err != nil {
		return err
	}
	reason, err := h.reason(c)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	user, err := h.Service.Suspend(c.Request().Context(), actor, userID, reason)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, actionResponse(user, ""))
}

func (h *AdminHandler) Reactivate(c echo.Context) error {
	actor, userID, err := h.target(c)
	if err != nil {
		return err
	}
	user, err := h.Service.Reactivate(c.Request().Context(), actor, userID)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, actionResponse(user, ""))
}

func (h *AdminHandler) ChangeRole(c echo.Context) error {
	actor, userID, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.ChangeRoleRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := validate(h.Validate, req); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	user, err := h.Service.ChangeRole(c.Request().Context(), actor, userID, req.Role)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, actionResponse(user, ""))
}

func (h *AdminHandler) RevokeSessions(c echo.Context) error {
	actor, userID, err := h.target(c)
	if err != nil {
		return err
	}
	if err := h.Service.RevokeUserSessions(c.Request().Context(), actor, userID); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHandler) decisionResponse(c echo.Context, user *entity.User, err error) error {
	if errors.Is(err, service.ErrNotPendingApproval) {
		return c.JSON(http.StatusOK, actionResponse(user, "user is no longer pending approval"))
	}
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, actionResponse(user, ""))
}

// target resolves the caller and the :id path parameter.
func (h *AdminHandler) target(c echo.Context) (service.Actor, uuid.UUID, error) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return service.Actor{}, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return service.Actor{}, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	return actor, userID, nil
}

// reason reads an optional reason body. An empty body means no reason.
func (h *AdminHandler) reason(c echo.Context) (*string, error) {
	if c.Request().ContentLength == 0 {
		return nil, nil
	}
	var req dto.ReasonRequest
	if err := decodeJSON(c, &req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, service.NewValidationError(err)
	}
	if err := validate(h.Validate, req); err != nil {
		return nil, err
	}
	return req.Reason, nil
}

func actionResponse(user *entity.User, warning string) dto.AdminActionResponse {
	response := dto.AdminActionResponse{Warning: warning}
	if user != nil {
		mapped := dto.UserResponseFromEntity(user)
		response.User = &mapped
	}
	return response
}
