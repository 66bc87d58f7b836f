package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"klubban/api/middleware"
	"klubban/internal/dto"
	"klubban/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// StravaHandler serves the browser side of the Strava OAuth flows plus the
// activity and leaderboard reads. Callbacks end in a redirect back to the site
// with the outcome in the query string.
type StravaHandler struct {
	Linker    *service.LinkerService
	Ingestion *service.IngestionService
	Accounts  *service.AccountService
	Cookies   CookieSettings
	SiteURL   string
	Logger    *logrus.Logger
}

func NewStravaHandler(
	linker *service.LinkerService,
	ingestion *service.IngestionService,
	accounts *service.AccountService,
	cookies CookieSettings,
	siteURL string,
	logger *logrus.Logger,
) *StravaHandler {
	return &StravaHandler{
		Linker:    linker,
		Ingestion: ingestion,
		Accounts:  accounts,
		Cookies:   cookies,
		SiteURL:   strings.TrimRight(siteURL, "/"),
		Logger:    logger,
	}
}

func (h *StravaHandler) StartConnect(c echo.Context) error {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	authorizeURL, err := h.Linker.StartConnect(c.Request().Context(), actor)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return h.authorize(c, authorizeURL)
}

func (h *StravaHandler) ConnectCallback(c echo.Context) error {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	_, err := h.Linker.CompleteConnect(c.Request().Context(), actor, callbackInput(c))
	if err != nil {
		requestLogger(c, h.Logger).WithError(err).Warn("strava connect failed")
		return h.redirect(c, "/profile", url.Values{"strava": {"error"}, "error": {errorCode(err)}})
	}
	return h.redirect(c, "/profile", url.Values{"strava": {"connected"}})
}

func (h *StravaHandler) StartLogin(c echo.Context) error {
	authorizeURL, err := h.Linker.StartLogin(c.Request().Context())
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return h.authorize(c, authorizeURL)
}

func (h *StravaHandler) LoginCallback(c echo.Context) error {
	result, err := h.Linker.CompleteLogin(c.Request().Context(), callbackInput(c), requestMeta(c))
	if err != nil {
		requestLogger(c, h.Logger).WithError(err).Warn("strava login failed")
		return h.redirect(c, "/auth/login", url.Values{"error": {errorCode(err)}})
	}
	if result.Tokens != nil {
		h.Cookies.setSessionCookies(c, result.Tokens)
		return h.redirect(c, "/", nil)
	}
	query := url.Values{"outcome": {string(result.Outcome)}}
	if result.Created {
		query.Set("created", "1")
	}
	return h.redirect(c, "/auth/login", query)
}

func (h *StravaHandler) Status(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	link, err := h.Linker.Link(c.Request().Context(), userID)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	response := dto.StravaStatusResponse{Connected: link != nil}
	if link != nil {
		response.AthleteID = &link.AthleteID
	}
	return c.JSON(http.StatusOK, response)
}

func (h *StravaHandler) Disconnect(c echo.Context) error {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	if err := h.Linker.Disconnect(c.Request().Context(), actor); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Sync reports the inserted count even when a later page failed.
func (h *StravaHandler) Sync(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	inserted, err := h.Ingestion.Sync(c.Request().Context(), userID)
	if err != nil {
		status, body := serviceErrorResponse(err)
		if status == http.StatusInternalServerError {
			requestLogger(c, h.Logger).WithError(err).Error("strava sync failed")
			body.Message = "internal server error"
		}
		return c.JSON(status, dto.SyncResponse{Inserted: inserted, Error: body.Message})
	}
	return c.JSON(http.StatusOK, dto.SyncResponse{Inserted: inserted})
}

// Activities lists the caller's rides, newest first. With from and to
// (RFC 3339) it returns the rides in that window instead.
func (h *StravaHandler) Activities(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	ctx := c.Request().Context()

	fromParam, toParam := c.QueryParam("from"), c.QueryParam("to")
	if fromParam != "" || toParam != "" {
		from, to, err := parseWindow(fromParam, toParam)
		if err != nil {
			return writeServiceError(c, h.Logger, err)
		}
		activities, err := h.Ingestion.ActivitiesBetween(ctx, userID, from, to)
		if err != nil {
			return writeServiceError(c, h.Logger, err)
		}
		return c.JSON(http.StatusOK, dto.ActivitiesFromEntities(activities))
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	activities, err := h.Ingestion.ListActivities(ctx, userID, limit)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, dto.ActivitiesFromEntities(activities))
}

func (h *StravaHandler) Leaderboard(c echo.Context) error {
	entries, err := h.Ingestion.Leaderboard(c.Request().Context())
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, dto.LeaderboardFromEntries(entries))
}

func (h *StravaHandler) Feed(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	events, err := h.Accounts.RecentFeed(c.Request().Context(), limit)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, dto.FeedEventsFromEntities(events))
}

// authorize redirects browsers and answers API clients with the URL.
func (h *StravaHandler) authorize(c echo.Context, authorizeURL string) error {
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON) {
		return c.JSON(http.StatusOK, dto.AuthorizeResponse{AuthorizeURL: authorizeURL})
	}
	return c.Redirect(http.StatusFound, authorizeURL)
}

func (h *StravaHandler) redirect(c echo.Context, path string, query url.Values) error {
	target := h.SiteURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.Redirect(http.StatusFound, target)
}

func callbackInput(c echo.Context) service.CallbackInput {
	return service.CallbackInput{
		State: c.QueryParam("state"),
		Code:  c.QueryParam("code"),
		Error: c.QueryParam("error"),
	}
}

func parseWindow(fromParam, toParam string) (time.Time, time.Time, error) {
	fields := map[string]string{}
	from, err := time.Parse(time.RFC3339, fromParam)
	if err != nil {
		fields["from"] = "must be an RFC 3339 timestamp"
	}
	to, err := time.Parse(time.RFC3339, toParam)
	if err != nil {
		fields["to"] = "must be an RFC 3339 timestamp"
	}
	if len(fields) > 0 {
		return time.Time{}, time.Time{}, &service.ValidationError{Fields: fields}
	}
	return from, to, nil
}

// errorCode is the short reason put in callback redirects.
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrAuthorizationDenied):
		return "denied"
	case errors.Is(err, service.ErrTokenExpired), errors.Is(err, service.ErrTokenAlreadyUsed):
		return "expired"
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrInvalidInput):
		return "invalid_state"
	case errors.Is(err, service.ErrAlreadyLinkedToAnotherAccount):
		return "linked_elsewhere"
	case errors.Is(err, service.ErrAlreadyLinked):
		return "already_linked"
	case errors.Is(err, service.ErrUserNotActive):
		return "not_active"
	case errors.Is(err, service.ErrExternalProvider):
		return "provider"
	}
	return "unknown"
}
