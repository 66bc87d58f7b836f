package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"klubban/api/middleware"
	"klubban/internal/dto"
	"klubban/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// CookieSettings controls the session cookies shared by the auth and Strava
// handlers.
type CookieSettings struct {
	RefreshCookieName string
	CookieDomain      string
	SecureCookies     bool
	SameSite          http.SameSite
}

func DefaultCookieSettings() CookieSettings {
	return CookieSettings{
		RefreshCookieName: "refresh_token",
		SecureCookies:     true,
		SameSite:          http.SameSiteLaxMode,
	}
}

type AuthHandler struct {
	Service  *service.AccountService
	Validate *validator.Validate
	Cookies  CookieSettings
	Logger   *logrus.Logger
}

func NewAuthHandler(svc *service.AccountService, validate *validator.Validate, cookies CookieSettings, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		Service:  svc,
		Validate: validate,
		Cookies:  cookies,
		Logger:   logger,
	}
}

func (h *AuthHandler) Signup(c echo.Context) error {
	var req dto.SignupRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.SignupInput{
		Username:        req.Username,
		Email:           req.Email,
		DisplayName:     req.DisplayName,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	}
	user, err := h.Service.Signup(c.Request().Context(), input, requestMeta(c))
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, dto.UserResponseFromEntity(user))
}

// VerifyEmail accepts the token from the emailed link (query) or a JSON body.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" && c.Request().Method == http.MethodPost {
		var req dto.VerifyEmailRequest
		if err := decodeJSON(c, &req); err != nil {
			return writeError(c, http.StatusBadRequest, err)
		}
		if err := validate(h.Validate, req); err != nil {
			return writeServiceError(c, h.Logger, err)
		}
		token = req.Token
	}
	user, err := h.Service.VerifyEmail(c.Request().Context(), token)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromEntity(user))
}

func (h *AuthHandler) ResendVerification(c echo.Context) error {
	var req dto.ResendVerificationRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := validate(h.Validate, req); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	if err := h.Service.ResendVerification(c.Request().Context(), req.Email); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req dto.LoginRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := validate(h.Validate, req); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	input := service.LoginInput{Login: req.Login, Password: req.Password}
	result, err := h.Service.Login(c.Request().Context(), input, requestMeta(c))
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	if result.Tokens != nil {
		h.Cookies.setSessionCookies(c, result.Tokens)
	}
	return c.JSON(http.StatusOK, mapLoginResponse(result))
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	refreshToken := h.Cookies.readRefreshCookie(c)
	if refreshToken == "" {
		return writeError(c, http.StatusUnauthorized, errors.New("missing refresh token"))
	}
	tokens, err := h.Service.Refresh(c.Request().Context(), refreshToken)
	if err != nil {
		if errors.Is(err, service.ErrUserNotActive) || errors.Is(err, service.ErrInvalidToken) {
			h.Cookies.clearSessionCookies(c)
		}
		return writeServiceError(c, h.Logger, err)
	}
	h.Cookies.setSessionCookies(c, tokens)
	return c.JSON(http.StatusOK, dto.TokenResponse{
		AccessToken: tokens.AccessToken,
		ExpiresIn:   tokens.ExpiresIn,
	})
}

func (h *AuthHandler) Logout(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	sessionID, ok := middleware.SessionIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	if err := h.Service.Logout(c.Request().Context(), sessionID, userID, requestMeta(c)); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	h.Cookies.clearSessionCookies(c)
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) LogoutAll(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	if err := h.Service.LogoutAll(c.Request().Context(), userID, requestMeta(c)); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	h.Cookies.clearSessionCookies(c)
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) Me(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	user, err := h.Service.GetUser(c.Request().Context(), userID)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	if user == nil {
		return writeError(c, http.StatusNotFound, errors.New("user not found"))
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromEntity(user))
}

func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.UpdateProfileRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.ProfileInput{
		DisplayName:      req.DisplayName,
		Bio:              req.Bio,
		LeaderboardOptIn: req.LeaderboardOptIn,
	}
	user, err := h.Service.UpdateProfile(c.Request().Context(), userID, input)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromEntity(user))
}

// Member returns the public profile of an active member.
func (h *AuthHandler) Member(c echo.Context) error {
	user, err := h.Service.GetByUsername(c.Request().Context(), c.Param("username"))
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	if user == nil || !user.IsActive() {
		return writeError(c, http.StatusNotFound, service.ErrUserNotFound)
	}
	return c.JSON(http.StatusOK, dto.PublicUserFromEntity(user))
}

func (s CookieSettings) setSessionCookies(c echo.Context, tokens *service.SessionTokens) {
	s.setCookie(c, s.RefreshCookieName, tokens.RefreshToken, tokens.RefreshExpiresIn)
	s.setCookie(c, middleware.AccessCookieName, tokens.AccessToken, tokens.ExpiresIn)
}

func (s CookieSettings) clearSessionCookies(c echo.Context) {
	s.clearCookie(c, s.RefreshCookieName)
	s.clearCookie(c, middleware.AccessCookieName)
}

func (s CookieSettings) setCookie(c echo.Context, name, value string, expiresIn int64) {
	if value == "" {
		return
	}
	maxAge := int(expiresIn)
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.CookieDomain,
		MaxAge:   maxAge,
		Expires:  time.Now().Add(time.Duration(expiresIn) * time.Second),
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: s.SameSite,
	})
}

func (s CookieSettings) clearCookie(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   s.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: s.SameSite,
	})
}

func (s CookieSettings) readRefreshCookie(c echo.Context) string {
	cookie, err := c.Cookie(s.RefreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func decodeJSON(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func validate(v *validator.Validate, payload any) error {
	if v == nil {
		return nil
	}
	return service.NewValidationError(v.Struct(payload))
}

type errorResponse struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	// Retry hints what the client can do next: request_new, try_again or reconnect.
	Retry string `json:"retry,omitempty"`
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, errorResponse{Message: err.Error()})
}

func writeServiceError(c echo.Context, logger *logrus.Logger, err error) error {
	status, body := serviceErrorResponse(err)
	if status == http.StatusInternalServerError {
		requestLogger(c, logger).WithError(err).Error("request failed")
		body.Message = "internal server error"
	}
	return c.JSON(status, body)
}

func requestLogger(c echo.Context, logger *logrus.Logger) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithFields(logrus.Fields{
		"method": c.Request().Method,
		"uri":    c.Request().RequestURI,
	})
}

func serviceErrorResponse(err error) (int, errorResponse) {
	body := errorResponse{Message: err.Error()}
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		body.Message = "validation failed"
		body.Fields = validationErr.Fields
		return http.StatusBadRequest, body
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, body
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, body
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, body
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, service.ErrStateConflict):
		return http.StatusConflict, body
	case errors.Is(err, service.ErrTokenExpired), errors.Is(err, service.ErrTokenAlreadyUsed):
		body.Retry = "request_new"
		return http.StatusGone, body
	case errors.Is(err, service.ErrInvalidToken):
		body.Retry = "try_again"
		return http.StatusBadRequest, body
	case errors.Is(err, service.ErrReconnectRequired), errors.Is(err, service.ErrAuthorizationDenied):
		body.Retry = "reconnect"
		return http.StatusBadGateway, body
	case errors.Is(err, service.ErrExternalProvider):
		body.Retry = "try_again"
		return http.StatusBadGateway, body
	}
	return http.StatusInternalServerError, body
}

func parseLimitOffset(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return limit, offset
}

func stringPtr(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func requestMeta(c echo.Context) service.RequestMeta {
	return service.RequestMeta{
		IPAddress: stringPtr(c.RealIP()),
		UserAgent: stringPtr(c.Request().UserAgent()),
	}
}

func mapLoginResponse(result *service.LoginResult) *dto.LoginResponse {
	if result == nil {
		return &dto.LoginResponse{}
	}
	response := &dto.LoginResponse{
		Outcome: string(result.Outcome),
		Message: outcomeMessage(result.Outcome),
		Reason:  result.Reason,
		Created: result.Created,
	}
	if result.User != nil {
		user := dto.UserResponseFromEntity(result.User)
		response.User = &user
	}
	if result.Tokens != nil {
		response.AccessToken = result.Tokens.AccessToken
		response.ExpiresIn = result.Tokens.ExpiresIn
	}
	return response
}

func outcomeMessage(outcome service.LoginOutcome) string {
	switch outcome {
	case service.OutcomeEmailUnverified:
		return "Confirm your email address before logging in."
	case service.OutcomePendingApproval:
		return "Your membership is waiting for approval."
	case service.OutcomeRejected:
		return "Your membership application was rejected."
	case service.OutcomeSuspended:
		return "Your account is suspended."
	}
	return ""
}
