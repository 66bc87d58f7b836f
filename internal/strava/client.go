package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"klubban/internal/metrics"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultAuthURL    = "https://www.strava.com/oauth/authorize"
	DefaultTokenURL   = "https://www.strava.com/oauth/token"
	DefaultAPIBaseURL = "https://www.strava.com/api/v3"
	DefaultScopes     = "activity:read_all,profile:read_all"

	breakerName = "strava"
)

var (
	// ErrUnauthorized means Strava rejected the access token or grant.
	ErrUnauthorized = errors.New("strava: unauthorized")
	// ErrUnavailable means the circuit breaker is refusing calls.
	ErrUnavailable = errors.New("strava: temporarily unavailable")
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava: status %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	Scopes       string

	// RateLimit caps outbound requests per second. Zero uses Strava's
	// default of 100 requests per 15 minutes.
	RateLimit rate.Limit
	Burst     int

	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client talks to the Strava OAuth and REST APIs. All calls share one rate
// limiter and one circuit breaker.
type Client struct {
	oauth      oauth2.Config
	apiBaseURL string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *logrus.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.Scopes == "" {
		cfg.Scopes = DefaultScopes
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Limit(100.0 / (15 * 60))
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	logger := cfg.Logger
	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			// Strava expects a comma separated scope list in one parameter.
			Scopes: []string{cfg.Scopes},
		},
		apiBaseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		breaker:    gobreaker.NewCircuitBreaker[[]byte](settings),
		logger:     logger,
	}
}

// AuthorizeURL builds the URL the browser is sent to. state is echoed back on
// the callback to redirectURI.
func (c *Client) AuthorizeURL(state string, redirectURI string) string {
	cfg := c.oauth
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*Grant, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, c.tokenError("exchange code", err)
	}

	grant := &Grant{Tokens: tokensFrom(token)}
	athlete, err := athleteFrom(token)
	if err != nil {
		return nil, err
	}
	grant.Athlete = *athlete
	return grant, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
	}).Token()
	if err != nil {
		return nil, c.tokenError("refresh token", err)
	}
	tokens := tokensFrom(token)
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return &tokens, nil
}

// ListActivities returns one page of the athlete's activities that started
// after the given time, oldest first.
func (c *Client) ListActivities(ctx context.Context, accessToken string, after time.Time, page, perPage int) ([]Activity, error) {
	query := url.Values{}
	query.Set("after", strconv.FormatInt(after.Unix(), 10))
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	body, err := c.get(ctx, accessToken, "/athlete/activities?"+query.Encode())
	if err != nil {
		return nil, err
	}
	var activities []Activity
	if err := json.Unmarshal(body, &activities); err != nil {
		return nil, fmt.Errorf("strava: decode activities: %w", err)
	}
	return activities, nil
}

func (c *Client) get(ctx context.Context, accessToken string, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var clientErr error
	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(data)}
		case resp.StatusCode == http.StatusUnauthorized:
			// Client-side failures do not count against the breaker.
			clientErr = ErrUnauthorized
			return nil, nil
		case resp.StatusCode >= 400:
			clientErr = &APIError{StatusCode: resp.StatusCode, Body: truncate(data)}
			return nil, nil
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	if err != nil {
		return nil, err
	}
	if clientErr != nil {
		return nil, clientErr
	}
	return body, nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) tokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		if status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return fmt.Errorf("strava: %s: %w", op, ErrUnauthorized)
		}
	}
	c.logger.WithError(err).WithField("op", op).Warn("strava token request failed")
	return fmt.Errorf("strava: %s: %w", op, err)
}

func tokensFrom(token *oauth2.Token) Tokens {
	tokens := Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if expiresAt, ok := numberExtra(token.Extra("expires_at")); ok {
		tokens.ExpiresAt = expiresAt
	} else if !token.Expiry.IsZero() {
		tokens.ExpiresAt = token.Expiry.Unix()
	}
	return tokens
}

func athleteFrom(token *oauth2.Token) (*Athlete, error) {
	raw := token.Extra("athlete")
	if raw == nil {
		return nil, errors.New("strava: token response has no athlete")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("strava: encode athlete: %w", err)
	}
	var athlete Athlete
	if err := json.Unmarshal(data, &athlete); err != nil {
		return nil, fmt.Errorf("strava: decode athlete: %w", err)
	}
	if athlete.ID == 0 {
		return nil, errors.New("strava: athlete id missing")
	}
	return &athlete, nil
}

func numberExtra(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
