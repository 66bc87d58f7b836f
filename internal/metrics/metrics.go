package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Account lifecycle
var (
	// StateTransitions counts committed lifecycle transitions.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klubban_state_transitions_total",
			Help: "Committed account state transitions by from and to state",
		},
		[]string{"from", "to"},
	)

	// LoginOutcomes counts password and Strava logins by resulting outcome.
	LoginOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klubban_login_outcomes_total",
			Help: "Login attempts by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// TokenConsumes counts verification token and flow state consumption results.
	TokenConsumes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klubban_token_consumes_total",
			Help: "Token consumption attempts by kind and result",
		},
		[]string{"kind", "result"},
	)

	// Notifications counts notifier deliveries.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klubban_notifications_total",
			Help: "Notifications by kind and status",
		},
		[]string{"kind", "status"},
	)
)

// Strava
var (
	ActivitiesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klubban_strava_activities_total",
			Help: "Strava activities processed by sync, by result",
		},
		[]string{"result"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klubban_strava_syncs_total",
			Help: "Strava sync runs by status",
		},
		[]string{"status"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klubban_strava_token_refreshes_total",
			Help: "Strava access token refreshes by status",
		},
		[]string{"status"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "klubban_circuit_breaker_state",
			Help: "Current state of the outbound circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
