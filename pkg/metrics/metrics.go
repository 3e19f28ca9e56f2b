package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lms_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// TokenRefreshes counts refresh-token exchanges and their outcome
	// (success|invalid|expired|revoked|reuse).
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lms_token_refresh_total",
			Help: "Total number of refresh token exchanges",
		},
		[]string{"result"},
	)

	// ReuseAlerts counts rotated-token replay detections. Each one triggers a
	// revoke-all for the affected user.
	ReuseAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lms_refresh_reuse_alerts_total",
			Help: "Refresh token reuse detections",
		},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lms_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lms_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
