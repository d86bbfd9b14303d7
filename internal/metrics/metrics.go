// Package metrics defines Prometheus metrics for the session bridge.
//
// Metric naming follows Prometheus conventions:
//   - session_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BridgeOutcomesTotal counts bridge passes by terminal state.
	BridgeOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_bridge_outcomes_total",
			Help: "Total session validation passes by terminal state.",
		},
		[]string{"state"},
	)

	// RegenerationsTotal counts identity session regenerations by result.
	RegenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_regenerations_total",
			Help: "Total identity session regenerations by result.",
		},
		[]string{"result"},
	)

	// LoginsTotal counts opaque session issuance attempts by flow and result.
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_logins_total",
			Help: "Total login attempts by flow and result.",
		},
		[]string{"flow", "result"},
	)

	// IdentityRequestSeconds is a histogram of identity provider calls.
	IdentityRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_identity_request_duration_seconds",
			Help:    "Duration of identity provider calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		BridgeOutcomesTotal,
		RegenerationsTotal,
		LoginsTotal,
		IdentityRequestSeconds,
	)
}
