// Package metrics holds the broker's prometheus instruments. Registered on
// the default registerer; /metrics is served by the HTTP layer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	// ProviderCalls counts outbound provider calls by platform, operation
	// and result (ok|error).
	ProviderCalls *prometheus.CounterVec

	// TokenRefreshes counts refresh attempts by platform and result
	// (ok|error|reauth_required).
	TokenRefreshes *prometheus.CounterVec

	// StateVerifications counts state-token verifications by result
	// (ok|expired|invalid).
	StateVerifications *prometheus.CounterVec

	// InsightsDuration observes end-to-end pipeline latency per platform.
	InsightsDuration *prometheus.HistogramVec
)

// Register initializes and registers the instruments. Idempotent.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ProviderCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_provider_calls_total",
			Help: "Outbound provider API calls",
		}, []string{"platform", "op", "result"})

		TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_token_refreshes_total",
			Help: "Token refresh attempts",
		}, []string{"platform", "result"})

		StateVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_state_verifications_total",
			Help: "OAuth state token verifications",
		}, []string{"result"})

		InsightsDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "broker_insights_duration_seconds",
			Help:    "Canonical metrics pipeline latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"})

		reg.MustRegister(ProviderCalls, TokenRefreshes, StateVerifications, InsightsDuration)
	})
}

// ObserveRefresh is a nil-safe helper; instruments are nil until Register.
func ObserveRefresh(platform, result string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(platform, result).Inc()
	}
}

// ObserveState records a state verification result.
func ObserveState(result string) {
	if StateVerifications != nil {
		StateVerifications.WithLabelValues(result).Inc()
	}
}

// ObserveProviderCall records one outbound call.
func ObserveProviderCall(platform, op, result string) {
	if ProviderCalls != nil {
		ProviderCalls.WithLabelValues(platform, op, result).Inc()
	}
}
