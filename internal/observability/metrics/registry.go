// Package metrics provides centralized Prometheus metrics for the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track HTTP request patterns and performance
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// LLM metrics track upstream completion traffic, cost and reliability
var (
	// LLMRequestsTotal counts completion requests by model and outcome.
	// Outcome is one of: success, cache_hit, rejected, error.
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM completion requests",
		},
		[]string{"model", "outcome"},
	)

	// LLMRequestDuration measures end-to-end completion latency including
	// retries, by model and whether the response came from cache.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "End-to-end LLM completion duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"model", "cached"},
	)

	// LLMTokensTotal counts tokens consumed upstream by model and direction.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total tokens consumed upstream",
		},
		[]string{"model", "direction"}, // direction: prompt, completion
	)

	// LLMCostUSDTotal accumulates the estimated upstream spend.
	LLMCostUSDTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cost_usd_total",
			Help: "Estimated upstream cost in USD",
		},
		[]string{"model"},
	)

	// LLMRetriesTotal counts upstream attempts beyond the first.
	LLMRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llm_retries_total",
			Help: "Total upstream retry attempts",
		},
	)
)

// Cache metrics track response cache effectiveness
var (
	// CacheOperationsTotal counts cache lookups by result (hit, miss).
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheEntries tracks the number of entries in the cache backend.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Number of entries in the response cache",
		},
	)

	// CacheTimeSavedSecondsTotal accumulates latency avoided by cache hits,
	// estimated from a moving average of upstream completion time.
	CacheTimeSavedSecondsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_time_saved_seconds_total",
			Help: "Estimated latency avoided by serving completions from cache",
		},
	)
)

// Resilience metrics expose circuit breaker state
var (
	// CircuitBreakerState reports breaker state per dependency:
	// 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	// CircuitBreakerRejectionsTotal counts calls rejected by an open breaker.
	CircuitBreakerRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejections_total",
			Help: "Total calls rejected by an open circuit breaker",
		},
		[]string{"breaker"},
	)
)

// Health metrics track dependency probe outcomes
var (
	// HealthProbeStatus reports the last probe outcome (1 healthy, 0 not).
	HealthProbeStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "health_probe_status",
			Help: "Last health probe outcome (1 healthy, 0 unhealthy)",
		},
		[]string{"probe"},
	)
)

// RecordHTTPRequest records an HTTP request with its metadata
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordCompletion records one finished completion request.
func RecordCompletion(model, outcome string, cached bool, duration time.Duration) {
	LLMRequestsTotal.WithLabelValues(model, outcome).Inc()

	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	LLMRequestDuration.WithLabelValues(model, cachedLabel).Observe(duration.Seconds())
}

// RecordUsage records token consumption and estimated cost for a completion.
func RecordUsage(model string, promptTokens, completionTokens int, costUSD float64) {
	LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	LLMCostUSDTotal.WithLabelValues(model).Add(costUSD)
}
