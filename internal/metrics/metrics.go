// Package metrics registers the Prometheus metrics the router emits.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms.
var (
	// RequestsTotal counts completed routed calls labelled by provider,
	// model, and outcome ("success", "error").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoforge_requests_total",
			Help: "Total number of requests routed to a video generation provider.",
		},
		[]string{"provider", "model", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds,
	// including any cache, retry, and fallback time.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videoforge_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"provider", "model"},
	)

	// CacheResultsTotal counts cache lookups by outcome ("hit" or "miss").
	CacheResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoforge_cache_results_total",
			Help: "Total cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	// ProviderErrors counts errors broken down by provider and ErrorCode.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoforge_provider_errors_total",
			Help: "Total provider errors by error code.",
		},
		[]string{"provider", "error_code"},
	)

	// CircuitBreakerState tracks per-provider circuit breaker state as a
	// gauge: 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "videoforge_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed 1=open 2=half_open).",
		},
		[]string{"provider"},
	)

	// RateLimitRejections counts requests that exhausted their remaining
	// budget waiting on a provider's rate limiter.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoforge_rate_limit_rejections_total",
			Help: "Total requests rejected by per-provider rate limiting.",
		},
		[]string{"provider"},
	)

	// FallbacksTotal counts routed calls that used at least one
	// non-primary candidate.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoforge_fallbacks_total",
			Help: "Total requests served by a fallback provider.",
		},
		[]string{"primary_provider", "served_by"},
	)

	// ShotsTotal counts multi-shot pipeline shots processed by outcome.
	ShotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoforge_pipeline_shots_total",
			Help: "Total shots processed by the multi-shot pipeline, by outcome.",
		},
		[]string{"outcome"},
	)
)
