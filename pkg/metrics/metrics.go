// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestLatency tracks end-to-end route latency in seconds. Streaming
	// routes observe when the terminal sentinel has been written.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devkit_request_latency_seconds",
			Help:    "End-to-end request latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"route", "outcome"},
	)

	// ModelAttemptsTotal counts every model attempt by outcome.
	ModelAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devkit_model_attempts_total",
			Help: "Model attempts by model and outcome.",
		},
		[]string{"model", "outcome"},
	)

	// FallbacksTotal counts moves from one candidate model to the next.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devkit_fallbacks_total",
			Help: "Moves to the next candidate model, labelled by the model left behind.",
		},
		[]string{"from_model"},
	)

	// BackoffSeconds tracks the waits inserted after rate-limit answers.
	BackoffSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devkit_backoff_seconds",
			Help:    "Backoff waits after rate-limit errors.",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	// TokenUsageTotal tracks the total number of tokens reported by upstream.
	TokenUsageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devkit_token_usage_total",
			Help: "Total number of tokens consumed.",
		},
		[]string{"model", "direction"}, // direction: "input" or "output"
	)

	// FragmentsTotal counts content frames written to clients.
	FragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devkit_fragments_total",
			Help: "Content frames streamed to clients.",
		},
		[]string{"route"},
	)

	// ActiveStreams tracks the number of currently open event streams.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devkit_active_streams",
			Help: "Number of currently open event streams.",
		},
	)

	// CircuitBreakerState tracks the current state of each model's breaker.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "devkit_circuit_breaker_state",
			Help: "Current circuit breaker state: 0=closed, 1=open, 2=half-open.",
		},
		[]string{"model"},
	)

	// CacheHitsTotal tracks the total number of answer cache hits.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devkit_cache_hits_total",
			Help: "Total number of answer cache hits.",
		},
	)

	// CacheLookupsTotal tracks the total number of answer cache lookups.
	CacheLookupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devkit_cache_lookups_total",
			Help: "Total number of answer cache lookups.",
		},
	)

	// CacheHitRatio is hits / lookups, recomputed on every lookup.
	CacheHitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devkit_cache_hit_ratio",
			Help: "Current cache hit ratio (hits / lookups).",
		},
	)

	ratioMu      sync.Mutex
	totalHits    float64
	totalLookups float64
)

// RecordCacheLookup records a cache lookup and updates the hit ratio.
func RecordCacheLookup(hit bool) {
	CacheLookupsTotal.Inc()
	if hit {
		CacheHitsTotal.Inc()
	}

	ratioMu.Lock()
	defer ratioMu.Unlock()
	totalLookups++
	if hit {
		totalHits++
	}
	CacheHitRatio.Set(totalHits / totalLookups)
}
