// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "streamgw"

var (
	// CacheOperationsTotal tracks cache fabric operations across both tiers.
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, success, error
	//   - tier: l1, l2
	//   - backend: ristretto, redis, badger, none
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache fabric operations",
		},
		[]string{"operation", "status", "tier", "backend"},
	)

	// SingleflightRequestsTotal tracks singleflight behavior in the cache
	// fabric's GetOrCompute.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)

	// ExtractorRequestsTotal tracks outbound extractor provider calls.
	// Labels:
	//   - provider: extractor ID
	//   - operation: search, load, process
	//   - status: success, error, timeout
	ExtractorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_requests_total",
			Help:      "Total number of outbound extractor provider calls",
		},
		[]string{"provider", "operation", "status"},
	)

	// ExtractorLatencySeconds observes provider round-trip latency.
	ExtractorLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extractor_latency_seconds",
			Help:      "Latency of extractor provider calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// ResolveAttemptsTotal tracks the resolver FSM's terminal outcomes.
	// Labels:
	//   - outcome: resolved, non_seekable, dead, loop_detected, error
	ResolveAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_attempts_total",
			Help:      "Total number of link resolution attempts by terminal outcome",
		},
		[]string{"outcome"},
	)

	// AggregationDurationSeconds observes end-to-end Aggregate() latency.
	AggregationDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Latency of a full provider aggregation pass",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ProviderTasksTotal tracks per-provider fan-out task outcomes during
	// aggregation.
	// Labels:
	//   - provider: extractor ID
	//   - status: success, timeout, panic_recovered, error
	ProviderTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tasks_total",
			Help:      "Total number of per-provider aggregation tasks by outcome",
		},
		[]string{"provider", "status"},
	)

	// WorkerRestartsTotal tracks supervisor-driven worker restarts.
	WorkerRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Total number of worker process restarts performed by the supervisor",
		},
	)
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
)

// Cache tier constants.
const (
	CacheTierL1 = "l1"
	CacheTierL2 = "l2"
)

// Cache backend constants.
const (
	CacheBackendRedis     = "redis"
	CacheBackendBadger    = "badger"
	CacheBackendRistretto = "ristretto"
	CacheBackendNone      = "none"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)

// Resolve outcome constants.
const (
	ResolveOutcomeResolved     = "resolved"
	ResolveOutcomeNonSeekable  = "non_seekable"
	ResolveOutcomeDead         = "dead"
	ResolveOutcomeLoopDetected = "loop_detected"
	ResolveOutcomeError        = "error"
)

// Provider task status constants.
const (
	ProviderTaskSuccess        = "success"
	ProviderTaskTimeout        = "timeout"
	ProviderTaskPanicRecovered = "panic_recovered"
	ProviderTaskError          = "error"
)
