package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All collectors live in the default registry so one /metrics handler
// serves every binary. Unused planes simply report zero.

// namespace defines the global prefix for all metrics (e.g., visibility_...).
const namespace = "visibility"

// lowLatencyBuckets covers the data plane, where a request is a cache read
// plus a pure evaluation. Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// CONTROL PLANE (authoring HTTP API)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration measures the latency of HTTP requests.
	// Metric: visibility_control_plane_http_handling_seconds
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in Control Plane",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// ControlPlaneReqTotal counts the total number of HTTP requests.
	// Metric: visibility_control_plane_http_requests_total
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in Control Plane",
	}, []string{"method", "route", "code"})

	// -------------------------------------------------------------------------
	// DATA PLANE (evaluation HTTP API + caches)
	// -------------------------------------------------------------------------

	// DataPlaneReqDuration measures the latency of evaluation requests.
	// Metric: visibility_data_plane_http_handling_seconds
	DataPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle evaluation requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "route"})

	// DataPlaneReqTotal counts the total number of evaluation requests.
	// Metric: visibility_data_plane_http_requests_total
	DataPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "http_requests_total",
		Help:      "Total evaluation requests",
	}, []string{"method", "route", "code"})

	// Decisions counts evaluation outcomes. reason is "allowed" for an allow.
	// Metric: visibility_data_plane_decisions_total
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "decisions_total",
		Help:      "Total visibility decisions by scope and reason",
	}, []string{"scope", "reason"})

	// --- Cache L1 Metrics (Otter) ---

	DataPlaneCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_hits_total",
		Help:      "Total L1 cache hits (in-memory)",
	})

	DataPlaneCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_misses_total",
		Help:      "Total L1 cache misses",
	})

	// DataPlaneCacheEvictions tracks entries removed due to capacity pressure.
	DataPlaneCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_evictions_total",
		Help:      "Total items evicted due to capacity pressure",
	})

	DataPlaneCacheUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_items_count",
		Help:      "Current number of items in the L1 cache",
	})

	DataPlaneInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_invalidations_total",
		Help:      "Total cache invalidation events received via PubSub",
	})

	// --- User-Agent classification memo ---

	UAMemoHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "visitor",
		Name:      "ua_memo_hits_total",
		Help:      "Total user-agent classifications served from the memo",
	})

	UAMemoMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "visitor",
		Name:      "ua_memo_misses_total",
		Help:      "Total user-agent classifications computed",
	})

	// -------------------------------------------------------------------------
	// SYNCER (Workers)
	// -------------------------------------------------------------------------

	// SyncerJobDuration measures freshness (latency from enqueue to processed).
	// Metric: visibility_syncer_job_processing_duration_seconds
	SyncerJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "job_processing_duration_seconds",
		Help:      "End-to-end latency from enqueue to processing finish",
		Buckets:   prometheus.DefBuckets,
	})

	SyncerJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "jobs_total",
		Help:      "Total propagation jobs processed",
	}, []string{"status"}) // success, fail

	SyncerHydratedPages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "hydrated_pages_total",
		Help:      "Total pages written to L2 by full hydration runs",
	})

	RedisQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_queue_depth",
		Help:      "Current number of items in the update queue",
	})

	// --- Redis client pool (go-redis PoolStats) ---

	RedisPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_connections",
		Help:      "Current Redis pool connections by state",
	}, []string{"state"}) // total, idle, stale

	RedisPoolHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_hits_total",
		Help:      "Times a free connection was found in the pool",
	})

	RedisPoolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_misses_total",
		Help:      "Times a new connection had to be dialled",
	})

	RedisPoolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_timeouts_total",
		Help:      "Times waiting for a pool connection timed out",
	})

	// -------------------------------------------------------------------------
	// DATABASE
	// -------------------------------------------------------------------------

	// DatabasePoolConnections reports pgxpool gauges by state (total, idle, in_use, max).
	// Metric: visibility_database_pool_connections
	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Current PostgreSQL pool connections by state",
	}, []string{"state"})
)
