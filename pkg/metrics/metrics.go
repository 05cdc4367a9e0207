package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PermissionChecks counts permission resolutions and their outcome (allow|deny|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydeck_permission_checks_total",
			Help: "Total number of permission resolutions",
		},
		[]string{"type", "result"},
	)

	// DecisionCacheOps counts decision cache hits, misses, and evictions per region.
	DecisionCacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydeck_decision_cache_ops_total",
			Help: "Decision cache operations by region",
		},
		[]string{"region", "op"},
	)

	// SQLStatements counts ad-hoc statements by classification and filter verdict.
	SQLStatements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydeck_sql_statements_total",
			Help: "Ad-hoc SQL statements by operation and verdict",
		},
		[]string{"operation", "verdict"},
	)

	// BulkGrants counts grants created and skipped by bulk operations.
	BulkGrants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydeck_bulk_grants_total",
			Help: "Grants processed by bulk operations",
		},
		[]string{"result"},
	)

	// QueryLatency measures target-database statement latencies.
	QueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querydeck_query_latency_seconds",
			Help:    "Target database statement latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// AuthAttempts counts login attempts by outcome.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydeck_auth_attempts_total",
			Help: "Login attempts by outcome",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querydeck_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
