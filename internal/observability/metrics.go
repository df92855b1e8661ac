package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by command.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_redis_error_rate_total",
		Help: "Total number of Redis errors by command",
	}, []string{"operation"})

	// CounterStoreOps counts counter store operations by operation and outcome.
	CounterStoreOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_counter_store_ops_total",
		Help: "Counter store operations by operation and outcome",
	}, []string{"operation", "outcome"})

	// EngagementWrites counts accepted engagement writes by action and effect.
	EngagementWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_engagement_writes_total",
		Help: "Engagement writes by action and whether they changed state",
	}, []string{"action", "effect"})

	// EnqueueFailures counts jobs that could not be enqueued after the counter store was mutated.
	EnqueueFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_enqueue_failures_total",
		Help: "Jobs that failed to enqueue after a successful counter store write",
	}, []string{"kind"})

	// JobsProcessed counts job attempts by kind and outcome (ok, retry, dead).
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_jobs_processed_total",
		Help: "Job attempts by kind and outcome",
	}, []string{"kind", "outcome"})

	// JobsCoalesced counts update-feed jobs dropped because an identical job was pending.
	JobsCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_jobs_coalesced_total",
		Help: "Jobs dropped at enqueue because an identical key was already pending",
	}, []string{"kind"})

	// DeadLetters counts jobs moved to the dead-letter state.
	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_dead_letters_total",
		Help: "Jobs dead-lettered after exhausting retries or failing permanently",
	}, []string{"kind"})

	// JobDuration records handler latency per kind.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "momentum_job_duration_seconds",
		Help:    "Job handler latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// FeedCandidates records the candidate count surviving each feed pipeline stage.
	FeedCandidates = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "momentum_feed_candidates",
		Help:    "Feed candidates remaining after each pipeline stage",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"scope", "stage"})

	// FeedRequests counts feed requests by scope and how they were served.
	FeedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_feed_requests_total",
		Help: "Feed requests by scope and source (computed, cache, stale, pool)",
	}, []string{"scope", "source"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "momentum_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// ReconcileCorrections counts counters corrected by reconciliation.
	ReconcileCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momentum_reconcile_corrections_total",
		Help: "Counters rewritten by reconciliation, by entity",
	}, []string{"entity"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// ObserveJob records the outcome and latency of one job attempt.
func ObserveJob(kind, outcome string, start time.Time) {
	JobsProcessed.WithLabelValues(kind, outcome).Inc()
	JobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
