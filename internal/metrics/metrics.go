package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_webhook_events_total",
			Help: "Vendor webhook events received, labeled by event type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	CacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_cache_operations_total",
			Help: "Cache lookups and writes, labeled by operation, serving store and result.",
		},
		[]string{"op", "store", "result"},
	)

	CacheFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_cache_fallbacks_total",
			Help: "Operations served by the in-process store after the distributed store failed.",
		},
		[]string{"op"},
	)

	ReconcileScheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_reconcile_scheduled_total",
			Help: "Schedule requests, labeled by decision (scheduled, duplicate, rejected).",
		},
		[]string{"decision"},
	)

	ReconcilePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voice_reconcile_pending",
			Help: "Call ids currently awaiting reconciliation.",
		},
	)

	FetchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_reconcile_fetch_outcomes_total",
			Help: "Reconciliation fetch results, labeled by status.",
		},
		[]string{"status"},
	)

	FetchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voice_reconcile_fetch_duration_seconds",
			Help:    "Histogram of reconciliation fetch durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
	)

	KnowledgeQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_knowledge_queries_total",
			Help: "Knowledge tool-call queries, labeled by category and source (cache, search, timeout, error).",
		},
		[]string{"category", "source"},
	)
)

// ObserveFetch records a fetch duration measured from start.
func ObserveFetch(start time.Time) {
	FetchDurationSeconds.Observe(time.Since(start).Seconds())
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
