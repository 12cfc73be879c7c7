// Package metrics exposes the daemon's Prometheus instrumentation as
// package-level collectors. Registration happens eagerly at init; the HTTP
// layer mounts Handler() under /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsBuffered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendd_events_buffered_total",
		Help: "Relation events accepted into the publish buffer",
	})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendd_events_dropped_total",
		Help: "Relation events dropped because the publish buffer was full",
	})
	EventsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendd_events_published_total",
		Help: "Relation events flushed to the message bus",
	})
	EventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendd_events_consumed_total",
		Help: "Relation events applied to the counter store",
	})
	EventFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendd_event_failures_total",
		Help: "Relation events that failed to decode or apply",
	})
	BatchRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trendd_batch_runs_total",
		Help: "Batch job run outcomes",
	}, []string{"job", "outcome"})
	RankCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendd_rank_cache_hits_total",
		Help: "Ranking queries served from the ranked cache",
	})
	RankCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendd_rank_cache_misses_total",
		Help: "Ranking queries that fell through to the durable store",
	})
	QueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trendd_query_duration_seconds",
		Help:    "End-to-end ranking query latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		EventsBuffered, EventsDropped, EventsPublished, EventsConsumed,
		EventFailures, BatchRuns, RankCacheHits, RankCacheMisses,
		QueryDuration,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
