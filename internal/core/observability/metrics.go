// Package observability holds the Prometheus collectors shared across the service.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of feature service calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"op"},
	)

	gridFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_fetch_total",
			Help: "Windowed fetches by grid facade and outcome.",
		},
		[]string{"facade", "outcome"},
	)

	countFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_count_failures_total",
			Help: "Count queries that failed and degraded the total to unknown.",
		},
		[]string{"collection"},
	)

	pageCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "page_cache_results_total",
			Help: "Page cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)
)

const (
	FacadePush     = "push"
	FacadeCallback = "callback"

	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeStale = "stale"
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func HTTPRequests(method, route string, status int) prometheus.Counter {
	return httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status))
}

func ObserveUpstreamLatency(op string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncGridFetch(facade, outcome string) {
	gridFetches.WithLabelValues(facade, outcome).Inc()
}

func GridFetches(facade, outcome string) prometheus.Counter {
	return gridFetches.WithLabelValues(facade, outcome)
}

func IncCountFailure(collection string) {
	countFailures.WithLabelValues(collection).Inc()
}

func IncPageCache(tier string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	pageCacheResults.WithLabelValues(tier, outcome).Inc()
}

func PageCacheResults(tier, outcome string) prometheus.Counter {
	return pageCacheResults.WithLabelValues(tier, outcome)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOps.WithLabelValues(op, result).Observe(durationSeconds)
}
