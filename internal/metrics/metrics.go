package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "industry_aggregation"

// Cache lookup results.
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

var (
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups partitioned by tier and result.",
		},
		[]string{"tier", "result"},
	)

	cacheWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Cache writes partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	sourceFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Upstream dataset fetches partitioned by source and result code.",
		},
		[]string{"source", "code"},
	)

	sourceFetchSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_seconds",
			Help:      "Upstream fetch latency in seconds, cache misses only.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		},
		[]string{"source"},
	)

	searchSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_seconds",
			Help:      "Aggregated search latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"outcome"},
	)
)

// Register attaches the collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cacheLookupsTotal,
		cacheWritesTotal,
		sourceFetchesTotal,
		sourceFetchSeconds,
		searchSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCacheLookup counts a lookup against one tier ("memory" or "durable").
func ObserveCacheLookup(tier string, hit bool) {
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	cacheLookupsTotal.WithLabelValues(tier, result).Inc()
}

// ObserveCacheWrite counts a write by cached outcome.
func ObserveCacheWrite(outcome string) {
	cacheWritesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSourceFetch records one upstream call. code is "OK" on success.
func ObserveSourceFetch(source, code string, duration time.Duration) {
	sourceFetchesTotal.WithLabelValues(source, code).Inc()
	if duration < 0 {
		duration = 0
	}
	sourceFetchSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveSearch records an aggregated search.
func ObserveSearch(duration time.Duration, outcome string) {
	if duration < 0 {
		duration = 0
	}
	searchSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}
