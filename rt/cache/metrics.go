package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remix_cache_hits_total",
		Help: "InsertOrFind calls that resolved to an existing entry",
	}, []string{"cache"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remix_cache_misses_total",
		Help: "InsertOrFind calls that created a new entry",
	}, []string{"cache"})

	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remix_cache_evictions_total",
		Help: "Entries replaced because the cache was at capacity",
	}, []string{"cache"})

	cacheOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remix_cache_overflows_total",
		Help: "Inserts that grew the cache past capacity because every entry was held",
	}, []string{"cache"})

	cacheCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remix_cache_collected_total",
		Help: "Entries tombstoned by garbage collection",
	}, []string{"cache"})

	cacheLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "remix_cache_live_entries",
		Help: "Current number of live entries",
	}, []string{"cache"})
)

type metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	overflows prometheus.Counter
	collected prometheus.Counter
	live      prometheus.Gauge
}

func newMetrics(name string) metrics {
	return metrics{
		hits:      cacheHits.WithLabelValues(name),
		misses:    cacheMisses.WithLabelValues(name),
		evictions: cacheEvictions.WithLabelValues(name),
		overflows: cacheOverflows.WithLabelValues(name),
		collected: cacheCollected.WithLabelValues(name),
		live:      cacheLive.WithLabelValues(name),
	}
}
