package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqcore_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"layer"}, // "memory", "redis"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reqcore_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheSize tracks the approximate local cache size in bytes
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reqcore_cache_size_bytes",
			Help: "Approximate size of the local response cache in bytes",
		},
	)

	// CacheEvictions tracks removed entries by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqcore_cache_evictions_total",
			Help: "Total number of cache removals by reason",
		},
		[]string{"reason"}, // "size_budget", "invalidate", "clear"
	)

	// CacheErrors tracks shared tier operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqcore_cache_errors_total",
			Help: "Total number of shared cache tier errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear"
	)
)
