package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups served from a store by store role
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"store"}, // "static", "api"
	)

	// CacheMisses tracks lookups that found nothing
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"store"},
	)

	// CacheWrites tracks entries written into a store
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_cache_writes_total",
			Help: "Total number of entries written into a store",
		},
		[]string{"store"},
	)

	// CacheErrors tracks storage operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "put", "delete", "names", "open"
	)

	// StoresDeleted tracks named stores removed from storage
	StoresDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgecache_stores_deleted_total",
			Help: "Total number of stores deleted",
		},
	)
)
