package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_row_cache_hits_total",
		Help: "Total number of row cache hits",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_row_cache_misses_total",
		Help: "Total number of row cache misses",
	})
	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_row_cache_evictions_total",
		Help: "Total number of rows evicted from the row cache",
	})
)
