package elevation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	absentTileHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_absent_tile_hits_total",
		Help: "The total number of lookups of tiles known to be absent",
	})
	tileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_tile_cache_hits_total",
		Help: "The total number of hits on the tile metadata cache",
	})
	tileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_tile_cache_misses_total",
		Help: "The total number of misses on the tile metadata cache",
	})
	sampleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_sample_cache_hits_total",
		Help: "The total number of hits on the sample cache",
	})
	sampleCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_sample_cache_misses_total",
		Help: "The total number of misses on the sample cache",
	})
	sampleCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_sample_cache_evictions_total",
		Help: "The total number of evictions from the sample cache",
	})
	retrievals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lod_retrievals_total",
		Help: "The total number of tile retrievals by status",
	}, []string{"status"})
)
