package metrics

import (
	"mercator-hq/unistore/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics tracks load-result cache performance.
//
// Metrics:
//   - unistore_storage_cache_hits_total: Total cache hits by cache name
//   - unistore_storage_cache_misses_total: Total cache misses by cache name
//   - unistore_storage_cache_entries: Current number of entries in cache
//   - unistore_storage_cache_evictions: Cumulative evictions reported by the cache
type CacheMetrics struct {
	hitsTotal   *prometheus.CounterVec
	missesTotal *prometheus.CounterVec
	entries     *prometheus.GaugeVec

	// Evictions are counted inside the cache; the gauge mirrors its total.
	evictions *prometheus.GaugeVec
}

// NewCacheMetrics creates and registers cache metrics with the provided registry.
func NewCacheMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		hitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),

		missesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),

		entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_entries",
				Help:      "Current number of entries in cache",
			},
			[]string{"cache"},
		),

		evictions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_evictions",
				Help:      "Cumulative number of cache evictions",
			},
			[]string{"cache"},
		),
	}

	registry.MustRegister(
		cm.hitsTotal,
		cm.missesTotal,
		cm.entries,
		cm.evictions,
	)

	return cm
}

// RecordHit records a cache hit.
func (cm *CacheMetrics) RecordHit(cacheName string) {
	cm.hitsTotal.WithLabelValues(cacheName).Inc()
}

// RecordMiss records a cache miss.
func (cm *CacheMetrics) RecordMiss(cacheName string) {
	cm.missesTotal.WithLabelValues(cacheName).Inc()
}

// UpdateSize updates the current size of a cache.
func (cm *CacheMetrics) UpdateSize(cacheName string, size int) {
	cm.entries.WithLabelValues(cacheName).Set(float64(size))
}

// SetEvictions mirrors the cache's cumulative eviction count.
func (cm *CacheMetrics) SetEvictions(cacheName string, evictions int64) {
	cm.evictions.WithLabelValues(cacheName).Set(float64(evictions))
}
