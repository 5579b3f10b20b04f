package metrics

import (
	"fmt"
	"sync"
	"time"

	"mercator-hq/unistore/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Collector is the entry point for all Prometheus metrics in unistore.
// It owns metric registration and exposes the recording methods storage
// wrappers call after every operation.
//
// A Collector built from a disabled configuration records nothing, so
// callers never need to nil-check it.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	// Storage operation metrics
	storageMetrics *StorageMetrics

	// Load-result cache metrics
	cacheMetrics *CacheMetrics

	// Cardinality tracking
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a fresh registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "unistore",
//		Subsystem: "storage",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = append([]float64(nil), config.DefaultDurationBuckets...)
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}

	c.storageMetrics = NewStorageMetrics(cfg, registry)
	c.cacheMetrics = NewCacheMetrics(cfg, registry)

	return c
}

// RecordOperation records a completed storage operation.
//
// Parameters:
//   - backend: Backend type (e.g., "memory", "file", "sqlite")
//   - operation: Operation name (e.g., "save", "load", "list")
//   - status: "success" or "error"
//   - duration: Wall time of the call
func (c *Collector) RecordOperation(backend, operation, status string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}

	labelSet := fmt.Sprintf("op:%s:%s:%s", backend, operation, status)
	if !c.cardinalityLimiter.Allow(labelSet) {
		operation = "other"
	}

	c.storageMetrics.RecordOperation(backend, operation, status, duration)
}

// UpdateItems sets the current item count reported by a backend health check.
func (c *Collector) UpdateItems(backend string, items int64) {
	if !c.config.Enabled {
		return
	}
	c.storageMetrics.UpdateItems(backend, items)
}

// RecordCacheHit records a load served from the result cache.
func (c *Collector) RecordCacheHit(cache string) {
	if !c.config.Enabled {
		return
	}
	c.cacheMetrics.RecordHit(cache)
}

// RecordCacheMiss records a load that had to reach the backend.
func (c *Collector) RecordCacheMiss(cache string) {
	if !c.config.Enabled {
		return
	}
	c.cacheMetrics.RecordMiss(cache)
}

// UpdateCacheStats publishes a cache's size and cumulative evictions.
func (c *Collector) UpdateCacheStats(cache string, size int, evictions int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheMetrics.UpdateSize(cache, size)
	c.cacheMetrics.SetEvictions(cache, evictions)
}

// Registry returns the Prometheus registry metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter caps the number of distinct label sets to prevent
// memory growth from unbounded label values.
type CardinalityLimiter struct {
	maxLabels int
	labels    map[string]struct{}
	mu        sync.RWMutex
}

// NewCardinalityLimiter creates a limiter allowing up to maxLabels label sets.
func NewCardinalityLimiter(maxLabels int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxLabels: maxLabels,
		labels:    make(map[string]struct{}),
	}
}

// Allow reports whether labelSet may be recorded. Known label sets are
// always allowed; new ones only while under the limit.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	_, exists := cl.labels[labelSet]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.labels[labelSet]; exists {
		return true
	}
	if len(cl.labels) >= cl.maxLabels {
		return false
	}
	cl.labels[labelSet] = struct{}{}
	return true
}

// Count returns the number of tracked label sets.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.labels)
}
