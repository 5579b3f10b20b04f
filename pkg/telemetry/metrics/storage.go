package metrics

import (
	"time"

	"mercator-hq/unistore/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics tracks storage operation metrics.
//
// Metrics:
//   - unistore_storage_operations_total: Operations by backend, operation and status
//   - unistore_storage_operation_duration_seconds: Operation latency by backend and operation
//   - unistore_storage_items: Item count last reported by each backend
type StorageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	items             *prometheus.GaugeVec
}

// NewStorageMetrics creates and registers storage metrics with the provided registry.
func NewStorageMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StorageMetrics {
	sm := &StorageMetrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"backend", "operation", "status"},
		),

		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"backend", "operation"},
		),

		items: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "items",
				Help:      "Number of records held by the backend at the last health check",
			},
			[]string{"backend"},
		),
	}

	registry.MustRegister(
		sm.operationsTotal,
		sm.operationDuration,
		sm.items,
	)

	return sm
}

// RecordOperation records one operation and its latency.
func (sm *StorageMetrics) RecordOperation(backend, operation, status string, duration time.Duration) {
	sm.operationsTotal.WithLabelValues(backend, operation, status).Inc()
	sm.operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// UpdateItems sets the item gauge for backend.
func (sm *StorageMetrics) UpdateItems(backend string, items int64) {
	sm.items.WithLabelValues(backend).Set(float64(items))
}
