// Package metrics provides Prometheus metrics collection for unistore.
//
// # Overview
//
// The Collector records one sample per storage operation (count by backend,
// operation and status plus a latency histogram), the item count reported
// by health checks, and load-result cache hits and misses.
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, registry)
//
//	collector.RecordOperation("sqlite", "save", metrics.StatusSuccess, 2*time.Millisecond)
//	collector.RecordCacheHit("sqlite")
//
//	http.Handle("/metrics", collector.Handler())
//
// # Histogram Buckets
//
// The default duration buckets are sized for local storage latencies:
//
//	0.5ms, 1ms, 5ms, 10ms, 50ms, 100ms, 500ms, 1s, 5s
//
// # Cardinality
//
// Label sets are capped by a CardinalityLimiter; operations beyond the cap
// are aggregated under operation="other".
package metrics
