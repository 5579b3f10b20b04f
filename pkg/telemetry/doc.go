// Package telemetry groups the observability packages used by unistore:
//
//   - logging: slog construction from config, with secret redaction
//   - metrics: Prometheus collectors for storage operations and caches
//   - tracing: OpenTelemetry spans around storage operations
//   - health: liveness and readiness endpoints over storage health checks
//
// A process builds them from config.TelemetryConfig and hands them to the
// storage factory:
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging, os.Stderr))
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	f := factory.New(
//		factory.WithLogger(logger),
//		factory.WithMetrics(collector),
//		factory.WithTracer(tracer.Tracer()),
//	)
package telemetry
