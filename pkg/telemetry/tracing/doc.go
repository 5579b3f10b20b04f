// Package tracing builds the OpenTelemetry tracer used for storage spans.
//
// When telemetry.tracing.enabled is false New returns a no-op tracer, so
// callers can always pass Tracer.Tracer to the storage factory. When enabled,
// spans are batched and exported over OTLP/gRPC:
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: otel-collector:4317
//	    insecure: true
//	    sampler: ratio
//	    sample_ratio: 0.25
//
// Every storage.BaseStorage call then produces a client span named
// "storage.<operation>" carrying the backend type, instance name and, where
// one applies, the record id. Failed calls set the span status to Error.
//
// The tracer must be shut down to flush pending spans:
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//		return err
//	}
//	defer tracer.Shutdown(context.Background())
package tracing
