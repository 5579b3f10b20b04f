package tracing

import (
	"context"
	"testing"
	"time"

	"mercator-hq/unistore/pkg/config"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		config      *config.TracingConfig
		wantErr     bool
		wantEnabled bool
	}{
		{"nil config", nil, true, false},
		{"disabled", &config.TracingConfig{Enabled: false}, false, false},
		{"enabled", &config.TracingConfig{
			Enabled:     true,
			Sampler:     SamplerAlways,
			Endpoint:    "localhost:4317",
			ServiceName: "unistore-test",
			Insecure:    true,
			Timeout:     time.Second,
		}, false, true},
		{"enabled with bad sampler", &config.TracingConfig{
			Enabled:  true,
			Sampler:  "sometimes",
			Endpoint: "localhost:4317",
		}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := New(tt.config, "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()
				tracer.Shutdown(ctx)
			}()

			if tracer.Enabled() != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", tracer.Enabled(), tt.wantEnabled)
			}
			if tracer.Tracer() == nil {
				t.Error("Tracer() returned nil")
			}
		})
	}
}

func TestDisabledTracerRecordsNothing(t *testing.T) {
	tracer, err := New(&config.TracingConfig{}, "test")
	if err != nil {
		t.Fatal(err)
	}
	_, span := tracer.Start(context.Background(), "storage.save")
	defer span.End()

	if span.IsRecording() || span.SpanContext().IsValid() {
		t.Error("expected a no-op span")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewWithExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(&config.TracingConfig{
		Sampler:     SamplerAlways,
		ServiceName: "unistore-test",
	}, "1.2.3", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() error = %v", err)
	}
	t.Cleanup(func() { tracer.Shutdown(context.Background()) })

	ctx, parent := tracer.Start(context.Background(), "cli.import")
	_, child := tracer.Start(ctx, "storage.batch_save")
	child.End()
	parent.End()

	if err := tracer.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}
	byName := make(map[string]tracetest.SpanStub)
	for _, s := range spans {
		byName[s.Name] = s
	}
	if byName["storage.batch_save"].Parent.SpanID() != byName["cli.import"].SpanContext.SpanID() {
		t.Error("child span is not parented to cli.import")
	}

	var service string
	for _, kv := range byName["cli.import"].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != "unistore-test" {
		t.Errorf("service.name = %q, want unistore-test", service)
	}
}

func TestNewWithExporterNeverSampler(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(&config.TracingConfig{Sampler: SamplerNever}, "test", exporter)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tracer.Shutdown(context.Background()) })

	_, span := tracer.Start(context.Background(), "storage.load")
	span.End()
	tracer.ForceFlush(context.Background())

	if n := len(exporter.GetSpans()); n != 0 {
		t.Errorf("exported %d spans with the never sampler", n)
	}
}
