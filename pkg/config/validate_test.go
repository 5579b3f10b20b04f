package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{
			name:   "defaults are valid",
			modify: func(*Config) {},
		},
		{
			name: "instance without type",
			modify: func(c *Config) {
				c.Storage.Instances["broken"] = InstanceConfig{}
			},
			wantField: "storage.instances.broken.type",
		},
		{
			name: "undeclared default",
			modify: func(c *Config) {
				c.Storage.Default = "nope"
			},
			wantField: "storage.default",
		},
		{
			name: "negative shutdown timeout",
			modify: func(c *Config) {
				c.Storage.ShutdownTimeout = -1
			},
			wantField: "storage.shutdown_timeout",
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Telemetry.Logging.Level = "verbose"
			},
			wantField: "telemetry.logging.level",
		},
		{
			name: "invalid log format",
			modify: func(c *Config) {
				c.Telemetry.Logging.Format = "xml"
			},
			wantField: "telemetry.logging.format",
		},
		{
			name: "unsorted buckets",
			modify: func(c *Config) {
				c.Telemetry.Metrics.DurationBuckets = []float64{1, 0.5}
			},
			wantField: "telemetry.metrics.duration_buckets",
		},
		{
			name: "unknown sampler",
			modify: func(c *Config) {
				c.Telemetry.Tracing.Sampler = "sometimes"
			},
			wantField: "telemetry.tracing.sampler",
		},
		{
			name: "sample ratio above one",
			modify: func(c *Config) {
				c.Telemetry.Tracing.SampleRatio = 1.5
			},
			wantField: "telemetry.tracing.sample_ratio",
		},
		{
			name: "enabled tracing without endpoint",
			modify: func(c *Config) {
				c.Telemetry.Tracing.Enabled = true
				c.Telemetry.Tracing.Endpoint = ""
			},
			wantField: "telemetry.tracing.endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := Validate(cfg)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.wantField, verr)
			}
		})
	}
}

func TestValidationError_MultipleErrors(t *testing.T) {
	err := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}}
	msg := err.Error()
	if !strings.Contains(msg, "2 errors") || !strings.Contains(msg, "b: worse") {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := Default()
	ApplyDefaults(cfg)

	if len(cfg.Storage.Instances) != 1 {
		t.Errorf("expected one default instance, got %d", len(cfg.Storage.Instances))
	}
	inst := cfg.Storage.Instances[DefaultInstanceName]
	if inst.Type != DefaultInstanceType {
		t.Errorf("expected default type %q, got %q", DefaultInstanceType, inst.Type)
	}
	if len(cfg.Telemetry.Metrics.DurationBuckets) != len(DefaultDurationBuckets) {
		t.Error("expected default duration buckets")
	}
	tr := cfg.Telemetry.Tracing
	if tr.Enabled || tr.Sampler != DefaultTracingSampler || tr.SampleRatio != DefaultSampleRatio || tr.ServiceName != DefaultServiceName {
		t.Errorf("unexpected tracing defaults: %+v", tr)
	}
}
