package config

import "time"

// Config is the root configuration structure for unistore. It names the
// storage instances a process opens and configures logging and metrics.
type Config struct {
	// Storage declares the named storage instances and which one is the
	// default target of CLI commands.
	Storage StorageConfig `yaml:"storage"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Secrets configures how ${secret:name} references in instance options
	// are resolved.
	Secrets SecretsConfig `yaml:"secrets"`
}

// SecretsConfig configures secret providers. A directory, when set, is
// consulted before the environment.
type SecretsConfig struct {
	// Directory holds one file per secret, mode 0600 or 0400.
	Directory string `yaml:"directory"`

	// EnvPrefix prefixes environment variables holding secrets.
	// Default: "UNISTORE_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// CacheTTL bounds how long a resolved secret is reused.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// StorageConfig contains the named storage instances.
type StorageConfig struct {
	// Default is the instance used when no instance is named explicitly.
	// Default: "default"
	Default string `yaml:"default"`

	// Instances maps an instance name to its backend configuration.
	// When empty a single in-memory instance named Default is assumed.
	Instances map[string]InstanceConfig `yaml:"instances"`

	// ShutdownTimeout bounds how long closing all instances may take.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// InstanceConfig configures one storage instance.
type InstanceConfig struct {
	// Type is the registered backend type: "memory", "file", "sqlite" or "sql".
	Type string `yaml:"type"`

	// Options is passed to the backend constructor unchanged. The backend
	// validates it; unknown keys are ignored.
	Options map[string]any `yaml:"options"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry spans around storage operations.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether storage operations are recorded.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Namespace is the metric name prefix.
	// Default: "unistore"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "storage"
	Subsystem string `yaml:"subsystem"`

	// DurationBuckets defines histogram buckets for operation duration (seconds).
	// Default: [0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5]
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// TracingConfig contains OpenTelemetry tracing configuration. Spans are
// exported over OTLP/gRPC.
type TracingConfig struct {
	// Enabled turns on span export. When false a no-op tracer is used.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler selects the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of root spans sampled with the "ratio"
	// strategy, between 0 and 1.
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP collector address (host:port).
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is reported as the service.name resource attribute.
	// Default: "unistore"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS towards the collector.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export request.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
