package config

import "time"

// Default values for configuration fields.
const (
	// Storage defaults
	DefaultInstanceName    = "default"
	DefaultInstanceType    = "memory"
	DefaultShutdownTimeout = 30 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultMetricsNamespace = "unistore"
	DefaultMetricsSubsystem = "storage"
	DefaultTracingSampler   = "ratio"
	DefaultSampleRatio      = 0.1
	DefaultTracingEndpoint  = "localhost:4317"
	DefaultServiceName      = "unistore"
	DefaultTracingTimeout   = 10 * time.Second

	// Secrets defaults
	DefaultSecretEnvPrefix = "UNISTORE_SECRET_"
	DefaultSecretCacheTTL  = 5 * time.Minute
)

// DefaultDurationBuckets are histogram buckets sized for local storage
// latencies (0.5ms - 5s).
var DefaultDurationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Default == "" {
		cfg.Storage.Default = DefaultInstanceName
	}
	if cfg.Storage.ShutdownTimeout == 0 {
		cfg.Storage.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(cfg.Storage.Instances) == 0 {
		cfg.Storage.Instances = map[string]InstanceConfig{
			cfg.Storage.Default: {Type: DefaultInstanceType},
		}
	}
	for name, inst := range cfg.Storage.Instances {
		if inst.Options == nil {
			inst.Options = map[string]any{}
		}
		cfg.Storage.Instances[name] = inst
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Telemetry.Metrics.DurationBuckets) == 0 {
		cfg.Telemetry.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}

	tr := &cfg.Telemetry.Tracing
	if tr.Sampler == "" {
		tr.Sampler = DefaultTracingSampler
		if tr.SampleRatio == 0 {
			tr.SampleRatio = DefaultSampleRatio
		}
	}
	if tr.Endpoint == "" {
		tr.Endpoint = DefaultTracingEndpoint
	}
	if tr.ServiceName == "" {
		tr.ServiceName = DefaultServiceName
	}
	if tr.Timeout == 0 {
		tr.Timeout = DefaultTracingTimeout
	}

	// Secrets defaults
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretEnvPrefix
	}
	if cfg.Secrets.CacheTTL == 0 {
		cfg.Secrets.CacheTTL = DefaultSecretCacheTTL
	}
}

// Default returns a configuration with every default applied: one in-memory
// instance named "default", info-level JSON logs, metrics and tracing disabled.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
