package storage

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/unistore/pkg/telemetry/logging"
)

// Options is the untyped configuration map handed to the factory. Each
// backend decodes it into its own typed config; unknown keys are ignored.
type Options map[string]any

// Common option keys understood by every backend.
const (
	OptionTimeout    = "timeout"
	OptionCacheTTL   = "cache_ttl"
	OptionSerializer = "serializer"
)

// Default common option values.
const (
	DefaultTimeoutSeconds = 30.0
	MaxTimeoutSeconds     = 3600.0
	MaxCacheTTLSeconds    = 86400.0
)

// CommonConfig holds the options shared by all backends.
type CommonConfig struct {
	// Timeout is the per-call budget in seconds. Default: 30
	Timeout float64 `yaml:"timeout"`

	// CacheTTL is the load-result cache TTL in seconds; 0 disables the cache.
	CacheTTL float64 `yaml:"cache_ttl"`

	// Serializer selects the record codec ("json" or "yaml"). Default: json
	Serializer string `yaml:"serializer"`
}

// TimeoutDuration returns the call budget as a duration.
func (c CommonConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout * float64(time.Second))
}

// CacheTTLDuration returns the cache TTL as a duration.
func (c CommonConfig) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL * float64(time.Second))
}

// Decode copies the options into out, a pointer to a struct with yaml tags.
// Decoding failures (e.g. a string where a number is expected) are
// configuration errors.
func (o Options) Decode(backend string, out any) error {
	data, err := yaml.Marshal(map[string]any(o))
	if err != nil {
		return NewConfigurationError(backend, "", fmt.Sprintf("cannot encode options: %v", err))
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return NewConfigurationError(backend, "", fmt.Sprintf("invalid options: %v", err))
	}
	return nil
}

// Common decodes, defaults and validates the shared options.
func (o Options) Common() (CommonConfig, error) {
	cfg := CommonConfig{Timeout: DefaultTimeoutSeconds, Serializer: "json"}
	if err := o.Decode("", &cfg); err != nil {
		return cfg, err
	}
	if cfg.Timeout <= 0 || cfg.Timeout > MaxTimeoutSeconds {
		return cfg, NewConfigurationError("", OptionTimeout,
			fmt.Sprintf("must be in (0, %g] seconds, got %g", MaxTimeoutSeconds, cfg.Timeout))
	}
	if cfg.CacheTTL < 0 || cfg.CacheTTL > MaxCacheTTLSeconds {
		return cfg, NewConfigurationError("", OptionCacheTTL,
			fmt.Sprintf("must be in [0, %g] seconds, got %g", MaxCacheTTLSeconds, cfg.CacheTTL))
	}
	if cfg.Serializer == "" {
		cfg.Serializer = "json"
	}
	return cfg, nil
}

// Redacted returns a copy with secret-looking values masked, suitable for
// logs and health payloads.
func (o Options) Redacted() map[string]any {
	out := make(map[string]any, len(o))
	for k, v := range o {
		if logging.IsSensitiveKey(k) && v != nil && v != "" {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}

// ConfigMap renders a typed config struct back into a map (via its yaml
// tags) and redacts secrets. Backends use it to echo their configuration.
func ConfigMap(cfg any) map[string]any {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil
	}
	return Options(m).Redacted()
}
