package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "UNISTORE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention UNISTORE_SECTION_FIELD (e.g., UNISTORE_TELEMETRY_LOGGING_LEVEL).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from Default().
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Storage overrides
	if val := os.Getenv(EnvPrefix + "STORAGE_DEFAULT"); val != "" {
		cfg.Storage.Default = val
	}
	if val := os.Getenv(EnvPrefix + "STORAGE_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Storage.ShutdownTimeout = d
		}
	}
	for name := range cfg.Storage.Instances {
		applyInstanceEnvOverrides(cfg, name)
	}

	// Telemetry overrides
	if val := os.Getenv(EnvPrefix + "TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv(EnvPrefix + "TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv(EnvPrefix + "TELEMETRY_LOGGING_ADD_SOURCE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Logging.AddSource = b
		}
	}
	if val := os.Getenv(EnvPrefix + "TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Tracing.Enabled = b
		}
	}
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_ENDPOINT"); val != "" {
		cfg.Telemetry.Tracing.Endpoint = val
	}
	if val := os.Getenv(EnvPrefix + "SECRETS_DIRECTORY"); val != "" {
		cfg.Secrets.Directory = val
	}
}

// applyInstanceEnvOverrides applies overrides for one named instance.
// Instance variables follow the format UNISTORE_STORAGE_<NAME>_<FIELD>
// where NAME is the uppercase instance name. TYPE replaces the backend type;
// every other FIELD sets the lowercase option of the same name, parsed as
// true/false or a number when possible.
func applyInstanceEnvOverrides(cfg *Config, name string) {
	inst := cfg.Storage.Instances[name]
	prefix := fmt.Sprintf("%sSTORAGE_%s_", EnvPrefix, envName(name))

	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || val == "" || !strings.HasPrefix(key, prefix) {
			continue
		}
		field := strings.ToLower(strings.TrimPrefix(key, prefix))
		if field == "type" {
			inst.Type = val
			continue
		}
		if inst.Options == nil {
			inst.Options = map[string]any{}
		}
		inst.Options[field] = parseEnvValue(val)
	}

	cfg.Storage.Instances[name] = inst
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func parseEnvValue(val string) any {
	switch strings.ToLower(val) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(val, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return f
	}
	return val
}
