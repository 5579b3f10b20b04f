package config

import (
	"fmt"
	"sort"
	"strings"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "storage.default").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
//
// Backend options are not inspected here; each backend validates its own
// options when the instance is created.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	if cfg.Secrets.CacheTTL < 0 {
		errs = append(errs, FieldError{Field: "secrets.cache_ttl", Message: "cache TTL cannot be negative"})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateStorage validates storage instance configuration.
func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	if cfg.Default == "" {
		errs = append(errs, FieldError{
			Field:   "storage.default",
			Message: "default instance name is required",
		})
	} else if _, ok := cfg.Instances[cfg.Default]; !ok {
		errs = append(errs, FieldError{
			Field:   "storage.default",
			Message: fmt.Sprintf("default instance %q is not declared in storage.instances", cfg.Default),
		})
	}

	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "storage.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}

	// Sorted so errors are reported in a stable order.
	names := make([]string, 0, len(cfg.Instances))
	for name := range cfg.Instances {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		inst := cfg.Instances[name]
		prefix := "storage.instances." + name
		if strings.TrimSpace(name) == "" {
			errs = append(errs, FieldError{
				Field:   "storage.instances",
				Message: "instance name cannot be empty",
			})
		}
		if inst.Type == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".type",
				Message: "backend type is required",
			})
		}
	}

	return errs
}

// validateTelemetry validates logging, metrics and tracing configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.Logging.Level == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: "logging level is required",
		})
	} else if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if cfg.Logging.Format == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: "logging format is required",
		})
	} else if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	buckets := cfg.Metrics.DurationBuckets
	for i := 1; i < len(buckets); i++ {
		if buckets[i] <= buckets[i-1] {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.duration_buckets",
				Message: "buckets must be strictly increasing",
			})
			break
		}
	}

	switch cfg.Tracing.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "endpoint is required when tracing is enabled",
		})
	}

	return errs
}
