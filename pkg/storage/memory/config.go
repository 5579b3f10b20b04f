package memory

import (
	"fmt"
	"time"

	"mercator-hq/unistore/pkg/storage"
)

// Config configures the memory backend. It is decoded from storage.Options.
type Config struct {
	// MaxSize is the maximum number of live items; 0 means unlimited.
	// Default: 10,000
	MaxSize int `yaml:"max_size"`

	// MaxMemoryMB caps the summed stored payload size; 0 means unlimited.
	// Default: 100
	MaxMemoryMB float64 `yaml:"max_memory_mb"`

	// DefaultTTLSeconds applies to records saved without _ttl; 0 disables expiry.
	// Default: 0
	DefaultTTLSeconds float64 `yaml:"default_ttl_seconds"`

	// CleanupIntervalSeconds is how often expired items are swept.
	// Default: 60
	CleanupIntervalSeconds float64 `yaml:"cleanup_interval_seconds"`

	// EnableCompression gzips payloads larger than CompressionThreshold.
	EnableCompression bool `yaml:"enable_compression"`

	// CompressionThreshold is the payload size in bytes above which items
	// are compressed. Default: 1024
	CompressionThreshold int `yaml:"compression_threshold"`

	// EnablePersistence snapshots the item map to PersistenceFile.
	EnablePersistence bool `yaml:"enable_persistence"`

	// PersistenceFile is the snapshot path. Required with EnablePersistence.
	PersistenceFile string `yaml:"persistence_file"`

	// PersistenceIntervalSeconds is how often the snapshot is written.
	// Default: 300
	PersistenceIntervalSeconds float64 `yaml:"persistence_interval_seconds"`
}

// DefaultConfig returns the memory backend defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:                    10000,
		MaxMemoryMB:                100,
		CleanupIntervalSeconds:     60,
		CompressionThreshold:       1024,
		PersistenceIntervalSeconds: 300,
	}
}

// ParseConfig decodes opts over the defaults and validates the result.
func ParseConfig(opts storage.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := opts.Decode(BackendType, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks every field is within its declared range.
func (c Config) Validate() error {
	invalid := func(field, msg string, args ...any) error {
		return storage.NewConfigurationError(BackendType, field, fmt.Sprintf(msg, args...))
	}

	if c.MaxSize < 0 {
		return invalid("max_size", "must be >= 0, got %d", c.MaxSize)
	}
	if c.MaxMemoryMB < 0 {
		return invalid("max_memory_mb", "must be >= 0, got %g", c.MaxMemoryMB)
	}
	if c.DefaultTTLSeconds < 0 {
		return invalid("default_ttl_seconds", "must be >= 0, got %g", c.DefaultTTLSeconds)
	}
	if c.CleanupIntervalSeconds <= 0 {
		return invalid("cleanup_interval_seconds", "must be > 0, got %g", c.CleanupIntervalSeconds)
	}
	if c.CompressionThreshold < 0 {
		return invalid("compression_threshold", "must be >= 0, got %d", c.CompressionThreshold)
	}
	if c.EnablePersistence {
		if c.PersistenceFile == "" {
			return invalid("persistence_file", "is required when enable_persistence is set")
		}
		if c.PersistenceIntervalSeconds <= 0 {
			return invalid("persistence_interval_seconds", "must be > 0, got %g", c.PersistenceIntervalSeconds)
		}
	}
	return nil
}

func (c Config) maxBytes() int64 {
	return int64(c.MaxMemoryMB * 1024 * 1024)
}

func (c Config) defaultTTL() time.Duration {
	return seconds(c.DefaultTTLSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
