package file

import (
	"fmt"
	"time"

	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/codec"
)

// Config configures the file backend. It is decoded from storage.Options.
type Config struct {
	// BasePath is the root directory of the store. Required.
	BasePath string `yaml:"base_path"`

	// FileFormat selects the record encoding ("json" or "yaml"). When empty
	// the instance serializer is used.
	FileFormat string `yaml:"file_format"`

	// DirectoryStructure is one of flat, by_type, by_date, hierarchical.
	// Default: flat
	DirectoryStructure string `yaml:"directory_structure"`

	// CompressionType is one of none, gzip, bz2, xz. Default: none
	CompressionType string `yaml:"compression_type"`

	// EncryptionKey enables payload encryption when set.
	EncryptionKey string `yaml:"encryption_key"`

	// EnableBackups keeps up to MaxBackups prior versions of each file.
	EnableBackups bool `yaml:"enable_backups"`

	// MaxBackups is the number of versions kept per file. Default: 3
	MaxBackups int `yaml:"max_backups"`

	// EnableIndex maintains .index.json at the store root. Default: true
	EnableIndex bool `yaml:"enable_index"`

	// EnableMetadata maintains a .metadata.json sidecar per directory. Default: true
	EnableMetadata bool `yaml:"enable_metadata"`

	// LockTimeoutSeconds bounds the wait for a per-record lock. Default: 10
	LockTimeoutSeconds float64 `yaml:"lock_timeout_seconds"`

	// WatchChanges rebuilds the index when files are changed externally.
	WatchChanges bool `yaml:"watch_changes"`

	// IndexSaveIntervalSeconds is how often a dirty index is flushed. Default: 60
	IndexSaveIntervalSeconds float64 `yaml:"index_save_interval_seconds"`

	// RetentionDays enables the periodic cleanup of older files; 0 disables it.
	RetentionDays int `yaml:"retention_days"`

	// CleanupIntervalSeconds is how often the retention cleanup runs. Default: 3600
	CleanupIntervalSeconds float64 `yaml:"cleanup_interval_seconds"`
}

// DefaultConfig returns the file backend defaults. BasePath must still be set.
func DefaultConfig() Config {
	return Config{
		DirectoryStructure:       string(LayoutFlat),
		CompressionType:          "none",
		MaxBackups:               3,
		EnableIndex:              true,
		EnableMetadata:           true,
		LockTimeoutSeconds:       10,
		IndexSaveIntervalSeconds: 60,
		CleanupIntervalSeconds:   3600,
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

	if c.BasePath == "" {
		return invalid("base_path", "is required")
	}
	if c.FileFormat != "" {
		if _, err := codec.SerializerByName(c.FileFormat); err != nil {
			return invalid("file_format", "%v", err)
		}
	}
	if !Layout(c.DirectoryStructure).valid() {
		return invalid("directory_structure", "must be one of flat, by_type, by_date, hierarchical, got %q", c.DirectoryStructure)
	}
	if _, err := codec.CompressorByName(c.CompressionType); err != nil {
		return invalid("compression_type", "%v", err)
	}
	if c.EnableBackups && (c.MaxBackups < 1 || c.MaxBackups > 100) {
		return invalid("max_backups", "must be in [1, 100], got %d", c.MaxBackups)
	}
	if c.LockTimeoutSeconds <= 0 {
		return invalid("lock_timeout_seconds", "must be > 0, got %g", c.LockTimeoutSeconds)
	}
	if c.WatchChanges && !c.EnableIndex {
		return invalid("watch_changes", "requires enable_index")
	}
	if c.EnableIndex && c.IndexSaveIntervalSeconds <= 0 {
		return invalid("index_save_interval_seconds", "must be > 0, got %g", c.IndexSaveIntervalSeconds)
	}
	if c.RetentionDays < 0 {
		return invalid("retention_days", "must be >= 0, got %d", c.RetentionDays)
	}
	if c.RetentionDays > 0 && c.CleanupIntervalSeconds <= 0 {
		return invalid("cleanup_interval_seconds", "must be > 0, got %g", c.CleanupIntervalSeconds)
	}
	return nil
}

func (c Config) lockTimeout() time.Duration {
	return seconds(c.LockTimeoutSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
