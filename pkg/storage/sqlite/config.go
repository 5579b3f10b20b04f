package sqlite

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"mercator-hq/unistore/pkg/storage"
)

// Supported database/sql driver names.
const (
	// DriverModernc is the pure Go driver (modernc.org/sqlite).
	DriverModernc = "sqlite"

	// DriverMattn is the cgo driver (github.com/mattn/go-sqlite3).
	DriverMattn = "sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config configures the SQLite backend. It is decoded from storage.Options.
type Config struct {
	// DatabasePath is the database file. Required. MemoryPath opens an
	// in-memory database held by a single connection.
	DatabasePath string `yaml:"database_path"`

	// Driver selects the database/sql driver.
	// Options: "sqlite", "sqlite3"
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// PoolSize is the maximum number of open connections.
	// Default: 5
	PoolSize int `yaml:"pool_size"`

	// PoolTimeout is how long an operation waits for a free connection,
	// in seconds.
	// Default: 30
	PoolTimeout float64 `yaml:"pool_timeout"`

	// PoolRecycle is the maximum connection lifetime in seconds; 0 keeps
	// connections forever.
	// Default: 3600
	PoolRecycle float64 `yaml:"pool_recycle"`

	// JournalMode is applied to every connection.
	// Options: "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF"
	// Default: "WAL"
	JournalMode string `yaml:"journal_mode"`

	// Synchronous is applied to every connection.
	// Options: "OFF", "NORMAL", "FULL", "EXTRA"
	// Default: "NORMAL"
	Synchronous string `yaml:"synchronous"`

	// CacheSize is the page cache size; negative values are KiB.
	// Default: -64000
	CacheSize int `yaml:"cache_size"`

	// TempStore places temporary tables.
	// Options: "DEFAULT", "FILE", "MEMORY"
	// Default: "MEMORY"
	TempStore string `yaml:"temp_store"`

	// ForeignKeys enables foreign key enforcement.
	// Default: true
	ForeignKeys bool `yaml:"foreign_keys"`

	// AutoVacuum only takes effect on a new database.
	// Options: "NONE", "FULL", "INCREMENTAL"
	// Default: "INCREMENTAL"
	AutoVacuum string `yaml:"auto_vacuum"`

	// BusyTimeoutMS is how long a connection waits on a locked database.
	// Default: 5000
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`

	// VacuumIntervalSeconds schedules VACUUM; 0 disables it.
	// Default: 86400
	VacuumIntervalSeconds float64 `yaml:"vacuum_interval_seconds"`

	// EnableBackups schedules VACUUM INTO backups.
	// Default: false
	EnableBackups bool `yaml:"enable_backups"`

	// BackupDir receives backup files.
	// Default: "backups" next to the database file
	BackupDir string `yaml:"backup_dir"`

	// BackupIntervalSeconds is how often a backup is taken.
	// Default: 86400
	BackupIntervalSeconds float64 `yaml:"backup_interval_seconds"`

	// BackupRetention is the number of backup files kept.
	// Default: 7
	BackupRetention int `yaml:"backup_retention"`
}

// DefaultConfig returns the SQLite backend defaults.
func DefaultConfig() Config {
	return Config{
		Driver:                DriverModernc,
		PoolSize:              5,
		PoolTimeout:           30,
		PoolRecycle:           3600,
		JournalMode:           "WAL",
		Synchronous:           "NORMAL",
		CacheSize:             -64000,
		TempStore:             "MEMORY",
		ForeignKeys:           true,
		AutoVacuum:            "INCREMENTAL",
		BusyTimeoutMS:         5000,
		VacuumIntervalSeconds: 86400,
		BackupIntervalSeconds: 86400,
		BackupRetention:       7,
	}
}

// ParseConfig decodes opts over the defaults and validates the result.
// Enumerated PRAGMA values are upper-cased.
func ParseConfig(opts storage.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := opts.Decode(BackendType, &cfg); err != nil {
		return cfg, err
	}
	cfg.JournalMode = strings.ToUpper(cfg.JournalMode)
	cfg.Synchronous = strings.ToUpper(cfg.Synchronous)
	cfg.TempStore = strings.ToUpper(cfg.TempStore)
	cfg.AutoVacuum = strings.ToUpper(cfg.AutoVacuum)
	return cfg, cfg.Validate()
}

var (
	journalModes = []string{"DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF"}
	syncModes    = []string{"OFF", "NORMAL", "FULL", "EXTRA"}
	tempStores   = []string{"DEFAULT", "FILE", "MEMORY"}
	vacuumModes  = []string{"NONE", "FULL", "INCREMENTAL"}
)

// Validate checks every field is within its declared range.
func (c Config) Validate() error {
	invalid := func(field, msg string, args ...any) error {
		return storage.NewConfigurationError(BackendType, field, fmt.Sprintf(msg, args...))
	}
	oneOf := func(field, value string, allowed []string) error {
		if !slices.Contains(allowed, value) {
			return invalid(field, "must be one of %s, got %q", strings.Join(allowed, ", "), value)
		}
		return nil
	}

	if c.DatabasePath == "" {
		return invalid("database_path", "is required")
	}
	if c.Driver != DriverModernc && c.Driver != DriverMattn {
		return invalid("driver", "must be %q or %q, got %q", DriverModernc, DriverMattn, c.Driver)
	}
	if c.PoolSize < 1 || c.PoolSize > 100 {
		return invalid("pool_size", "must be in [1, 100], got %d", c.PoolSize)
	}
	if c.PoolTimeout <= 0 {
		return invalid("pool_timeout", "must be > 0, got %g", c.PoolTimeout)
	}
	if c.PoolRecycle < 0 {
		return invalid("pool_recycle", "must be >= 0, got %g", c.PoolRecycle)
	}
	if err := oneOf("journal_mode", c.JournalMode, journalModes); err != nil {
		return err
	}
	if err := oneOf("synchronous", c.Synchronous, syncModes); err != nil {
		return err
	}
	if err := oneOf("temp_store", c.TempStore, tempStores); err != nil {
		return err
	}
	if err := oneOf("auto_vacuum", c.AutoVacuum, vacuumModes); err != nil {
		return err
	}
	if c.BusyTimeoutMS < 0 {
		return invalid("busy_timeout_ms", "must be >= 0, got %d", c.BusyTimeoutMS)
	}
	if c.VacuumIntervalSeconds < 0 {
		return invalid("vacuum_interval_seconds", "must be >= 0, got %g", c.VacuumIntervalSeconds)
	}
	if c.EnableBackups {
		if c.BackupIntervalSeconds <= 0 {
			return invalid("backup_interval_seconds", "must be > 0 when backups are enabled, got %g", c.BackupIntervalSeconds)
		}
		if c.BackupRetention < 1 {
			return invalid("backup_retention", "must be >= 1 when backups are enabled, got %d", c.BackupRetention)
		}
	}
	return nil
}

func (c Config) inMemory() bool {
	return c.DatabasePath == MemoryPath
}

func (c Config) poolTimeout() time.Duration {
	return seconds(c.PoolTimeout)
}

func (c Config) poolRecycle() time.Duration {
	return seconds(c.PoolRecycle)
}

// backupDir resolves the backup directory.
func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	if c.inMemory() {
		return "backups"
	}
	return filepath.Join(filepath.Dir(c.DatabasePath), "backups")
}

// backupPrefix is the file name prefix shared by this database's backups.
func (c Config) backupPrefix() string {
	if c.inMemory() {
		return "memory_"
	}
	base := filepath.Base(c.DatabasePath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_"
}

// pragma is one per-connection setting.
type pragma struct {
	name  string
	value string
}

// pragmas lists the per-connection settings in application order.
// busy_timeout goes first so the others wait on a locked database.
func (c Config) pragmas() []pragma {
	fk := "OFF"
	if c.ForeignKeys {
		fk = "ON"
	}
	return []pragma{
		{"busy_timeout", fmt.Sprint(c.BusyTimeoutMS)},
		{"auto_vacuum", c.AutoVacuum},
		{"journal_mode", c.JournalMode},
		{"synchronous", c.Synchronous},
		{"cache_size", fmt.Sprint(c.CacheSize)},
		{"temp_store", c.TempStore},
		{"foreign_keys", fk},
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
