// Package sqlite implements the SQL storage backend on SQLite.
//
// Records live in a single table:
//
//	storage_data(id PRIMARY KEY, type, data, session_id, thread_id, metadata, created_at, updated_at)
//
// data holds the full record as JSON; type, session_id and thread_id are
// copied into indexed columns. storage_metadata(key, value) carries the
// schema version under "db_version". Connect applies pending migrations in
// one transaction and refuses a database written by a newer schema.
//
// # Drivers
//
// The "sqlite" driver (modernc.org/sqlite, pure Go) is the default and
// receives its PRAGMAs as _pragma DSN parameters. The "sqlite3" driver
// (github.com/mattn/go-sqlite3) requires cgo and applies the same PRAGMAs
// from a connect hook. Either way every pooled connection runs with the
// configured journal_mode, synchronous, cache_size, temp_store,
// foreign_keys, auto_vacuum and busy_timeout.
//
// # Filters
//
// Filters compile to json_extract predicates with bound arguments. Equality
// against arrays or objects cannot be expressed exactly in SQL and is
// evaluated after decoding, in which case LIMIT is applied in Go.
//
// # Maintenance
//
// A cron scheduler runs VACUUM every vacuum_interval_seconds and, when
// enable_backups is set, writes VACUUM INTO copies to backup_dir keeping the
// newest backup_retention files.
//
// Example:
//
//	backend, err := sqlite.NewFromOptions(storage.Options{
//		"database_path": "/var/lib/unistore/data.db",
//		"pool_size":     10,
//	}, storage.Dependencies{})
//	if err != nil {
//		return err
//	}
//	store := storage.NewBaseStorage(backend, storage.BaseConfig{})
//	if err := store.Connect(ctx); err != nil {
//		return err
//	}
//	defer store.Close(ctx)
package sqlite
