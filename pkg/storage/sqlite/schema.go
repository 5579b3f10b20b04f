package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// SchemaVersion is the schema version this code expects on disk.
const SchemaVersion = 2

// versionKey is the storage_metadata row holding the schema version.
const versionKey = "db_version"

// metadataSchema is created before migrations run so the version can be read.
const metadataSchema = `
CREATE TABLE IF NOT EXISTS storage_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// migration upgrades the schema to Version.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations are applied in order when the stored version is behind.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create storage_data",
		SQL: `
CREATE TABLE IF NOT EXISTS storage_data (
	id TEXT PRIMARY KEY,
	type TEXT,
	data TEXT NOT NULL,
	session_id TEXT,
	thread_id TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_storage_data_type ON storage_data(type);
CREATE INDEX IF NOT EXISTS idx_storage_data_session ON storage_data(session_id);
CREATE INDEX IF NOT EXISTS idx_storage_data_thread ON storage_data(thread_id);
`,
	},
	{
		Version: 2,
		Name:    "index listing order",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_storage_data_order ON storage_data(created_at, id);
`,
	},
}

// errSchemaTooNew is returned when the database was written by a newer release.
var errSchemaTooNew = errors.New("database schema is newer than supported")

// schemaVersion reads the stored version; 0 means a fresh database.
func schemaVersion(ctx context.Context, q queryer) (int, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM storage_metadata WHERE key = ?`, versionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", versionKey, raw, err)
	}
	return v, nil
}

// migrate brings the schema up to SchemaVersion in a single transaction and
// returns the version found before migrating.
func migrate(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, metadataSchema); err != nil {
		return 0, fmt.Errorf("create storage_metadata: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	from, err := schemaVersion(ctx, tx)
	if err != nil {
		return 0, err
	}
	if from > SchemaVersion {
		return from, fmt.Errorf("%w: found version %d, expected %d", errSchemaTooNew, from, SchemaVersion)
	}
	if from == SchemaVersion {
		return from, nil
	}

	for _, m := range migrations {
		if m.Version <= from {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return from, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO storage_metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, versionKey, strconv.Itoa(SchemaVersion))
	if err != nil {
		return from, fmt.Errorf("record schema version: %w", err)
	}

	return from, tx.Commit()
}
