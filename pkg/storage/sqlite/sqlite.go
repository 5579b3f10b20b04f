package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/codec"
	"mercator-hq/unistore/pkg/storage/internal/scheduler"
)

// BackendType is the registry name of the SQLite backend.
const BackendType = "sqlite"

// maxUpdateAttempts bounds the compare-and-swap retries of Update.
const maxUpdateAttempts = 64

var errNotConnected = errors.New("storage is not connected")

// Backend stores records as JSON documents in a SQLite database.
//
// The data column holds the whole record as JSON so that filters compile to
// json_extract predicates; the serializer dependency is not used. type,
// session_id and thread_id are denormalized into indexed columns.
type Backend struct {
	cfg    Config
	logger *slog.Logger
	json   codec.Serializer

	mu        sync.RWMutex
	db        *sql.DB
	connected bool
	sched     *scheduler.Scheduler

	stateMu      sync.Mutex
	workerErrs   map[string]error
	migratedFrom int
	lastVacuum   time.Time
	lastBackup   string
}

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

// New validates cfg and returns an unconnected backend.
func New(cfg Config, deps storage.Dependencies) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps = deps.WithDefaults("storage." + BackendType)
	if deps.Serializer.Name() != "json" {
		deps.Logger.Debug("serializer ignored, records are stored as JSON", "serializer", deps.Serializer.Name())
	}
	return &Backend{
		cfg:    cfg,
		logger: deps.Logger,
		json:   codec.JSON{},
	}, nil
}

// NewFromOptions is the registry constructor for the SQLite backend.
func NewFromOptions(opts storage.Options, deps storage.Dependencies) (storage.Backend, error) {
	cfg, err := ParseConfig(opts)
	if err != nil {
		return nil, err
	}
	return New(cfg, deps)
}

// Type returns "sqlite".
func (b *Backend) Type() string {
	return BackendType
}

// Connect opens the pool, runs pending migrations and starts the vacuum and
// backup workers.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		return nil
	}

	if !b.cfg.inMemory() {
		if err := os.MkdirAll(filepath.Dir(b.cfg.DatabasePath), 0o755); err != nil {
			return storage.NewConnectionError(BackendType, "connect", err)
		}
	}

	db, err := open(b.cfg)
	if err != nil {
		return storage.NewConnectionError(BackendType, "connect", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return storage.NewConnectionError(BackendType, "connect", err)
	}

	from, err := migrate(ctx, db)
	if err != nil {
		db.Close()
		return storage.NewConnectionError(BackendType, "migrate", err)
	}
	if from != SchemaVersion {
		b.logger.Info("schema migrated", "from", from, "to", SchemaVersion)
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err == nil &&
		!strings.EqualFold(mode, b.cfg.JournalMode) {
		b.logger.Warn("journal mode not applied", "requested", b.cfg.JournalMode, "actual", mode)
	}

	sched, err := b.newScheduler()
	if err != nil {
		db.Close()
		return storage.NewConnectionError(BackendType, "connect", err)
	}
	sched.Start()

	b.db = db
	b.sched = sched
	b.connected = true

	b.stateMu.Lock()
	b.migratedFrom = from
	b.stateMu.Unlock()

	b.logger.Debug("sqlite storage connected",
		"path", b.cfg.DatabasePath,
		"driver", b.cfg.Driver,
		"pool_size", b.cfg.PoolSize)
	return nil
}

// Disconnect stops the workers and closes the pool.
func (b *Backend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.connected = false
	db, sched := b.db, b.sched
	b.sched = nil
	b.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	if err := db.Close(); err != nil {
		return storage.NewStorageError(BackendType, "disconnect", err)
	}
	return nil
}

// Save upserts rec.
func (b *Backend) Save(ctx context.Context, rec storage.Record) (string, error) {
	prepared, _, err := storage.PrepareForSave(BackendType, rec, time.Now().UTC())
	if err != nil {
		return "", err
	}
	r, err := b.encode(prepared)
	if err != nil {
		return "", storage.NewValidationError(BackendType, "save", err.Error())
	}

	conn, err := b.conn(ctx, "save")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := upsert(ctx, conn, r); err != nil {
		return "", b.fail("save", r.id, err)
	}
	return r.id, nil
}

// Load returns the record or nil when it does not exist.
func (b *Backend) Load(ctx context.Context, id string) (storage.Record, error) {
	if err := storage.ValidateID(id); err != nil {
		return nil, storage.NewValidationError(BackendType, "load", err.Error())
	}
	conn, err := b.conn(ctx, "load")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	raw, found, err := loadData(ctx, conn, id)
	if err != nil {
		return nil, b.fail("load", id, err)
	}
	if !found {
		return nil, nil
	}
	return b.decode("load", id, raw)
}

// Update merges partial into the stored record. Concurrent updates of the
// same id are linearized with a compare-and-swap on the stored document.
func (b *Backend) Update(ctx context.Context, id string, partial storage.Record) (bool, error) {
	if err := storage.ValidateID(id); err != nil {
		return false, storage.NewValidationError(BackendType, "update", err.Error())
	}
	conn, err := b.conn(ctx, "update")
	if err != nil {
		return false, err
	}
	defer conn.Close()

	for range maxUpdateAttempts {
		raw, found, err := loadData(ctx, conn, id)
		if err != nil {
			return false, b.fail("update", id, err)
		}
		if !found {
			return false, nil
		}
		r, err := b.merge(id, raw, partial)
		if err != nil {
			return false, err
		}

		res, err := conn.ExecContext(ctx, `
			UPDATE storage_data
			SET type = ?, data = ?, session_id = ?, thread_id = ?, metadata = ?, updated_at = ?
			WHERE id = ? AND data = ?
		`, r.typ, r.data, r.sessionID, r.threadID, r.metadata, r.updatedAt, id, raw)
		if err != nil {
			return false, b.fail("update", id, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return true, nil
		}
	}
	return false, storage.NewTimeoutError(BackendType, "update", id,
		fmt.Errorf("record kept changing after %d attempts", maxUpdateAttempts))
}

// Delete removes the record.
func (b *Backend) Delete(ctx context.Context, id string) (bool, error) {
	if err := storage.ValidateID(id); err != nil {
		return false, storage.NewValidationError(BackendType, "delete", err.Error())
	}
	conn, err := b.conn(ctx, "delete")
	if err != nil {
		return false, err
	}
	defer conn.Close()

	n, err := deleteRow(ctx, conn, id)
	if err != nil {
		return false, b.fail("delete", id, err)
	}
	return n > 0, nil
}

// List returns the matching records ordered by created_at then id.
func (b *Backend) List(ctx context.Context, filter storage.Filter, limit int) ([]storage.Record, error) {
	w, err := compileFilter("list", filter)
	if err != nil {
		return nil, err
	}
	conn, err := b.conn(ctx, "list")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	query := "SELECT id, data FROM storage_data WHERE " + w.expr() + " ORDER BY created_at, id"
	args := w.args
	if limit > 0 && w.exact() {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, b.fail("list", "", err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, b.fail("list", "", err)
		}
		rec, err := b.decode("list", id, raw)
		if err != nil {
			return nil, err
		}
		if !w.match(rec) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, b.fail("list", "", err)
	}
	return out, nil
}

// Count returns the number of matching records.
func (b *Backend) Count(ctx context.Context, filter storage.Filter) (int64, error) {
	w, err := compileFilter("count", filter)
	if err != nil {
		return 0, err
	}
	if !w.exact() {
		recs, err := b.List(ctx, filter, 0)
		return int64(len(recs)), err
	}

	conn, err := b.conn(ctx, "count")
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var n int64
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM storage_data WHERE "+w.expr(), w.args...).Scan(&n)
	if err != nil {
		return 0, b.fail("count", "", err)
	}
	return n, nil
}

// Exists reports whether id is stored.
func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	if err := storage.ValidateID(id); err != nil {
		return false, storage.NewValidationError(BackendType, "exists", err.Error())
	}
	conn, err := b.conn(ctx, "exists")
	if err != nil {
		return false, err
	}
	defer conn.Close()

	var one int
	err = conn.QueryRowContext(ctx, `SELECT 1 FROM storage_data WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, b.fail("exists", id, err)
	}
	return true, nil
}

// Transaction applies ops inside a native transaction. The first failing
// operation rolls everything back and is reported as a TransactionError.
func (b *Backend) Transaction(ctx context.Context, ops []storage.Operation) error {
	now := time.Now().UTC()

	saves := make(map[int]row)
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return storage.NewTransactionError(BackendType, i, err)
		}
		if op.Kind != storage.OpSave {
			continue
		}
		prepared, _, err := storage.PrepareForSave(BackendType, op.Record, now)
		if err != nil {
			return storage.NewTransactionError(BackendType, i, err)
		}
		r, err := b.encode(prepared)
		if err != nil {
			return storage.NewTransactionError(BackendType, i, err)
		}
		saves[i] = r
	}

	conn, err := b.conn(ctx, "transaction")
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return b.fail("transaction", "", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, op := range ops {
		if err := b.apply(ctx, tx, op, saves[i]); err != nil {
			return storage.NewTransactionError(BackendType, i, b.fail("transaction", op.TargetID(), err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.NewTransactionError(BackendType, len(ops)-1, b.fail("transaction", "", err))
	}
	return nil
}

// apply runs one transaction step.
func (b *Backend) apply(ctx context.Context, tx *sql.Tx, op storage.Operation, save row) error {
	switch op.Kind {
	case storage.OpSave:
		return upsert(ctx, tx, save)

	case storage.OpUpdate:
		id := op.TargetID()
		raw, found, err := loadData(ctx, tx, id)
		if err != nil {
			return err
		}
		if !found {
			return storage.NewNotFoundError(BackendType, "update", id)
		}
		r, err := b.merge(id, raw, op.Record)
		if err != nil {
			return err
		}
		return upsert(ctx, tx, r)

	case storage.OpDelete:
		id := op.TargetID()
		n, err := deleteRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.NewNotFoundError(BackendType, "delete", id)
		}
	}
	return nil
}

// CleanupOldData deletes records created before cutoff.
func (b *Backend) CleanupOldData(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := b.conn(ctx, "cleanup")
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `DELETE FROM storage_data WHERE created_at < ?`, storage.FormatTime(cutoff))
	if err != nil {
		return 0, b.fail("cleanup", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, b.fail("cleanup", "", err)
	}
	if n > 0 {
		b.logger.Info("cleaned up old records", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

// StreamList pages through matching records with keyset pagination on
// (created_at, id), so concurrent writes never shift pages.
func (b *Backend) StreamList(ctx context.Context, filter storage.Filter, batchSize int) (<-chan []storage.Record, <-chan error, error) {
	if batchSize <= 0 {
		return nil, nil, storage.NewValidationError(BackendType, "stream_list", "batch size must be positive")
	}
	w, err := compileFilter("stream_list", filter)
	if err != nil {
		return nil, nil, err
	}
	if _, err := b.handle("stream_list"); err != nil {
		return nil, nil, err
	}

	out := make(chan []storage.Record)
	errc := make(chan error, 1)

	query := "SELECT id, data, created_at FROM storage_data WHERE " + w.expr() +
		" AND (created_at > ? OR (created_at = ? AND id > ?)) ORDER BY created_at, id LIMIT ?"

	go func() {
		defer close(out)
		defer close(errc)

		var (
			lastCreated, lastID string
			pending             []storage.Record
		)
		send := func(batch []storage.Record) bool {
			if err := ctx.Err(); err != nil {
				errc <- err
				return false
			}
			select {
			case out <- batch:
				return true
			case <-ctx.Done():
				errc <- ctx.Err()
				return false
			}
		}

		for {
			args := append(append([]any{}, w.args...), lastCreated, lastCreated, lastID, batchSize)
			pg, n, err := b.page(ctx, query, args, w)
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				errc <- err
				return
			}
			if n > 0 {
				lastCreated, lastID = pg.last.createdAt, pg.last.id
			}
			pending = append(pending, pg.records...)
			for len(pending) >= batchSize {
				if !send(pending[:batchSize:batchSize]) {
					return
				}
				pending = pending[batchSize:]
			}
			if n < batchSize {
				break
			}
		}
		if len(pending) > 0 {
			send(pending)
		}
	}()

	return out, errc, nil
}

// pageResult is one keyset page.
type pageResult struct {
	records []storage.Record
	last    struct{ createdAt, id string }
}

// page fetches one keyset page and returns the rows that pass the residual
// conditions together with the number of rows read.
func (b *Backend) page(ctx context.Context, query string, args []any, w whereClause) (pageResult, int, error) {
	var res pageResult
	conn, err := b.conn(ctx, "stream_list")
	if err != nil {
		return res, 0, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return res, 0, b.fail("stream_list", "", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id, raw, created string
		if err := rows.Scan(&id, &raw, &created); err != nil {
			return res, n, b.fail("stream_list", "", err)
		}
		n++
		res.last.createdAt, res.last.id = created, id

		rec, err := b.decode("stream_list", id, raw)
		if err != nil {
			return res, n, err
		}
		if w.match(rec) {
			res.records = append(res.records, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return res, n, b.fail("stream_list", "", err)
	}
	return res, n, nil
}

// HealthCheck reports row counts, database size, pool statistics and
// worker state. A failed vacuum or backup degrades the status.
func (b *Backend) HealthCheck(ctx context.Context) (*storage.HealthStatus, error) {
	status := &storage.HealthStatus{
		Status:    storage.StatusHealthy,
		Backend:   BackendType,
		Config:    storage.ConfigMap(b.cfg),
		CheckedAt: time.Now().UTC(),
		Details:   map[string]any{"driver": b.cfg.Driver},
	}

	db, err := b.handle("health_check")
	if err != nil {
		status.Status = storage.StatusUnhealthy
		status.LastError = err.Error()
		return status, err
	}
	status.Connected = true

	conn, err := b.conn(ctx, "health_check")
	if err != nil {
		status.Status = storage.StatusUnhealthy
		status.LastError = err.Error()
		return status, storage.NewConnectionError(BackendType, "health_check", err)
	}
	defer conn.Close()

	var pageCount, pageSize int64
	var journal string
	err = errors.Join(
		conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM storage_data").Scan(&status.ItemCount),
		conn.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount),
		conn.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize),
		conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal),
	)
	if err != nil {
		status.Status = storage.StatusUnhealthy
		status.LastError = err.Error()
		return status, storage.NewConnectionError(BackendType, "health_check", err)
	}
	version, err := schemaVersion(ctx, conn)
	if err != nil {
		status.Status = storage.StatusUnhealthy
		status.LastError = err.Error()
		return status, storage.NewConnectionError(BackendType, "health_check", err)
	}
	status.SizeBytes = pageCount * pageSize

	stats := db.Stats()
	status.Details["journal_mode"] = strings.ToLower(journal)
	status.Details["schema_version"] = version
	status.Details["pool_open"] = stats.OpenConnections
	status.Details["pool_in_use"] = stats.InUse
	status.Details["pool_idle"] = stats.Idle
	status.Details["pool_wait_count"] = stats.WaitCount

	b.stateMu.Lock()
	status.Details["migrated_from"] = b.migratedFrom
	if !b.lastVacuum.IsZero() {
		status.Details["last_vacuum_at"] = b.lastVacuum
	}
	if b.lastBackup != "" {
		status.Details["last_backup"] = b.lastBackup
	}
	b.stateMu.Unlock()

	b.mu.RLock()
	sched := b.sched
	b.mu.RUnlock()
	if sched != nil {
		for _, job := range []string{jobVacuum, jobBackup} {
			if next, ok := sched.NextRun(job); ok {
				status.Details["next_"+job+"_at"] = next
			}
		}
	}

	if source, werr := b.workerError(); werr != nil {
		status.Status = storage.StatusDegraded
		status.LastError = werr.Error()
		status.Details["failing_worker"] = source
	}
	return status, nil
}

// DB exposes the connection pool for backend-specific maintenance.
func (b *Backend) DB() (*sql.DB, error) {
	return b.handle("db")
}

// handle returns the pool when connected.
func (b *Backend) handle(op string) (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.connected {
		return nil, storage.NewConnectionError(BackendType, op, errNotConnected)
	}
	return b.db, nil
}

// conn takes a connection from the pool, waiting at most pool_timeout.
func (b *Backend) conn(ctx context.Context, op string) (*sql.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := b.handle(op)
	if err != nil {
		return nil, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, b.cfg.poolTimeout())
	defer cancel()

	c, err := db.Conn(acquireCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, storage.NewTimeoutError(BackendType, op, "",
				fmt.Errorf("no pooled connection within %s", b.cfg.poolTimeout()))
		}
		return nil, b.fail(op, "", err)
	}
	return c, nil
}

// fail classifies a driver error. Lock contention that outlasted
// busy_timeout is a timeout.
func (b *Backend) fail(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isBusy(err) {
		return storage.NewTimeoutError(BackendType, op, id, err)
	}
	return storage.Wrap(BackendType, op, id, err)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// row is a record flattened into storage_data columns. Nullable columns are
// nil when the field is absent or not a string.
type row struct {
	id        string
	typ       any
	data      string
	sessionID any
	threadID  any
	metadata  any
	createdAt string
	updatedAt string
}

func (b *Backend) encode(rec storage.Record) (row, error) {
	data, err := storage.EncodeRecord(b.json, rec)
	if err != nil {
		return row{}, err
	}
	r := row{
		id:        rec.ID(),
		typ:       stringColumn(rec, storage.FieldType),
		data:      string(data),
		sessionID: stringColumn(rec, storage.FieldSessionID),
		threadID:  stringColumn(rec, storage.FieldThreadID),
		createdAt: rec.String(storage.FieldCreatedAt),
		updatedAt: rec.String(storage.FieldUpdatedAt),
	}
	if md, ok := rec[storage.FieldMetadata]; ok && md != nil {
		encoded, err := json.Marshal(md)
		if err != nil {
			return row{}, err
		}
		r.metadata = string(encoded)
	}
	return r, nil
}

func (b *Backend) decode(op, id, raw string) (storage.Record, error) {
	rec, err := storage.DecodeRecord(b.json, []byte(raw))
	if err != nil {
		return nil, storage.NewStorageError(BackendType, op, fmt.Errorf("record %s: %w", id, err))
	}
	return rec, nil
}

// merge decodes the stored document, applies partial and re-encodes it.
func (b *Backend) merge(id, raw string, partial storage.Record) (row, error) {
	existing, err := b.decode("update", id, raw)
	if err != nil {
		return row{}, err
	}
	merged, err := storage.Merge(BackendType, existing, partial, time.Now().UTC())
	if err != nil {
		return row{}, err
	}
	r, err := b.encode(merged)
	if err != nil {
		return row{}, storage.NewValidationError(BackendType, "update", err.Error())
	}
	return r, nil
}

func stringColumn(rec storage.Record, field string) any {
	if s, ok := rec[field].(string); ok {
		return s
	}
	return nil
}

// execQueryer is satisfied by *sql.Conn and *sql.Tx.
type execQueryer interface {
	queryer
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func upsert(ctx context.Context, db execQueryer, r row) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO storage_data (id, type, data, session_id, thread_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			data = excluded.data,
			session_id = excluded.session_id,
			thread_id = excluded.thread_id,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, r.id, r.typ, r.data, r.sessionID, r.threadID, r.metadata, r.createdAt, r.updatedAt)
	return err
}

func loadData(ctx context.Context, db queryer, id string) (string, bool, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT data FROM storage_data WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return raw, true, nil
}

func deleteRow(ctx context.Context, db execQueryer, id string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM storage_data WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// setWorkerError records or clears the failure of a background job.
func (b *Backend) setWorkerError(source string, err error) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if err == nil {
		delete(b.workerErrs, source)
		return
	}
	if b.workerErrs == nil {
		b.workerErrs = make(map[string]error)
	}
	b.workerErrs[source] = err
}

func (b *Backend) workerError() (string, error) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	sources := make([]string, 0, len(b.workerErrs))
	for s := range b.workerErrs {
		sources = append(sources, s)
	}
	if len(sources) == 0 {
		return "", nil
	}
	sort.Strings(sources)
	return sources[0], b.workerErrs[sources[0]]
}
