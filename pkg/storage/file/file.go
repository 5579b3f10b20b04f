package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/codec"
	"mercator-hq/unistore/pkg/storage/crypto"
	"mercator-hq/unistore/pkg/storage/internal/fsutil"
	"mercator-hq/unistore/pkg/storage/internal/scheduler"
	"mercator-hq/unistore/pkg/storage/internal/watch"
)

// BackendType is the registered name of the file backend.
const BackendType = "file"

const (
	saltFileName = ".keysalt"
	encryptedExt = ".enc"
)

var errNotConnected = errors.New("backend not connected")

// Backend implements storage.Backend with one file per record.
//
// Every write goes through serialize → compress → encrypt → temp file →
// fsync → rename, so a reader sees either the previous or the new content
// and never a partial file. Writers of the same id are serialized by a
// per-id lock; readers take no lock.
type Backend struct {
	cfg        Config
	layout     Layout
	serializer codec.Serializer
	compressor codec.Compressor
	suffix     string
	logger     *slog.Logger

	locks *lockTable
	index *fileIndex // nil when enable_index is off

	mu        sync.RWMutex
	connected bool
	cipher    *crypto.Cipher
	sched     *scheduler.Scheduler
	watcher   *watch.Watcher

	stateMu    sync.Mutex
	workerErrs map[string]error // last failure per maintenance source
}

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

// New creates a file backend. It must be connected before use.
func New(cfg Config, deps storage.Dependencies) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps = deps.WithDefaults("storage." + BackendType)

	serializer := deps.Serializer
	if cfg.FileFormat != "" {
		s, err := codec.SerializerByName(cfg.FileFormat)
		if err != nil {
			return nil, storage.NewConfigurationError(BackendType, "file_format", err.Error())
		}
		serializer = s
	}
	compressor, err := codec.CompressorByName(cfg.CompressionType)
	if err != nil {
		return nil, storage.NewConfigurationError(BackendType, "compression_type", err.Error())
	}

	suffix := serializer.Extension() + compressor.Extension()
	if cfg.EncryptionKey != "" {
		suffix += encryptedExt
	}

	b := &Backend{
		cfg:        cfg,
		layout:     Layout(cfg.DirectoryStructure),
		serializer: serializer,
		compressor: compressor,
		suffix:     suffix,
		logger:     deps.Logger,
		locks:      newLockTable(),
	}
	if cfg.EnableIndex {
		b.index = newFileIndex(filepath.Join(cfg.BasePath, indexFileName))
	}
	return b, nil
}

// NewFromOptions is the registry constructor for the file backend.
func NewFromOptions(opts storage.Options, deps storage.Dependencies) (storage.Backend, error) {
	cfg, err := ParseConfig(opts)
	if err != nil {
		return nil, err
	}
	return New(cfg, deps)
}

// Type returns "file".
func (b *Backend) Type() string {
	return BackendType
}

// Connect creates the store root, prepares encryption, loads or rebuilds
// the index and starts the maintenance workers.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		return nil
	}

	if err := os.MkdirAll(b.cfg.BasePath, 0o755); err != nil {
		return storage.NewConnectionError(BackendType, "connect", err)
	}

	if b.cfg.EncryptionKey != "" {
		c, err := b.loadCipher()
		if err != nil {
			return storage.NewConnectionError(BackendType, "connect", err)
		}
		b.cipher = c
	}

	if b.index != nil {
		found, err := b.index.load()
		if err != nil {
			b.logger.Warn("index unreadable, rebuilding", "error", err)
		}
		if !found || err != nil {
			// The store is not connected yet, so rebuild without the public guard.
			n, err := b.rebuildIndex(ctx)
			if err != nil {
				return storage.NewConnectionError(BackendType, "connect", err)
			}
			b.logger.Info("index rebuilt", "entries", n)
		}
	}

	if err := b.startWorkers(); err != nil {
		return storage.NewConnectionError(BackendType, "connect", err)
	}

	b.connected = true
	return nil
}

// Disconnect stops the workers and flushes the index.
func (b *Backend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.connected = false
	sched, watcher := b.sched, b.watcher
	b.sched, b.watcher = nil, nil
	b.mu.Unlock()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			b.logger.Warn("failed to stop watcher", "error", err)
		}
	}
	if sched != nil {
		sched.Stop()
	}
	if b.index != nil {
		if err := b.index.save(false); err != nil {
			return storage.NewStorageError(BackendType, "disconnect", err)
		}
	}
	return nil
}

// Save writes rec, replacing any record with the same id. A record whose
// layout directory changed is moved.
func (b *Backend) Save(ctx context.Context, rec storage.Record) (string, error) {
	if err := b.ready(ctx, "save"); err != nil {
		return "", err
	}

	prepared, _, err := storage.PrepareForSave(BackendType, rec, time.Now().UTC())
	if err != nil {
		return "", err
	}
	id := prepared.ID()

	release, err := b.lock(ctx, "save", id)
	if err != nil {
		return "", err
	}
	defer release()

	prev, _, err := b.locate(id)
	if err != nil {
		return "", storage.Wrap(BackendType, "save", id, err)
	}
	if _, err := b.write(ctx, id, prepared, prev); err != nil {
		return "", storage.Wrap(BackendType, "save", id, err)
	}
	return id, nil
}

// Load returns the record, or nil if it does not exist.
func (b *Backend) Load(ctx context.Context, id string) (storage.Record, error) {
	if err := b.ready(ctx, "load"); err != nil {
		return nil, err
	}
	if err := storage.ValidateID(id); err != nil {
		return nil, storage.NewValidationError(BackendType, "load", err.Error())
	}

	rel, found, err := b.locate(id)
	if err != nil {
		return nil, storage.Wrap(BackendType, "load", id, err)
	}
	if !found {
		return nil, nil
	}
	rec, _, err := b.read(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Wrap(BackendType, "load", id, err)
	}
	return rec, nil
}

// Update merges partial into the record under its lock.
func (b *Backend) Update(ctx context.Context, id string, partial storage.Record) (bool, error) {
	if err := b.ready(ctx, "update"); err != nil {
		return false, err
	}
	if err := storage.ValidateID(id); err != nil {
		return false, storage.NewValidationError(BackendType, "update", err.Error())
	}

	release, err := b.lock(ctx, "update", id)
	if err != nil {
		return false, err
	}
	defer release()

	return b.updateLocked(ctx, id, partial)
}

// Delete removes the record, its backups and its sidecar entries.
func (b *Backend) Delete(ctx context.Context, id string) (bool, error) {
	if err := b.ready(ctx, "delete"); err != nil {
		return false, err
	}
	if err := storage.ValidateID(id); err != nil {
		return false, storage.NewValidationError(BackendType, "delete", err.Error())
	}

	release, err := b.lock(ctx, "delete", id)
	if err != nil {
		return false, err
	}
	defer release()

	return b.deleteLocked(ctx, id)
}

// List reads and filters records, ordered by created_at then id.
func (b *Backend) List(ctx context.Context, filter storage.Filter, limit int) ([]storage.Record, error) {
	if err := b.ready(ctx, "list"); err != nil {
		return nil, err
	}
	recs, err := b.scan(ctx, "list", filter, limit)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Count returns the number of matching records. Without a filter the index
// answers directly.
func (b *Backend) Count(ctx context.Context, filter storage.Filter) (int64, error) {
	if err := b.ready(ctx, "count"); err != nil {
		return 0, err
	}
	if len(filter) == 0 && b.index != nil {
		return int64(b.index.len()), nil
	}
	recs, err := b.scan(ctx, "count", filter, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

// Exists reports whether a data file for id exists.
func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	if err := b.ready(ctx, "exists"); err != nil {
		return false, err
	}
	if err := storage.ValidateID(id); err != nil {
		return false, storage.NewValidationError(BackendType, "exists", err.Error())
	}
	_, found, err := b.locate(id)
	if err != nil {
		return false, storage.Wrap(BackendType, "exists", id, err)
	}
	return found, nil
}

// CleanupOldData removes data files last modified before cutoff.
func (b *Backend) CleanupOldData(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := b.ready(ctx, "cleanup"); err != nil {
		return 0, err
	}
	return b.cleanup(ctx, cutoff)
}

func (b *Backend) cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	var stale []string
	err := b.walk(ctx, func(id, rel string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, id)
		}
		return nil
	})
	if err != nil {
		return 0, storage.Wrap(BackendType, "cleanup", "", err)
	}

	var deleted int64
	for _, id := range stale {
		n, err := b.removeIfStale(ctx, id, cutoff)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	if deleted > 0 {
		b.logger.Info("removed old records", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// removeIfStale re-checks the mtime under the record lock before deleting.
func (b *Backend) removeIfStale(ctx context.Context, id string, cutoff time.Time) (int64, error) {
	release, err := b.lock(ctx, "cleanup", id)
	if err != nil {
		return 0, err
	}
	defer release()

	rel, found, err := b.locate(id)
	if err != nil || !found {
		return 0, storage.Wrap(BackendType, "cleanup", id, err)
	}
	info, err := os.Stat(b.abs(rel))
	if err != nil || !info.ModTime().Before(cutoff) {
		return 0, nil
	}
	if err := b.remove(ctx, id, rel); err != nil {
		return 0, storage.Wrap(BackendType, "cleanup", id, err)
	}
	return 1, nil
}

// StreamList emits matching records in batches. With the index the records
// are read lazily in order; without it the tree is scanned first.
func (b *Backend) StreamList(ctx context.Context, filter storage.Filter, batchSize int) (<-chan []storage.Record, <-chan error, error) {
	if batchSize <= 0 {
		return nil, nil, storage.NewValidationError(BackendType, "stream_list", "batch size must be positive")
	}
	if err := b.ready(ctx, "stream_list"); err != nil {
		return nil, nil, err
	}
	conds, err := filter.Conditions()
	if err != nil {
		return nil, nil, storage.NewValidationError(BackendType, "stream_list", err.Error())
	}

	var next func() (storage.Record, bool, error)
	if b.index != nil {
		ids, entries := b.index.sorted()
		i := 0
		next = func() (storage.Record, bool, error) {
			for ; i < len(ids); i++ {
				if !entries[i].prefilter(conds) {
					continue
				}
				rec, _, err := b.read(entries[i].Path)
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				if err != nil {
					return nil, false, storage.Wrap(BackendType, "stream_list", ids[i], err)
				}
				if storage.MatchConditions(rec, conds) {
					i++
					return rec, true, nil
				}
			}
			return nil, false, nil
		}
	} else {
		recs, err := b.scan(ctx, "stream_list", filter, 0)
		if err != nil {
			return nil, nil, err
		}
		i := 0
		next = func() (storage.Record, bool, error) {
			if i >= len(recs) {
				return nil, false, nil
			}
			i++
			return recs[i-1], true, nil
		}
	}

	out := make(chan []storage.Record)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		batch := make([]storage.Record, 0, batchSize)
		flush := func() bool {
			select {
			case out <- batch:
				batch = make([]storage.Record, 0, batchSize)
				return true
			case <-ctx.Done():
				errc <- ctx.Err()
				return false
			}
		}

		for {
			if err := ctx.Err(); err != nil {
				errc <- err
				return
			}
			rec, ok, err := next()
			if err != nil {
				errc <- err
				return
			}
			if !ok {
				break
			}
			batch = append(batch, rec)
			if len(batch) == batchSize && !flush() {
				return
			}
		}
		if len(batch) > 0 {
			flush()
		}
	}()

	return out, errc, nil
}

// HealthCheck reports file counts, disk usage and worker state.
func (b *Backend) HealthCheck(ctx context.Context) (*storage.HealthStatus, error) {
	b.mu.RLock()
	connected := b.connected
	sched, watcher := b.sched, b.watcher
	b.mu.RUnlock()

	status := &storage.HealthStatus{
		Status:    storage.StatusHealthy,
		Backend:   BackendType,
		Connected: connected,
		Config:    storage.ConfigMap(b.cfg),
		CheckedAt: time.Now().UTC(),
		Details: map[string]any{
			"base_path":           b.cfg.BasePath,
			"directory_structure": string(b.layout),
			"file_format":         b.serializer.Name(),
			"compression":         b.compressor.Name(),
			"encrypted":           b.cfg.EncryptionKey != "",
			"locks_held":          b.locks.size(),
			"watching":            watcher != nil,
		},
	}

	if !connected {
		status.Status = storage.StatusUnhealthy
		return status, storage.NewConnectionError(BackendType, "health_check", errNotConnected)
	}

	var files, bytes int64
	err := b.walk(ctx, func(id, rel string, d fs.DirEntry) error {
		files++
		if info, err := d.Info(); err == nil {
			bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		status.Status = storage.StatusUnhealthy
		return status, storage.NewConnectionError(BackendType, "health_check", err)
	}
	status.ItemCount = files
	status.SizeBytes = bytes

	if b.index != nil {
		status.Details["index_entries"] = b.index.len()
		if int64(b.index.len()) != files {
			status.Details["index_stale"] = true
		}
	}
	if sched != nil {
		if next, ok := sched.NextRun(jobIndexFlush); ok {
			status.Details["next_index_flush"] = next
		}
		if next, ok := sched.NextRun(jobRetention); ok {
			status.Details["next_cleanup"] = next
		}
	}

	if source, err := b.workerError(); err != nil {
		status.Status = storage.StatusDegraded
		status.LastError = err.Error()
		status.Details["failing_worker"] = source
	}
	return status, nil
}

// RebuildIndex rescans the tree and replaces the index. It returns the
// number of entries.
func (b *Backend) RebuildIndex(ctx context.Context) (int, error) {
	if b.index == nil {
		return 0, storage.NewValidationError(BackendType, "rebuild_index", "index is not enabled")
	}
	if err := b.ready(ctx, "rebuild_index"); err != nil {
		return 0, err
	}
	n, err := b.rebuildIndex(ctx)
	if err != nil {
		return 0, storage.Wrap(BackendType, "rebuild_index", "", err)
	}
	return n, nil
}

func (b *Backend) rebuildIndex(ctx context.Context) (int, error) {
	b.index.beginRebuild()

	fresh := make(map[string]indexEntry)
	err := b.walk(ctx, func(id, rel string, d fs.DirEntry) error {
		rec, size, err := b.read(rel)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			b.logger.Warn("skipping unreadable file", "path", rel, "error", err)
			return nil
		}
		fresh[id] = newIndexEntry(rel, rec, size)
		return nil
	})
	if err != nil {
		b.index.finishRebuild(nil)
		return 0, err
	}

	b.index.finishRebuild(fresh)
	if err := b.index.save(true); err != nil {
		return 0, err
	}
	return b.index.len(), nil
}

// ready checks ctx and the connection state.
func (b *Backend) ready(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.connected {
		return storage.NewConnectionError(BackendType, op, errNotConnected)
	}
	return nil
}

func (b *Backend) lock(ctx context.Context, op, id string) (func(), error) {
	release, err := b.locks.acquire(ctx, id, b.cfg.lockTimeout())
	if err != nil {
		return nil, b.lockError(op, id, err)
	}
	return release, nil
}

func (b *Backend) lockError(op, id string, err error) error {
	if errors.Is(err, errLockTimeout) {
		return storage.NewTimeoutError(BackendType, op, id, err)
	}
	return err
}

func (b *Backend) abs(rel string) string {
	return filepath.Join(b.cfg.BasePath, rel)
}

// locate returns the path of id relative to the root. The index is
// trusted when enabled, but a stale entry whose file is gone is dropped.
func (b *Backend) locate(id string) (string, bool, error) {
	if b.index != nil {
		e, ok := b.index.get(id)
		if !ok {
			return "", false, nil
		}
		if fsutil.Exists(b.abs(e.Path)) {
			return e.Path, true, nil
		}
		b.index.remove(id)
		return "", false, nil
	}

	name := id + b.suffix
	var found string
	err := filepath.WalkDir(b.cfg.BasePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != b.cfg.BasePath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == name {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if found == "" {
		return "", false, nil
	}
	rel, err := filepath.Rel(b.cfg.BasePath, found)
	if err != nil {
		return "", false, err
	}
	return rel, true, nil
}

// walk visits every data file under the root. Temp files, backups and
// hidden files are skipped.
func (b *Backend) walk(ctx context.Context, fn func(id, rel string, d fs.DirEntry) error) error {
	return filepath.WalkDir(b.cfg.BasePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := d.Name()
		if d.IsDir() {
			if path != b.cfg.BasePath && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, b.suffix) {
			return nil
		}
		id := strings.TrimSuffix(name, b.suffix)
		if storage.ValidateID(id) != nil {
			return nil
		}
		rel, err := filepath.Rel(b.cfg.BasePath, path)
		if err != nil {
			return err
		}
		return fn(id, rel, d)
	})
}

// scan reads every candidate record and applies filter and limit.
func (b *Backend) scan(ctx context.Context, op string, filter storage.Filter, limit int) ([]storage.Record, error) {
	conds, err := filter.Conditions()
	if err != nil {
		return nil, storage.NewValidationError(BackendType, op, err.Error())
	}

	var out []storage.Record
	visit := func(id, rel string) error {
		rec, _, err := b.read(rel)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return storage.Wrap(BackendType, op, id, err)
		}
		if storage.MatchConditions(rec, conds) {
			out = append(out, rec)
		}
		return nil
	}

	if b.index != nil {
		ids, entries := b.index.sorted()
		for i, e := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !e.prefilter(conds) {
				continue
			}
			if err := visit(ids[i], e.Path); err != nil {
				return nil, err
			}
		}
	} else {
		err := b.walk(ctx, func(id, rel string, d fs.DirEntry) error {
			return visit(id, rel)
		})
		if err != nil {
			return nil, storage.Wrap(BackendType, op, "", err)
		}
	}

	storage.SortRecords(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// encode runs the write pipeline: serialize, compress, encrypt.
func (b *Backend) encode(rec storage.Record) ([]byte, error) {
	data, err := storage.EncodeRecord(b.serializer, rec)
	if err != nil {
		return nil, storage.NewValidationError(BackendType, "encode", err.Error())
	}
	if data, err = b.compressor.Compress(data); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if b.cipher != nil {
		if data, err = b.cipher.Seal(data); err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
	}
	return data, nil
}

// decode reverses encode.
func (b *Backend) decode(data []byte) (storage.Record, error) {
	var err error
	if b.cipher != nil {
		if data, err = b.cipher.Open(data); err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
	}
	if data, err = b.compressor.Decompress(data); err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return storage.DecodeRecord(b.serializer, data)
}

// read loads and decodes the file at rel, returning its on-disk size.
func (b *Backend) read(rel string) (storage.Record, int64, error) {
	data, err := os.ReadFile(b.abs(rel))
	if err != nil {
		return nil, 0, err
	}
	rec, err := b.decode(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", rel, err)
	}
	return rec, int64(len(data)), nil
}

// write stores rec for id and returns its new relative path. prev is the
// current location, which is removed when the layout moves the record.
// Caller must hold the id lock.
func (b *Backend) write(ctx context.Context, id string, rec storage.Record, prev string) (string, error) {
	rel := filepath.Join(b.layout.Dir(rec, time.Now().UTC()), id+b.suffix)
	data, err := b.encode(rec)
	if err != nil {
		return "", err
	}
	if err := b.writeRaw(ctx, id, rel, rec, data); err != nil {
		return "", err
	}
	if prev != "" && prev != rel {
		if err := b.removeFiles(ctx, id, prev); err != nil {
			return "", err
		}
	}
	return rel, nil
}

// writeRaw atomically replaces the file at rel with data and refreshes the
// index and metadata for rec.
func (b *Backend) writeRaw(ctx context.Context, id, rel string, rec storage.Record, data []byte) error {
	path := b.abs(rel)
	if b.cfg.EnableBackups {
		if err := rotateBackups(path, b.cfg.MaxBackups); err != nil {
			return err
		}
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return err
	}

	if b.index != nil {
		b.index.put(id, newIndexEntry(rel, rec, int64(len(data))))
	}
	b.updateMetadata(ctx, filepath.Dir(path), id, &fileMetadata{
		Size:      int64(len(data)),
		CreatedAt: rec.String(storage.FieldCreatedAt),
		UpdatedAt: rec.String(storage.FieldUpdatedAt),
		Checksum:  checksum(data),
	})
	return nil
}

// remove deletes id at rel and drops it from the index.
// Caller must hold the id lock.
func (b *Backend) remove(ctx context.Context, id, rel string) error {
	if err := b.removeFiles(ctx, id, rel); err != nil {
		return err
	}
	if b.index != nil {
		b.index.remove(id)
	}
	return nil
}

// removeFiles deletes the data file at rel with its backups and sidecar entry.
func (b *Backend) removeFiles(ctx context.Context, id, rel string) error {
	path := b.abs(rel)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	removeBackups(path, b.cfg.MaxBackups)
	if err := fsutil.SyncDir(filepath.Dir(path)); err != nil {
		return err
	}
	b.updateMetadata(ctx, filepath.Dir(path), id, nil)
	return nil
}

// updateLocked merges partial into id. Caller must hold the id lock.
func (b *Backend) updateLocked(ctx context.Context, id string, partial storage.Record) (bool, error) {
	rel, found, err := b.locate(id)
	if err != nil {
		return false, storage.Wrap(BackendType, "update", id, err)
	}
	if !found {
		return false, nil
	}
	existing, _, err := b.read(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, storage.Wrap(BackendType, "update", id, err)
	}
	merged, err := storage.Merge(BackendType, existing, partial, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if _, err := b.write(ctx, id, merged, rel); err != nil {
		return false, storage.Wrap(BackendType, "update", id, err)
	}
	return true, nil
}

// deleteLocked removes id. Caller must hold the id lock.
func (b *Backend) deleteLocked(ctx context.Context, id string) (bool, error) {
	rel, found, err := b.locate(id)
	if err != nil {
		return false, storage.Wrap(BackendType, "delete", id, err)
	}
	if !found {
		return false, nil
	}
	if err := b.remove(ctx, id, rel); err != nil {
		return false, storage.Wrap(BackendType, "delete", id, err)
	}
	return true, nil
}

// loadCipher reads the store salt, creating it on first use.
func (b *Backend) loadCipher() (*crypto.Cipher, error) {
	path := filepath.Join(b.cfg.BasePath, saltFileName)
	salt, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if salt, err = crypto.GenerateSalt(); err != nil {
			return nil, err
		}
		if err := fsutil.WriteFileAtomic(path, salt, 0o600); err != nil {
			return nil, fmt.Errorf("write key salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read key salt: %w", err)
	}
	return crypto.NewCipher(b.cfg.EncryptionKey, salt)
}

// setWorkerError records the outcome of a background task; nil clears it.
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

// workerError returns one retained failure, preferring the first source by name.
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
