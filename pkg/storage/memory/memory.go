package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/codec"
)

// BackendType is the registered name of the memory backend.
const BackendType = "memory"

var errNotConnected = errors.New("backend not connected")

// item is one stored record. The payload is immutable once built: updates
// replace the whole item, so payload slices can be read without the lock.
type item struct {
	payload      []byte
	compressed   bool
	createdAt    time.Time
	updatedAt    time.Time
	expiresAt    time.Time // zero means no expiry
	lastAccessed time.Time
	accessCount  int64
}

func (it *item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

func (it *item) size() int64 {
	return int64(len(it.payload))
}

// Backend implements storage.Backend in process memory.
//
// Items move from live to expired when their TTL passes and are reaped by
// the next read that observes them or by the periodic sweep. Capacity limits
// are enforced by admission control: a save that would exceed max_size or
// max_memory_mb fails with a CapacityError and no other item is evicted.
//
// Backend is safe for concurrent use. The item map is guarded by mu, which
// is never held while the snapshot file is written.
type Backend struct {
	cfg        Config
	serializer codec.Serializer
	gzip       codec.Compressor
	logger     *slog.Logger

	mu         sync.RWMutex
	items      map[string]*item
	totalBytes int64
	connected  bool

	done chan struct{}
	wg   sync.WaitGroup

	// persistMu serializes snapshot writers.
	persistMu sync.Mutex

	stateMu       sync.Mutex
	persistErr    error
	lastPersisted time.Time

	reaped   atomic.Int64
	rejected atomic.Int64
}

// Compile-time interface checks
var (
	_ storage.Backend        = (*Backend)(nil)
	_ storage.ExpiryReporter = (*Backend)(nil)
)

// New creates a memory backend. It must be connected before use.
func New(cfg Config, deps storage.Dependencies) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps = deps.WithDefaults("storage." + BackendType)

	gz, err := codec.CompressorByName("gzip")
	if err != nil {
		return nil, err
	}

	return &Backend{
		cfg:        cfg,
		serializer: deps.Serializer,
		gzip:       gz,
		logger:     deps.Logger,
		items:      make(map[string]*item),
	}, nil
}

// NewFromOptions is the registry constructor for the memory backend.
func NewFromOptions(opts storage.Options, deps storage.Dependencies) (storage.Backend, error) {
	cfg, err := ParseConfig(opts)
	if err != nil {
		return nil, err
	}
	return New(cfg, deps)
}

// Type returns "memory".
func (b *Backend) Type() string {
	return BackendType
}

// Connect loads the persistence snapshot, if any, and starts the sweep and
// persistence workers.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		return nil
	}

	if b.cfg.EnablePersistence {
		items, total, err := b.loadSnapshot()
		if err != nil {
			return err
		}
		if items != nil {
			b.items = items
			b.totalBytes = total
			b.logger.Info("loaded snapshot", "items", len(items), "file", b.cfg.PersistenceFile)
		}
	}

	b.done = make(chan struct{})
	b.wg.Add(1)
	go b.cleanupLoop(b.done)
	if b.cfg.EnablePersistence {
		b.wg.Add(1)
		go b.persistLoop(b.done)
	}

	b.connected = true
	return nil
}

// Disconnect stops the workers and writes a final snapshot when persistence
// is enabled. Items stay in memory.
func (b *Backend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.connected = false
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()

	if b.cfg.EnablePersistence {
		if err := b.writeSnapshot(); err != nil {
			return storage.NewStorageError(BackendType, "disconnect", err)
		}
	}
	return nil
}

// Save stores rec, replacing any record with the same id.
func (b *Backend) Save(ctx context.Context, rec storage.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	prepared, ttl, err := storage.PrepareForSave(BackendType, rec, now)
	if err != nil {
		return "", err
	}
	it, err := b.newItem(prepared, now, ttl)
	if err != nil {
		return "", err
	}
	id := prepared.ID()

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return "", storage.NewConnectionError(BackendType, "save", errNotConnected)
	}
	if err := b.admitLocked(id, it, now); err != nil {
		return "", err
	}
	b.putLocked(id, it)
	return id, nil
}

// Load returns the record, or nil if it is absent or expired.
func (b *Backend) Load(ctx context.Context, id string) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil, storage.NewConnectionError(BackendType, "load", errNotConnected)
	}
	it, ok := b.items[id]
	if !ok {
		b.mu.Unlock()
		return nil, nil
	}
	if it.expired(now) {
		b.removeLocked(id)
		b.reaped.Add(1)
		b.mu.Unlock()
		return nil, nil
	}
	it.lastAccessed = now
	it.accessCount++
	payload, compressed := it.payload, it.compressed
	b.mu.Unlock()

	rec, err := b.decode(payload, compressed)
	if err != nil {
		return nil, storage.Wrap(BackendType, "load", id, err)
	}
	return rec, nil
}

// ExpiresAt returns the expiry of id. ok is false when id is absent or has
// no expiry.
func (b *Backend) ExpiresAt(id string) (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	it, ok := b.items[id]
	if !ok || it.expiresAt.IsZero() {
		return time.Time{}, false
	}
	return it.expiresAt, true
}

// Update merges partial into the record. The item keeps its expiry.
func (b *Backend) Update(ctx context.Context, id string, partial storage.Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return false, storage.NewConnectionError(BackendType, "update", errNotConnected)
	}
	return b.updateLocked(id, partial, time.Now().UTC())
}

// Delete removes the record. Expired records count as absent.
func (b *Backend) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return false, storage.NewConnectionError(BackendType, "delete", errNotConnected)
	}
	return b.deleteLocked(id, time.Now().UTC()), nil
}

// List returns live records matching filter.
func (b *Backend) List(ctx context.Context, filter storage.Filter, limit int) ([]storage.Record, error) {
	recs, err := b.scan(ctx, "list", filter)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Count returns the number of live records matching filter.
func (b *Backend) Count(ctx context.Context, filter storage.Filter) (int64, error) {
	if len(filter) == 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		b.reapExpired()
		b.mu.RLock()
		defer b.mu.RUnlock()
		if !b.connected {
			return 0, storage.NewConnectionError(BackendType, "count", errNotConnected)
		}
		return int64(len(b.items)), nil
	}

	recs, err := b.scan(ctx, "count", filter)
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

// Exists reports whether a live record with id exists.
func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := time.Now().UTC()

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return false, storage.NewConnectionError(BackendType, "exists", errNotConnected)
	}
	it, ok := b.items[id]
	if !ok {
		return false, nil
	}
	if it.expired(now) {
		b.removeLocked(id)
		b.reaped.Add(1)
		return false, nil
	}
	return true, nil
}

// Transaction applies ops in one critical section. Every id touched is
// recorded in an undo log before its first change; if any operation fails
// the log is replayed and the map is left exactly as it was.
func (b *Backend) Transaction(ctx context.Context, ops []storage.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()

	// Encode saves up front so the lock is not held for it.
	saves := make(map[int]*item)
	saveIDs := make(map[int]string)
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return storage.NewTransactionError(BackendType, i, err)
		}
		if op.Kind != storage.OpSave {
			continue
		}
		prepared, ttl, err := storage.PrepareForSave(BackendType, op.Record, now)
		if err != nil {
			return storage.NewTransactionError(BackendType, i, err)
		}
		it, err := b.newItem(prepared, now, ttl)
		if err != nil {
			return storage.NewTransactionError(BackendType, i, err)
		}
		saves[i] = it
		saveIDs[i] = prepared.ID()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return storage.NewConnectionError(BackendType, "transaction", errNotConnected)
	}

	undo := make(map[string]*item)
	remember := func(id string) {
		if _, seen := undo[id]; !seen {
			undo[id] = b.items[id]
		}
	}

	for i, op := range ops {
		var err error
		switch op.Kind {
		case storage.OpSave:
			id := saveIDs[i]
			remember(id)
			if err = b.admitLocked(id, saves[i], now); err == nil {
				b.putLocked(id, saves[i])
			}
		case storage.OpUpdate:
			id := op.TargetID()
			remember(id)
			var ok bool
			if ok, err = b.updateLocked(id, op.Record, now); err == nil && !ok {
				err = storage.NewNotFoundError(BackendType, "update", id)
			}
		case storage.OpDelete:
			id := op.TargetID()
			remember(id)
			if !b.deleteLocked(id, now) {
				err = storage.NewNotFoundError(BackendType, "delete", id)
			}
		}

		if err != nil {
			b.rollbackLocked(undo)
			return storage.NewTransactionError(BackendType, i, err)
		}
	}
	return nil
}

// CleanupOldData removes records created before cutoff. Expired records are
// reaped as a side effect but not counted.
func (b *Backend) CleanupOldData(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC()

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return 0, storage.NewConnectionError(BackendType, "cleanup", errNotConnected)
	}

	var deleted int64
	for id, it := range b.items {
		if it.expired(now) {
			b.removeLocked(id)
			b.reaped.Add(1)
			continue
		}
		if !it.createdAt.IsZero() && it.createdAt.Before(cutoff) {
			b.removeLocked(id)
			deleted++
		}
	}
	return deleted, nil
}

// StreamList snapshots the matching records and emits them in batches.
func (b *Backend) StreamList(ctx context.Context, filter storage.Filter, batchSize int) (<-chan []storage.Record, <-chan error, error) {
	if batchSize <= 0 {
		return nil, nil, storage.NewValidationError(BackendType, "stream_list", "batch size must be positive")
	}
	recs, err := b.scan(ctx, "stream_list", filter)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan []storage.Record)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		for start := 0; start < len(recs); start += batchSize {
			if err := ctx.Err(); err != nil {
				errc <- err
				return
			}
			end := min(start+batchSize, len(recs))
			select {
			case out <- recs[start:end]:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return out, errc, nil
}

// HealthCheck reports item counts, memory use and persistence state.
// A failed snapshot degrades the status until the next successful one.
func (b *Backend) HealthCheck(ctx context.Context) (*storage.HealthStatus, error) {
	now := time.Now().UTC()

	b.mu.RLock()
	connected := b.connected
	var live, expired, compressed int64
	for _, it := range b.items {
		if it.expired(now) {
			expired++
			continue
		}
		live++
		if it.compressed {
			compressed++
		}
	}
	totalBytes := b.totalBytes
	b.mu.RUnlock()

	status := &storage.HealthStatus{
		Status:    storage.StatusHealthy,
		Backend:   BackendType,
		Connected: connected,
		ItemCount: live,
		SizeBytes: totalBytes,
		Config:    storage.ConfigMap(b.cfg),
		CheckedAt: now,
		Details: map[string]any{
			"expired_pending":  expired,
			"reaped_total":     b.reaped.Load(),
			"compressed_items": compressed,
			"rejected_writes":  b.rejected.Load(),
			"memory_limit_mb":  b.cfg.MaxMemoryMB,
			"max_size":         b.cfg.MaxSize,
			"memory_usage_pct": usagePercent(totalBytes, b.cfg.maxBytes()),
		},
	}

	if b.cfg.EnablePersistence {
		b.stateMu.Lock()
		persistErr, lastPersisted := b.persistErr, b.lastPersisted
		b.stateMu.Unlock()

		status.Details["persistence_file"] = b.cfg.PersistenceFile
		if !lastPersisted.IsZero() {
			status.Details["last_persisted_at"] = lastPersisted
		}
		if persistErr != nil {
			status.Status = storage.StatusDegraded
			status.LastError = persistErr.Error()
		}
	}

	if !connected {
		status.Status = storage.StatusUnhealthy
		return status, storage.NewConnectionError(BackendType, "health_check", errNotConnected)
	}
	return status, nil
}

// Len returns the number of stored items, including expired items that
// have not been reaped yet.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// newItem encodes rec into an item, compressing large payloads.
func (b *Backend) newItem(rec storage.Record, now time.Time, ttl time.Duration) (*item, error) {
	payload, err := storage.EncodeRecord(b.serializer, rec)
	if err != nil {
		return nil, storage.NewValidationError(BackendType, "encode", err.Error())
	}

	it := &item{
		payload:      payload,
		createdAt:    rec.CreatedAt(),
		updatedAt:    now,
		lastAccessed: now,
	}

	if b.cfg.EnableCompression && len(payload) > b.cfg.CompressionThreshold {
		packed, err := b.gzip.Compress(payload)
		if err != nil {
			return nil, storage.NewStorageError(BackendType, "compress", err)
		}
		if len(packed) < len(payload) {
			it.payload = packed
			it.compressed = true
		}
	}

	if ttl == 0 {
		ttl = b.cfg.defaultTTL()
	}
	if ttl > 0 {
		it.expiresAt = now.Add(ttl)
	}
	return it, nil
}

func (b *Backend) decode(payload []byte, compressed bool) (storage.Record, error) {
	if compressed {
		raw, err := b.gzip.Decompress(payload)
		if err != nil {
			return nil, err
		}
		payload = raw
	}
	return storage.DecodeRecord(b.serializer, payload)
}

// admitLocked enforces the capacity limits for writing it under id.
// Expired items are reaped before a write is rejected.
// Caller must hold write lock.
func (b *Backend) admitLocked(id string, it *item, now time.Time) error {
	if old, ok := b.items[id]; ok && old.expired(now) {
		b.removeLocked(id)
		b.reaped.Add(1)
	}

	err := b.checkCapacityLocked(id, it)
	if err != nil && b.reapExpiredLocked(now) > 0 {
		err = b.checkCapacityLocked(id, it)
	}
	if err != nil {
		b.rejected.Add(1)
	}
	return err
}

func (b *Backend) checkCapacityLocked(id string, it *item) error {
	old, exists := b.items[id]

	if b.cfg.MaxSize > 0 && !exists && len(b.items) >= b.cfg.MaxSize {
		return storage.NewCapacityError(BackendType, id, "max_size reached")
	}

	if limit := b.cfg.maxBytes(); limit > 0 {
		total := b.totalBytes + it.size()
		if exists {
			total -= old.size()
		}
		if total > limit {
			return storage.NewCapacityError(BackendType, id, "max_memory_mb reached")
		}
	}
	return nil
}

// putLocked stores it under id. Caller must hold write lock.
func (b *Backend) putLocked(id string, it *item) {
	if old, ok := b.items[id]; ok {
		b.totalBytes -= old.size()
	}
	b.items[id] = it
	b.totalBytes += it.size()
}

// removeLocked deletes id. Caller must hold write lock.
func (b *Backend) removeLocked(id string) {
	if old, ok := b.items[id]; ok {
		b.totalBytes -= old.size()
		delete(b.items, id)
	}
}

// updateLocked merges partial into the live record id. Caller must hold write lock.
func (b *Backend) updateLocked(id string, partial storage.Record, now time.Time) (bool, error) {
	old, ok := b.items[id]
	if !ok {
		return false, nil
	}
	if old.expired(now) {
		b.removeLocked(id)
		b.reaped.Add(1)
		return false, nil
	}

	existing, err := b.decode(old.payload, old.compressed)
	if err != nil {
		return false, storage.Wrap(BackendType, "update", id, err)
	}
	merged, err := storage.Merge(BackendType, existing, partial, now)
	if err != nil {
		return false, err
	}
	it, err := b.newItem(merged, now, -1)
	if err != nil {
		return false, err
	}
	it.expiresAt = old.expiresAt
	it.lastAccessed = old.lastAccessed
	it.accessCount = old.accessCount

	if err := b.admitLocked(id, it, now); err != nil {
		return false, err
	}
	b.putLocked(id, it)
	return true, nil
}

// deleteLocked removes id and reports whether a live record was removed.
// Caller must hold write lock.
func (b *Backend) deleteLocked(id string, now time.Time) bool {
	it, ok := b.items[id]
	if !ok {
		return false
	}
	b.removeLocked(id)
	if it.expired(now) {
		b.reaped.Add(1)
		return false
	}
	return true
}

// rollbackLocked restores every id in undo to its recorded item, or to
// absence for a nil entry. Caller must hold write lock.
func (b *Backend) rollbackLocked(undo map[string]*item) {
	for id, prior := range undo {
		b.removeLocked(id)
		if prior != nil {
			b.putLocked(id, prior)
		}
	}
}

// scan decodes and filters every live item, ordered by created_at then id.
func (b *Backend) scan(ctx context.Context, op string, filter storage.Filter) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conds, err := filter.Conditions()
	if err != nil {
		return nil, storage.NewValidationError(BackendType, op, err.Error())
	}

	now := time.Now().UTC()

	type entry struct {
		id         string
		payload    []byte
		compressed bool
	}

	b.mu.RLock()
	if !b.connected {
		b.mu.RUnlock()
		return nil, storage.NewConnectionError(BackendType, op, errNotConnected)
	}
	entries := make([]entry, 0, len(b.items))
	sawExpired := false
	for id, it := range b.items {
		if it.expired(now) {
			sawExpired = true
			continue
		}
		entries = append(entries, entry{id: id, payload: it.payload, compressed: it.compressed})
	}
	b.mu.RUnlock()

	if sawExpired {
		b.reapExpired()
	}

	var out []storage.Record
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := b.decode(e.payload, e.compressed)
		if err != nil {
			return nil, storage.Wrap(BackendType, op, e.id, err)
		}
		if storage.MatchConditions(rec, conds) {
			out = append(out, rec)
		}
	}
	storage.SortRecords(out)
	return out, nil
}

// reapExpired removes every expired item and returns how many were removed.
func (b *Backend) reapExpired() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reapExpiredLocked(time.Now().UTC())
}

// reapExpiredLocked is reapExpired for callers holding the write lock.
func (b *Backend) reapExpiredLocked(now time.Time) int {
	n := 0
	for id, it := range b.items {
		if it.expired(now) {
			b.removeLocked(id)
			n++
		}
	}
	b.reaped.Add(int64(n))
	return n
}

// cleanupLoop runs periodic sweeps of expired items.
func (b *Backend) cleanupLoop(done <-chan struct{}) {
	defer b.wg.Done()

	ticker := time.NewTicker(seconds(b.cfg.CleanupIntervalSeconds))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := b.reapExpired(); n > 0 {
				b.logger.Debug("reaped expired items", "count", n)
			}
		case <-done:
			return
		}
	}
}

func usagePercent(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}
