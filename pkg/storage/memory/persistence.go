package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/internal/fsutil"
)

const snapshotVersion = 1

// snapshotFile is the on-disk persistence envelope. Payloads are stored as
// they are held in memory, so compressed items stay compressed.
type snapshotFile struct {
	Version    int            `json:"version"`
	Serializer string         `json:"serializer"`
	SavedAt    time.Time      `json:"saved_at"`
	Items      []snapshotItem `json:"items"`
}

type snapshotItem struct {
	ID           string     `json:"id"`
	Payload      []byte     `json:"payload"`
	Compressed   bool       `json:"compressed,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastAccessed time.Time  `json:"last_accessed"`
	AccessCount  int64      `json:"access_count"`
}

// Snapshot writes the live items to the persistence file immediately.
func (b *Backend) Snapshot(ctx context.Context) error {
	if !b.cfg.EnablePersistence {
		return storage.NewValidationError(BackendType, "snapshot", "persistence is not enabled")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.writeSnapshot()
}

// writeSnapshot copies the live items under the read lock and writes them
// atomically. The outcome is recorded for HealthCheck.
func (b *Backend) writeSnapshot() error {
	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	now := time.Now().UTC()
	snap := snapshotFile{
		Version:    snapshotVersion,
		Serializer: b.serializer.Name(),
		SavedAt:    now,
	}

	b.mu.RLock()
	snap.Items = make([]snapshotItem, 0, len(b.items))
	for id, it := range b.items {
		if it.expired(now) {
			continue
		}
		entry := snapshotItem{
			ID:           id,
			Payload:      it.payload,
			Compressed:   it.compressed,
			CreatedAt:    it.createdAt,
			UpdatedAt:    it.updatedAt,
			LastAccessed: it.lastAccessed,
			AccessCount:  it.accessCount,
		}
		if !it.expiresAt.IsZero() {
			exp := it.expiresAt
			entry.ExpiresAt = &exp
		}
		snap.Items = append(snap.Items, entry)
	}
	b.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err == nil {
		err = fsutil.WriteFileAtomic(b.cfg.PersistenceFile, data, 0o600)
	}

	b.stateMu.Lock()
	b.persistErr = err
	if err == nil {
		b.lastPersisted = now
	}
	b.stateMu.Unlock()

	if err != nil {
		b.logger.Warn("snapshot failed", "file", b.cfg.PersistenceFile, "error", err)
		return fmt.Errorf("write snapshot: %w", err)
	}
	b.logger.Debug("snapshot written", "items", len(snap.Items), "file", b.cfg.PersistenceFile)
	return nil
}

// loadSnapshot reads the persistence file. A missing file yields a nil map;
// an unreadable one is a connection error. Expired entries are dropped.
func (b *Backend) loadSnapshot() (map[string]*item, int64, error) {
	data, err := os.ReadFile(b.cfg.PersistenceFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, storage.NewConnectionError(BackendType, "connect", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, 0, storage.NewConnectionError(BackendType, "connect",
			fmt.Errorf("corrupt snapshot %s: %w", b.cfg.PersistenceFile, err))
	}
	if snap.Version != snapshotVersion {
		return nil, 0, storage.NewConnectionError(BackendType, "connect",
			fmt.Errorf("unsupported snapshot version %d", snap.Version))
	}
	if snap.Serializer != "" && snap.Serializer != b.serializer.Name() {
		return nil, 0, storage.NewConfigurationError(BackendType, "serializer",
			fmt.Sprintf("snapshot was written with %q, backend uses %q", snap.Serializer, b.serializer.Name()))
	}

	now := time.Now().UTC()
	items := make(map[string]*item, len(snap.Items))
	var total int64
	for _, e := range snap.Items {
		it := &item{
			payload:      e.Payload,
			compressed:   e.Compressed,
			createdAt:    e.CreatedAt,
			updatedAt:    e.UpdatedAt,
			lastAccessed: e.LastAccessed,
			accessCount:  e.AccessCount,
		}
		if e.ExpiresAt != nil {
			it.expiresAt = *e.ExpiresAt
		}
		if it.expired(now) {
			continue
		}
		items[e.ID] = it
		total += it.size()
	}
	return items, total, nil
}

// persistLoop writes a snapshot every persistence interval.
func (b *Backend) persistLoop(done <-chan struct{}) {
	defer b.wg.Done()

	ticker := time.NewTicker(seconds(b.cfg.PersistenceIntervalSeconds))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Errors are logged and surfaced through HealthCheck.
			_ = b.writeSnapshot()
		case <-done:
			return
		}
	}
}
