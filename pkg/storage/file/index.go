package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/internal/fsutil"
)

const (
	indexFileName = ".index.json"
	indexVersion  = 1
)

// indexEntry locates one record and caches its reserved fields.
type indexEntry struct {
	Path      string `json:"path"` // relative to the store root
	Type      string `json:"type,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	Size      int64  `json:"size"`
}

func newIndexEntry(rel string, rec storage.Record, size int64) indexEntry {
	return indexEntry{
		Path:      rel,
		Type:      rec.Type(),
		SessionID: rec.SessionID(),
		ThreadID:  rec.ThreadID(),
		CreatedAt: rec.String(storage.FieldCreatedAt),
		UpdatedAt: rec.String(storage.FieldUpdatedAt),
		Size:      size,
	}
}

// indexedFields are the record fields an entry carries.
var indexedFields = map[string]func(indexEntry) string{
	storage.FieldType:      func(e indexEntry) string { return e.Type },
	storage.FieldSessionID: func(e indexEntry) string { return e.SessionID },
	storage.FieldThreadID:  func(e indexEntry) string { return e.ThreadID },
}

// prefilter reports whether the entry can match conds. Only non-empty
// string equalities on indexed fields are decided here; everything else
// is left to the full match after the record is read.
func (e indexEntry) prefilter(conds []storage.Condition) bool {
	for _, c := range conds {
		get, ok := indexedFields[c.Field]
		if !ok || c.Operator != storage.OpEq {
			continue
		}
		want, ok := c.Value.(string)
		if !ok || want == "" {
			continue
		}
		if get(e) != want {
			return false
		}
	}
	return true
}

type indexFile struct {
	Version   int                   `json:"version"`
	UpdatedAt time.Time             `json:"updated_at"`
	Entries   map[string]indexEntry `json:"entries"`
}

// fileIndex is the in-memory id → entry map persisted as .index.json.
type fileIndex struct {
	path string

	mu      sync.RWMutex
	entries map[string]indexEntry
	dirty   bool
	touched map[string]struct{} // ids written during a rebuild

	// persistMu serializes writers of the index file.
	persistMu sync.Mutex
	// rebuildMu serializes rebuilds.
	rebuildMu sync.Mutex
}

func newFileIndex(path string) *fileIndex {
	return &fileIndex{path: path, entries: make(map[string]indexEntry)}
}

func (x *fileIndex) get(id string) (indexEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[id]
	return e, ok
}

func (x *fileIndex) put(id string, e indexEntry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[id] = e
	x.dirty = true
	if x.touched != nil {
		x.touched[id] = struct{}{}
	}
}

func (x *fileIndex) remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.entries[id]; !ok {
		return
	}
	delete(x.entries, id)
	x.dirty = true
	if x.touched != nil {
		x.touched[id] = struct{}{}
	}
}

func (x *fileIndex) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// sorted returns the entries ordered by created_at then id.
func (x *fileIndex) sorted() ([]string, []indexEntry) {
	x.mu.RLock()
	ids := make([]string, 0, len(x.entries))
	for id := range x.entries {
		ids = append(ids, id)
	}
	entries := make(map[string]indexEntry, len(ids))
	for _, id := range ids {
		entries[id] = x.entries[id]
	}
	x.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		ci, cj := entries[ids[i]].CreatedAt, entries[ids[j]].CreatedAt
		if ci != cj {
			return ci < cj
		}
		return ids[i] < ids[j]
	})
	out := make([]indexEntry, len(ids))
	for i, id := range ids {
		out[i] = entries[id]
	}
	return ids, out
}

// beginRebuild starts recording writes so finishRebuild can keep them.
func (x *fileIndex) beginRebuild() {
	x.rebuildMu.Lock()
	x.mu.Lock()
	x.touched = make(map[string]struct{})
	x.mu.Unlock()
}

// finishRebuild installs fresh, keeping the current state of any id written
// since beginRebuild.
func (x *fileIndex) finishRebuild(fresh map[string]indexEntry) {
	defer x.rebuildMu.Unlock()

	x.mu.Lock()
	defer x.mu.Unlock()
	if fresh != nil {
		for id := range x.touched {
			if cur, ok := x.entries[id]; ok {
				fresh[id] = cur
			} else {
				delete(fresh, id)
			}
		}
		x.entries = fresh
		x.dirty = true
	}
	x.touched = nil
}

// load reads the index file. It reports false when the file is missing.
func (x *fileIndex) load() (bool, error) {
	data, err := os.ReadFile(x.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return false, fmt.Errorf("corrupt index %s: %w", x.path, err)
	}
	if f.Version != indexVersion {
		return false, fmt.Errorf("unsupported index version %d", f.Version)
	}
	if f.Entries == nil {
		f.Entries = make(map[string]indexEntry)
	}

	x.mu.Lock()
	x.entries = f.Entries
	x.dirty = false
	x.mu.Unlock()
	return true, nil
}

// save writes the index if it changed since the last save.
func (x *fileIndex) save(force bool) error {
	x.persistMu.Lock()
	defer x.persistMu.Unlock()

	x.mu.Lock()
	if !x.dirty && !force {
		x.mu.Unlock()
		return nil
	}
	f := indexFile{
		Version:   indexVersion,
		UpdatedAt: time.Now().UTC(),
		Entries:   make(map[string]indexEntry, len(x.entries)),
	}
	for id, e := range x.entries {
		f.Entries[id] = e
	}
	x.dirty = false
	x.mu.Unlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err == nil {
		err = fsutil.WriteFileAtomic(x.path, data, 0o644)
	}
	if err != nil {
		x.mu.Lock()
		x.dirty = true
		x.mu.Unlock()
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}
