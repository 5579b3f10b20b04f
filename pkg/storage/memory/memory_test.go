package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/telemetry/logging"
)

func newTestBackend(t *testing.T, mutate func(*Config)) *Backend {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := New(cfg, storage.Dependencies{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })
	return b
}

func mustSave(t *testing.T, b *Backend, rec storage.Record) string {
	t.Helper()
	id, err := b.Save(context.Background(), rec)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return id
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	id := mustSave(t, b, storage.Record{"type": "message", "content": "hi", "n": 3, "tags": []any{"a", "b"}})
	if id == "" {
		t.Fatal("Save() returned empty id")
	}

	got, err := b.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got["content"] != "hi" || got["n"] != float64(3) {
		t.Errorf("Load() = %v", got)
	}
	if got.ID() != id || got.String(storage.FieldCreatedAt) == "" || got.String(storage.FieldUpdatedAt) == "" {
		t.Errorf("Load() missing stamped fields: %v", got)
	}

	missing, err := b.Load(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Load(missing) = %v, %v, want nil, nil", missing, err)
	}
}

func TestSaveOverwritesExistingID(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	mustSave(t, b, storage.Record{"id": "x", "v": 1})
	mustSave(t, b, storage.Record{"id": "x", "v": 2})

	got, _ := b.Load(ctx, "x")
	if got["v"] != float64(2) {
		t.Errorf("v = %v, want 2", got["v"])
	}
	if n, _ := b.Count(ctx, nil); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestTTLExpiry(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	id := mustSave(t, b, storage.Record{"v": 1, "_ttl": 0.05})
	got, _ := b.Load(ctx, id)
	if got == nil {
		t.Fatal("record missing before expiry")
	}
	if _, stored := got[storage.FieldTTL]; stored {
		t.Error("_ttl should not be stored")
	}

	time.Sleep(100 * time.Millisecond)

	if got, _ := b.Load(ctx, id); got != nil {
		t.Errorf("Load() after expiry = %v, want nil", got)
	}
	if ok, _ := b.Exists(ctx, id); ok {
		t.Error("Exists() after expiry = true")
	}
	if ok, _ := b.Delete(ctx, id); ok {
		t.Error("Delete() after expiry = true")
	}
	if b.Len() != 0 {
		t.Errorf("expired item not reaped, Len() = %d", b.Len())
	}
}

func TestDefaultTTLAndSweep(t *testing.T) {
	b := newTestBackend(t, func(c *Config) {
		c.DefaultTTLSeconds = 0.05
		c.CleanupIntervalSeconds = 0.02
	})

	mustSave(t, b, storage.Record{"v": 1})
	mustSave(t, b, storage.Record{"v": 2})

	deadline := time.Now().Add(2 * time.Second)
	for b.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if b.Len() != 0 {
		t.Errorf("sweep left %d items", b.Len())
	}
}

func TestCapacityMaxSize(t *testing.T) {
	b := newTestBackend(t, func(c *Config) { c.MaxSize = 2 })
	ctx := context.Background()

	mustSave(t, b, storage.Record{"id": "a"})
	mustSave(t, b, storage.Record{"id": "b"})

	_, err := b.Save(ctx, storage.Record{"id": "c"})
	if !errors.Is(err, storage.ErrCapacity) {
		t.Fatalf("Save() over max_size error = %v, want capacity error", err)
	}

	// Overwriting an existing id does not need a new slot.
	mustSave(t, b, storage.Record{"id": "a", "v": 2})

	// Nothing was evicted.
	for _, id := range []string{"a", "b"} {
		if ok, _ := b.Exists(ctx, id); !ok {
			t.Errorf("%s was evicted", id)
		}
	}
}

func TestCapacityReapsExpiredFirst(t *testing.T) {
	b := newTestBackend(t, func(c *Config) { c.MaxSize = 1 })
	ctx := context.Background()

	mustSave(t, b, storage.Record{"id": "old", "_ttl": 0.03})
	time.Sleep(60 * time.Millisecond)

	if _, err := b.Save(ctx, storage.Record{"id": "new"}); err != nil {
		t.Fatalf("Save() error = %v, want expired item reaped", err)
	}
}

func TestCapacityMaxMemory(t *testing.T) {
	b := newTestBackend(t, func(c *Config) { c.MaxMemoryMB = 0.001 }) // ~1 KiB
	ctx := context.Background()

	body := strings.Repeat("x", 600)
	mustSave(t, b, storage.Record{"id": "a", "body": body})

	_, err := b.Save(ctx, storage.Record{"id": "b", "body": body})
	if !errors.Is(err, storage.ErrCapacity) {
		t.Fatalf("Save() over max_memory_mb error = %v, want capacity error", err)
	}

	// Replacing a record is charged the size difference only.
	mustSave(t, b, storage.Record{"id": "a", "body": body + "y"})
}

func TestCompression(t *testing.T) {
	b := newTestBackend(t, func(c *Config) {
		c.EnableCompression = true
		c.CompressionThreshold = 100
	})
	ctx := context.Background()

	body := strings.Repeat("compressible ", 500)
	id := mustSave(t, b, storage.Record{"body": body})
	mustSave(t, b, storage.Record{"body": "small"})

	got, err := b.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got["body"] != body {
		t.Error("compressed record did not round-trip")
	}

	status, err := b.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if status.Details["compressed_items"] != int64(1) {
		t.Errorf("compressed_items = %v, want 1", status.Details["compressed_items"])
	}
	if status.SizeBytes >= int64(len(body)) {
		t.Errorf("SizeBytes = %d, want less than raw body %d", status.SizeBytes, len(body))
	}
}

func TestUpdate(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	id := mustSave(t, b, storage.Record{"a": 1, "b": 2})
	before, _ := b.Load(ctx, id)

	ok, err := b.Update(ctx, id, storage.Record{"b": 3, "c": 4})
	if err != nil || !ok {
		t.Fatalf("Update() = %v, %v", ok, err)
	}

	got, _ := b.Load(ctx, id)
	if got["a"] != float64(1) || got["b"] != float64(3) || got["c"] != float64(4) {
		t.Errorf("merged record = %v", got)
	}
	if got[storage.FieldCreatedAt] != before[storage.FieldCreatedAt] {
		t.Error("created_at changed on update")
	}

	ok, err = b.Update(ctx, "missing", storage.Record{"a": 1})
	if err != nil || ok {
		t.Errorf("Update(missing) = %v, %v, want false, nil", ok, err)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	id := mustSave(t, b, storage.Record{"base": true})

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := b.Update(ctx, id, storage.Record{fmt.Sprintf("f%d", i): i}); err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := b.Load(ctx, id)
	for i := 0; i < workers; i++ {
		if _, ok := got[fmt.Sprintf("f%d", i)]; !ok {
			t.Errorf("lost update f%d", i)
		}
	}
}

func TestListFilterAndOrder(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, n := range []int{5, 10, 15, 20} {
		mustSave(t, b, storage.Record{
			"id":         fmt.Sprintf("r%d", i),
			"n":          n,
			"created_at": storage.FormatTime(base.Add(time.Duration(-i) * time.Hour)),
		})
	}

	got, err := b.List(ctx, storage.Filter{"n": map[string]any{"$gt": 10}}, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].ID() != "r3" || got[1].ID() != "r2" {
		t.Errorf("List() ids = %v, want [r3 r2]", ids(got))
	}

	limited, _ := b.List(ctx, nil, 3)
	if len(limited) != 3 || limited[0].ID() != "r3" {
		t.Errorf("List(limit 3) ids = %v", ids(limited))
	}

	if _, err := b.List(ctx, storage.Filter{"n": map[string]any{"$regex": "x"}}, 0); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("List() with bad operator error = %v, want validation error", err)
	}

	n, _ := b.Count(ctx, storage.Filter{"n": map[string]any{"$lte": 10}})
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestTransactionRollback(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	mustSave(t, b, storage.Record{"id": "a", "v": 1})

	err := b.Transaction(ctx, []storage.Operation{
		{Kind: storage.OpSave, Record: storage.Record{"id": "b", "v": 1}},
		{Kind: storage.OpUpdate, ID: "a", Record: storage.Record{"v": 2}},
		{Kind: storage.OpDelete, ID: "missing"},
	})
	if !errors.Is(err, storage.ErrTransaction) {
		t.Fatalf("Transaction() error = %v, want transaction error", err)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Transaction() cause = %v, want not found", err)
	}

	if ok, _ := b.Exists(ctx, "b"); ok {
		t.Error("save from failed transaction is visible")
	}
	if got, _ := b.Load(ctx, "a"); got["v"] != float64(1) {
		t.Errorf("a.v = %v after rollback, want 1", got["v"])
	}
}

func TestTransactionCommit(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	mustSave(t, b, storage.Record{"id": "a", "v": 1})
	mustSave(t, b, storage.Record{"id": "gone"})

	err := b.Transaction(ctx, []storage.Operation{
		{Kind: storage.OpSave, Record: storage.Record{"id": "b"}},
		{Kind: storage.OpUpdate, ID: "a", Record: storage.Record{"v": 2}},
		{Kind: storage.OpDelete, ID: "gone"},
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}

	if ok, _ := b.Exists(ctx, "b"); !ok {
		t.Error("b not saved")
	}
	if ok, _ := b.Exists(ctx, "gone"); ok {
		t.Error("gone not deleted")
	}
	if got, _ := b.Load(ctx, "a"); got["v"] != float64(2) {
		t.Errorf("a.v = %v, want 2", got["v"])
	}
}

func TestCleanupOldData(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	mustSave(t, b, storage.Record{"id": "old", "created_at": storage.FormatTime(now.Add(-48 * time.Hour))})
	mustSave(t, b, storage.Record{"id": "new"})

	n, err := b.CleanupOldData(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CleanupOldData() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CleanupOldData() = %d, want 1", n)
	}
	if ok, _ := b.Exists(ctx, "new"); !ok {
		t.Error("recent record was removed")
	}
}

func TestStreamList(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		mustSave(t, b, storage.Record{
			"id":         fmt.Sprintf("r%d", i),
			"created_at": storage.FormatTime(base.Add(time.Duration(i) * time.Minute)),
		})
	}

	batches, errc, err := b.StreamList(ctx, nil, 2)
	if err != nil {
		t.Fatalf("StreamList() error = %v", err)
	}

	var sizes []int
	var all []storage.Record
	for batch := range batches {
		sizes = append(sizes, len(batch))
		all = append(all, batch...)
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream error = %v", err)
	}

	if fmt.Sprint(sizes) != "[2 2 1]" {
		t.Errorf("batch sizes = %v, want [2 2 1]", sizes)
	}
	if fmt.Sprint(ids(all)) != "[r0 r1 r2 r3 r4]" {
		t.Errorf("order = %v", ids(all))
	}

	if _, _, err := b.StreamList(ctx, nil, 0); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("StreamList(batch 0) error = %v, want validation error", err)
	}
}

func TestStreamListCancel(t *testing.T) {
	b := newTestBackend(t, nil)
	for i := 0; i < 10; i++ {
		mustSave(t, b, storage.Record{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	batches, errc, err := b.StreamList(ctx, nil, 1)
	if err != nil {
		t.Fatalf("StreamList() error = %v", err)
	}
	<-batches
	cancel()

	for range batches {
	}
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("stream error = %v, want context.Canceled", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "memory.json")
	withPersistence := func(c *Config) {
		c.EnablePersistence = true
		c.PersistenceFile = path
		c.EnableCompression = true
		c.CompressionThreshold = 10
	}
	ctx := context.Background()

	first := newTestBackend(t, withPersistence)
	mustSave(t, first, storage.Record{"id": "keep", "body": strings.Repeat("z", 200)})
	mustSave(t, first, storage.Record{"id": "short", "_ttl": 0.1})
	if err := first.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	second := newTestBackend(t, withPersistence)
	got, err := second.Load(ctx, "keep")
	if err != nil || got == nil {
		t.Fatalf("Load(keep) = %v, %v", got, err)
	}
	if got["body"] != strings.Repeat("z", 200) {
		t.Error("body did not survive the snapshot")
	}
	if second.Len() != 1 {
		t.Errorf("Len() = %d, want expired entry skipped", second.Len())
	}
}

func TestCorruptSnapshotFailsConnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.EnablePersistence = true
	cfg.PersistenceFile = path
	b, err := New(cfg, storage.Dependencies{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Connect(context.Background()); !errors.Is(err, storage.ErrConnection) {
		t.Errorf("Connect() error = %v, want connection error", err)
	}
}

func TestSnapshotFailureDegradesHealth(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	b := newTestBackend(t, func(c *Config) {
		c.EnablePersistence = true
		c.PersistenceFile = filepath.Join(blocker, "memory.json")
	})
	ctx := context.Background()

	status, _ := b.HealthCheck(ctx)
	if status.Status != storage.StatusHealthy {
		t.Fatalf("Status = %s before failure", status.Status)
	}

	if err := b.Snapshot(ctx); err == nil {
		t.Fatal("Snapshot() into a file path succeeded")
	}

	status, err := b.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if status.Status != storage.StatusDegraded || status.LastError == "" {
		t.Errorf("status = %s (%q), want degraded with error", status.Status, status.LastError)
	}
}

func TestNotConnected(t *testing.T) {
	b, err := New(DefaultConfig(), storage.Dependencies{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if _, err := b.Save(ctx, storage.Record{}); !errors.Is(err, storage.ErrConnection) {
		t.Errorf("Save() error = %v, want connection error", err)
	}
	status, err := b.HealthCheck(ctx)
	if !errors.Is(err, storage.ErrConnection) || status.Status != storage.StatusUnhealthy {
		t.Errorf("HealthCheck() = %v, %v", status.Status, err)
	}
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		opts    storage.Options
		wantErr string
	}{
		{name: "defaults", opts: nil},
		{name: "custom", opts: storage.Options{"max_size": 5, "enable_compression": true}},
		{name: "negative max_size", opts: storage.Options{"max_size": -1}, wantErr: "max_size"},
		{name: "zero cleanup interval", opts: storage.Options{"cleanup_interval_seconds": 0}, wantErr: "cleanup_interval_seconds"},
		{name: "persistence without file", opts: storage.Options{"enable_persistence": true}, wantErr: "persistence_file"},
		{name: "wrong type", opts: storage.Options{"max_size": "lots"}, wantErr: "invalid options"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig(tt.opts)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ParseConfig() error = %v", err)
				}
				if tt.name == "custom" && (cfg.MaxSize != 5 || !cfg.EnableCompression || cfg.CleanupIntervalSeconds != 60) {
					t.Errorf("ParseConfig() = %+v", cfg)
				}
				return
			}
			if !errors.Is(err, storage.ErrConfiguration) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseConfig() error = %v, want configuration error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestBaseStorageOverMemory(t *testing.T) {
	b, err := New(DefaultConfig(), storage.Dependencies{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	st := storage.NewBaseStorage(b, storage.BaseConfig{Name: "scratch", Logger: logging.Discard()})
	ctx := context.Background()
	if err := st.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer st.Close(ctx)

	sid := "s-1"
	for i := 0; i < 3; i++ {
		if _, err := st.Save(ctx, storage.Record{"session_id": sid, "i": i}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	got, err := st.GetBySession(ctx, sid)
	if err != nil || len(got) != 3 {
		t.Errorf("GetBySession() = %d records, %v", len(got), err)
	}
}

func TestCachedLoadHonorsRecordTTL(t *testing.T) {
	b, err := New(DefaultConfig(), storage.Dependencies{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	st := storage.NewBaseStorage(b, storage.BaseConfig{
		Name:   "cached",
		Common: storage.CommonConfig{CacheTTL: 60},
		Logger: logging.Discard(),
	})
	ctx := context.Background()
	if err := st.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer st.Close(ctx)

	if _, err := st.Save(ctx, storage.Record{"id": "short", "_ttl": 0.1}); err != nil {
		t.Fatalf("Save(short) error = %v", err)
	}
	if _, err := st.Save(ctx, storage.Record{"id": "forever"}); err != nil {
		t.Fatalf("Save(forever) error = %v", err)
	}
	for _, id := range []string{"short", "forever"} {
		if got, err := st.Load(ctx, id); err != nil || got == nil {
			t.Fatalf("Load(%s) = %v, %v", id, got, err)
		}
	}

	time.Sleep(150 * time.Millisecond)

	got, err := st.Load(ctx, "short")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("Load() after expiry = %v, want nil", got)
	}
	if ok, _ := st.Exists(ctx, "short"); ok {
		t.Error("Exists() after expiry = true")
	}
	if got, _ := st.Load(ctx, "forever"); got == nil {
		t.Error("record without ttl should still load")
	}
}

func TestExpiresAt(t *testing.T) {
	b := newTestBackend(t, nil)

	mustSave(t, b, storage.Record{"id": "short", "_ttl": 30.0})
	mustSave(t, b, storage.Record{"id": "forever"})

	at, ok := b.ExpiresAt("short")
	if !ok {
		t.Fatal("ExpiresAt(short) reported no expiry")
	}
	if left := time.Until(at); left <= 0 || left > 30*time.Second {
		t.Errorf("ExpiresAt(short) is %v away, want within 30s", left)
	}
	if _, ok := b.ExpiresAt("forever"); ok {
		t.Error("ExpiresAt(forever) reported an expiry")
	}
	if _, ok := b.ExpiresAt("missing"); ok {
		t.Error("ExpiresAt(missing) reported an expiry")
	}
}

func ids(recs []storage.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID()
	}
	return out
}
