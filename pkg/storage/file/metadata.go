package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"mercator-hq/unistore/pkg/storage/internal/fsutil"
)

const metadataFileName = ".metadata.json"

// fileMetadata describes one stored file in its directory's sidecar.
type fileMetadata struct {
	Size      int64  `json:"size"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Checksum  string `json:"checksum"`
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// metadataLockKey cannot collide with a record id: ids reject control characters.
func metadataLockKey(dir string) string {
	return "\x00meta:" + dir
}

// updateMetadata sets (or with meta nil, removes) the sidecar entry for id
// in dir. The sidecar is advisory: failures are logged and retained for
// HealthCheck, never returned to the caller.
func (b *Backend) updateMetadata(ctx context.Context, dir, id string, meta *fileMetadata) {
	if !b.cfg.EnableMetadata {
		return
	}
	err := b.writeMetadata(ctx, dir, id, meta)
	if err != nil {
		b.logger.Warn("metadata sidecar update failed", "dir", dir, "id", id, "error", err)
	}
	b.setWorkerError(sourceMetadata, err)
}

func (b *Backend) writeMetadata(ctx context.Context, dir, id string, meta *fileMetadata) error {
	release, err := b.locks.acquire(ctx, metadataLockKey(dir), b.cfg.lockTimeout())
	if err != nil {
		return err
	}
	defer release()

	path := filepath.Join(dir, metadataFileName)
	entries, err := readMetadata(path)
	if err != nil {
		if entries == nil {
			return err
		}
		b.logger.Warn("replacing corrupt metadata sidecar", "path", path, "error", err)
	}

	if meta == nil {
		if _, ok := entries[id]; !ok {
			return nil
		}
		delete(entries, id)
	} else {
		entries[id] = *meta
	}

	if len(entries) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

func readMetadata(path string) (map[string]fileMetadata, error) {
	entries := make(map[string]fileMetadata)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return make(map[string]fileMetadata), fmt.Errorf("corrupt metadata %s: %w", path, err)
	}
	return entries, nil
}
