package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"mercator-hq/unistore/pkg/storage/internal/fsutil"
)

var backupSuffix = regexp.MustCompile(`\.backup[0-9]+$`)

// isBackupPath reports whether path names a rotated backup.
func isBackupPath(path string) bool {
	return backupSuffix.MatchString(path)
}

func backupPath(path string, n int) string {
	return fmt.Sprintf("%s.backup%d", path, n)
}

// rotateBackups shifts path.backupN-1 → path.backupN … path → path.backup1.
// The oldest version falls off the end. The current file is hard-linked
// into backup1 so the atomic rename that follows leaves it intact; file
// systems without hard links get a copy.
func rotateBackups(path string, max int) error {
	if !fsutil.Exists(path) {
		return nil
	}

	if err := os.Remove(backupPath(path, max)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("drop oldest backup: %w", err)
	}
	for i := max - 1; i >= 1; i-- {
		from := backupPath(path, i)
		if err := os.Rename(from, backupPath(path, i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("rotate backup %d: %w", i, err)
		}
	}

	first := backupPath(path, 1)
	if err := os.Link(path, first); err != nil {
		if err := fsutil.CopyFile(path, first); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}
	return nil
}

// removeBackups deletes every backup of path.
func removeBackups(path string, max int) {
	for i := 1; i <= max; i++ {
		_ = os.Remove(backupPath(path, i))
	}
}
