package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/internal/scheduler"
)

// Maintenance job names.
const (
	jobVacuum = "vacuum"
	jobBackup = "backup"
)

// backupExt is the extension of backup files.
const backupExt = ".db"

// backupStamp orders backup names chronologically.
const backupStamp = "20060102T150405.000000000Z"

// newScheduler registers the vacuum and backup jobs. It is started by Connect.
func (b *Backend) newScheduler() (*scheduler.Scheduler, error) {
	sched := scheduler.New(b.logger)

	if b.cfg.VacuumIntervalSeconds > 0 {
		err := sched.Add(scheduler.Job{
			Name:  jobVacuum,
			Every: seconds(b.cfg.VacuumIntervalSeconds),
			Run: func(ctx context.Context) error {
				err := b.Vacuum(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				b.setWorkerError(jobVacuum, err)
				return err
			},
		})
		if err != nil {
			return nil, err
		}
	}

	if b.cfg.EnableBackups {
		err := sched.Add(scheduler.Job{
			Name:  jobBackup,
			Every: seconds(b.cfg.BackupIntervalSeconds),
			Run: func(ctx context.Context) error {
				_, err := b.Backup(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				b.setWorkerError(jobBackup, err)
				return err
			},
		})
		if err != nil {
			return nil, err
		}
	}

	return sched, nil
}

// Vacuum rebuilds the database file, reclaiming free pages.
func (b *Backend) Vacuum(ctx context.Context) error {
	conn, err := b.conn(ctx, jobVacuum)
	if err != nil {
		return err
	}
	defer conn.Close()

	start := time.Now()
	if _, err := conn.ExecContext(ctx, "VACUUM"); err != nil {
		return b.fail(jobVacuum, "", err)
	}

	b.stateMu.Lock()
	b.lastVacuum = time.Now().UTC()
	b.stateMu.Unlock()

	b.logger.Debug("vacuum completed", "duration", time.Since(start))
	return nil
}

// Backup writes a consistent copy of the database with VACUUM INTO and
// prunes backups beyond the retention count. It returns the new file's path.
func (b *Backend) Backup(ctx context.Context) (string, error) {
	dir := b.cfg.backupDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", storage.NewStorageError(BackendType, jobBackup, err)
	}

	conn, err := b.conn(ctx, jobBackup)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	name := b.cfg.backupPrefix() + time.Now().UTC().Format(backupStamp) + backupExt
	path := filepath.Join(dir, name)

	if _, err := conn.ExecContext(ctx, "VACUUM INTO "+quoteLiteral(path)); err != nil {
		return "", b.fail(jobBackup, "", err)
	}

	b.stateMu.Lock()
	b.lastBackup = path
	b.stateMu.Unlock()

	removed, err := b.pruneBackups(dir)
	if err != nil {
		return path, storage.NewStorageError(BackendType, jobBackup, fmt.Errorf("prune backups: %w", err))
	}
	b.logger.Info("backup written", "path", path, "pruned", removed)
	return path, nil
}

// Backups lists this database's backup files, oldest first.
func (b *Backend) Backups() ([]string, error) {
	return listBackups(b.cfg.backupDir(), b.cfg.backupPrefix())
}

// pruneBackups removes the oldest backups beyond BackupRetention.
func (b *Backend) pruneBackups(dir string) (int, error) {
	retention := b.cfg.BackupRetention
	if retention < 1 {
		retention = 1
	}
	paths, err := listBackups(dir, b.cfg.backupPrefix())
	if err != nil {
		return 0, err
	}
	removed := 0
	for len(paths)-removed > retention {
		if err := os.Remove(paths[removed]); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func listBackups(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, backupExt) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

// quoteLiteral renders s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
