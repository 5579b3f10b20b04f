package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/internal/fsutil"
	"mercator-hq/unistore/pkg/storage/internal/scheduler"
	"mercator-hq/unistore/pkg/storage/internal/watch"
)

// Maintenance job names and worker error sources.
const (
	jobIndexFlush  = "index_flush"
	jobRetention   = "retention_cleanup"
	sourceMetadata = "metadata"
	sourceWatcher  = "watcher"
)

// maxReconcile is the burst size above which the watcher rebuilds the
// whole index instead of reconciling path by path.
const maxReconcile = 256

// startWorkers schedules the index flush and retention jobs and starts the
// change watcher. Caller must hold b.mu.
func (b *Backend) startWorkers() error {
	sched := scheduler.New(b.logger)

	if b.index != nil {
		err := sched.Add(scheduler.Job{
			Name:  jobIndexFlush,
			Every: seconds(b.cfg.IndexSaveIntervalSeconds),
			Run: func(ctx context.Context) error {
				err := b.index.save(false)
				b.setWorkerError(jobIndexFlush, err)
				return err
			},
		})
		if err != nil {
			return err
		}
	}

	if b.cfg.RetentionDays > 0 {
		err := sched.Add(scheduler.Job{
			Name:  jobRetention,
			Every: seconds(b.cfg.CleanupIntervalSeconds),
			Run: func(ctx context.Context) error {
				cutoff := time.Now().UTC().AddDate(0, 0, -b.cfg.RetentionDays)
				_, err := b.cleanup(ctx, cutoff)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				b.setWorkerError(jobRetention, err)
				return err
			},
		})
		if err != nil {
			return err
		}
	}

	if b.cfg.WatchChanges {
		w, err := watch.New(watch.Config{Root: b.cfg.BasePath, Ignore: ignoreWatchPath}, b.logger)
		if err != nil {
			return err
		}
		if err := w.Start(b.reconcile); err != nil {
			_ = w.Stop()
			return err
		}
		b.watcher = w
	}

	sched.Start()
	b.sched = sched
	return nil
}

// ignoreWatchPath drops events for files the backend manages itself.
func ignoreWatchPath(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, fsutil.TempSuffix) ||
		isBackupPath(name)
}

// reconcile brings the index in line with externally changed paths.
func (b *Backend) reconcile(paths []string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if len(paths) > maxReconcile {
		n, err := b.rebuildIndex(ctx)
		b.setWorkerError(sourceWatcher, err)
		if err != nil {
			b.logger.Warn("index rebuild after external changes failed", "error", err)
			return
		}
		b.logger.Info("index rebuilt after external changes", "entries", n)
		return
	}

	for _, path := range paths {
		if err := b.reconcilePath(ctx, path); err != nil {
			b.logger.Warn("failed to reconcile external change", "path", path, "error", err)
			b.setWorkerError(sourceWatcher, err)
			return
		}
	}
	b.setWorkerError(sourceWatcher, nil)
}

func (b *Backend) reconcilePath(ctx context.Context, path string) error {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, b.suffix) {
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

	release, err := b.lock(ctx, "reconcile", id)
	if err != nil {
		return err
	}
	defer release()

	rec, size, err := b.read(rel)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if e, ok := b.index.get(id); ok && e.Path == rel {
			b.index.remove(id)
		}
		return nil
	case err != nil:
		return err
	}

	if e, ok := b.index.get(id); ok && e.Path != rel {
		// The same id now exists in two places; keep the newer file.
		if newerThan(b.abs(e.Path), path) {
			return nil
		}
	}
	b.index.put(id, newIndexEntry(rel, rec, size))
	return nil
}

func newerThan(a, b string) bool {
	ia, errA := os.Stat(a)
	ib, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return errB != nil
	}
	return ia.ModTime().After(ib.ModTime())
}
