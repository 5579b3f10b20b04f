// Package watch reports external changes under a directory tree.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a burst of events is reported.
const DefaultDebounce = 100 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	// Root is the directory to watch, recursively.
	Root string

	// Debounce is the quiet period before OnChange fires. Default: 100ms
	Debounce time.Duration

	// Ignore reports paths whose events are dropped, such as temp files.
	Ignore func(path string) bool
}

// Watcher watches a directory tree and reports the paths touched by each
// burst of file events. New subdirectories are added as they appear.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	config   Config
	debounce *Debouncer

	mu      sync.Mutex
	running bool
	pending map[string]struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a watcher. Call Start to begin delivering events.
func New(cfg Config, logger *slog.Logger) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("watch root is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:  w,
		logger:   logger,
		config:   cfg,
		debounce: NewDebouncer(cfg.Debounce),
		pending:  make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start adds the tree to the watcher and processes events in a goroutine
// until Stop is called. onChange receives the sorted, distinct paths of
// each burst.
func (w *Watcher) Start(onChange func(paths []string)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.addTree(w.config.Root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.config.Root, err)
	}
	w.running = true

	go w.loop(onChange)
	w.logger.Debug("watching for external changes", "root", w.config.Root)
	return nil
}

// Stop ends event processing and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.debounce.Stop()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Run is Start followed by waiting for ctx, then Stop.
func (w *Watcher) Run(ctx context.Context, onChange func(paths []string)) error {
	if err := w.Start(onChange); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

func (w *Watcher) loop(onChange func([]string)) {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if w.config.Ignore != nil && w.config.Ignore(event.Name) {
				continue
			}

			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}

			w.mu.Lock()
			w.pending[event.Name] = struct{}{}
			w.mu.Unlock()
			w.debounce.Trigger(func() {
				if paths := w.drain(); len(paths) > 0 {
					onChange(paths)
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// drain returns and clears the pending paths.
func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	clear(w.pending)
	sort.Strings(paths)
	return paths
}

// addTree watches dir and every subdirectory, skipping hidden ones.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Debouncer collapses rapid triggers into one callback after a quiet period.
type Debouncer struct {
	interval time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger (re)arms the timer; only the latest callback runs.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		cb := d.callback
		stopped := d.stopped
		d.mu.Unlock()

		if cb != nil && !stopped {
			cb()
		}
	})
}

// Stop cancels any pending callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
