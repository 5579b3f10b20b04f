package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileProvider reads secrets from a directory holding one file per secret,
// as mounted by Kubernetes. Files must be mode 0600 or 0400. Values are
// trimmed of surrounding whitespace and cached until Refresh; with watching
// enabled any write or create in the directory triggers a refresh.
type FileProvider struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	values  map[string]string
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileProvider opens dir. When watch is true Close must be called.
func NewFileProvider(dir string, watch bool, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets path is not a directory: %s", dir)
	}

	p := &FileProvider{
		dir:    dir,
		logger: logger.With("component", "secrets.file"),
		values: make(map[string]string),
		done:   make(chan struct{}),
	}
	if !watch {
		return p, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch secrets directory: %w", err)
	}
	p.watcher = w
	p.wg.Add(1)
	go p.watchLoop()
	p.logger.Debug("watching secrets directory", "path", dir)
	return p, nil
}

// GetSecret reads <dir>/<name>.
func (p *FileProvider) GetSecret(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	value, ok := p.values[name]
	p.mu.RUnlock()
	if ok {
		return value, nil
	}

	path, err := p.path(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret file not found: %s", name)
		}
		return "", fmt.Errorf("failed to stat secret file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret path is not a regular file: %s", name)
	}
	if mode := info.Mode().Perm(); mode != 0o600 && mode != 0o400 {
		return "", fmt.Errorf("insecure permissions on %s: %o (expected 0600 or 0400)", path, mode)
	}

	// #nosec G304 - path is confined to dir above
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	value = strings.TrimSpace(string(data))

	p.mu.Lock()
	p.values[name] = value
	p.mu.Unlock()
	return value, nil
}

// Provider returns "file".
func (p *FileProvider) Provider() string {
	return "file"
}

// Supports reports whether a regular file called name exists.
func (p *FileProvider) Supports(name string) bool {
	path, err := p.path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Refresh forgets every cached value.
func (p *FileProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	p.values = make(map[string]string)
	p.mu.Unlock()
	return nil
}

// Close stops watching. It is a no-op for an unwatched provider.
func (p *FileProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	close(p.done)
	err := p.watcher.Close()
	p.wg.Wait()
	return err
}

// path joins name to dir and rejects anything escaping it.
func (p *FileProvider) path(name string) (string, error) {
	absBase, err := filepath.Abs(p.dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve secrets directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(p.dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve secret path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid secret name %q: outside secrets directory", name)
	}
	return absPath, nil
}

func (p *FileProvider) watchLoop() {
	defer p.wg.Done()
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			p.logger.Debug("secret file changed", "file", filepath.Base(event.Name), "op", event.Op.String())
			_ = p.Refresh(context.Background())
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("secrets watcher error", "error", err)
		case <-p.done:
			return
		}
	}
}
