package file

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var errLockTimeout = errors.New("lock wait exceeded lock_timeout_seconds")

// lockTable hands out exclusive locks keyed by string. Entries are
// reference counted and dropped when nobody holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

// acquire blocks until key is locked, timeout passes or ctx is done. The
// returned func releases the lock.
func (t *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return func() { t.release(key, l) }, nil
	case <-timer.C:
		t.unref(key, l)
		return nil, errLockTimeout
	case <-ctx.Done():
		t.unref(key, l)
		return nil, ctx.Err()
	}
}

// acquireAll locks every key in sorted order so concurrent callers cannot
// deadlock. On failure nothing stays locked.
func (t *lockTable) acquireAll(ctx context.Context, keys []string, timeout time.Duration) (func(), string, error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	prev := ""
	for i, key := range sorted {
		if i > 0 && key == prev {
			continue
		}
		prev = key
		release, err := t.acquire(ctx, key, timeout)
		if err != nil {
			releaseAll()
			return nil, key, err
		}
		releases = append(releases, release)
	}
	return releaseAll, "", nil
}

func (t *lockTable) release(key string, l *keyLock) {
	<-l.sem
	t.unref(key, l)
}

func (t *lockTable) unref(key string, l *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

// size returns the number of live lock entries.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
