// Package cache provides the thread-safe TTL cache BaseStorage uses for
// load results.
//
// Entries expire TTL after they are set. Expired entries are dropped
// lazily on Get and in bulk by a background cleanup goroutine. When MaxSize
// is reached the entry closest to expiry is evicted.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a TTL cache.
type Config struct {
	// TTL is how long an entry stays valid. Must be positive.
	TTL time.Duration

	// MaxSize bounds the number of entries. Default: 10,000
	MaxSize int

	// CleanupInterval is how often expired entries are swept.
	// Default: TTL, capped at one minute.
	CleanupInterval time.Duration
}

// Statistics are cumulative cache counters.
type Statistics struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Evictions int64 `json:"evictions"`
	Size      int64 `json:"size"`
}

// HitRatio returns hits / (hits + misses), or 0 without lookups.
func (s Statistics) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a generic cache with per-entry expiry.
type TTL[V any] struct {
	config  Config
	entries map[string]*entry[V]
	mu      sync.RWMutex

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a TTL cache and starts its cleanup goroutine. Close stops it.
func New[V any](cfg Config) *TTL[V] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = cfg.TTL
		if cfg.CleanupInterval <= 0 || cfg.CleanupInterval > time.Minute {
			cfg.CleanupInterval = time.Minute
		}
	}

	c := &TTL[V]{
		config:  cfg,
		entries: make(map[string]*entry[V]),
		done:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.cleanupLoop()

	return c
}

// Get returns the value for key if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	if !time.Now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, still := c.entries[key]; still && !time.Now().Before(cur.expiresAt) {
			delete(c.entries, key)
			c.evictions.Add(1)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key for the configured TTL.
func (c *TTL[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.config.TTL)
}

// SetWithTTL stores value under key for ttl, capped at the configured TTL.
// A non-positive ttl drops any entry under key instead.
func (c *TTL[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl > c.config.TTL {
		ttl = c.config.TTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxSize {
		c.evictSoonestLocked()
	}
	c.entries[key] = &entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	c.sets.Add(1)
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry[V])
	c.mu.Unlock()
}

// Size returns the number of entries, including not-yet-swept expired ones.
func (c *TTL[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *TTL[V]) Stats() Statistics {
	return Statistics{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Evictions: c.evictions.Load(),
		Size:      int64(c.Size()),
	}
}

// Close stops the cleanup goroutine. It is idempotent.
func (c *TTL[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
}

// evictSoonestLocked drops the entry closest to expiry.
// Caller must hold the write lock.
func (c *TTL[V]) evictSoonestLocked() {
	var (
		victim  string
		soonest time.Time
		found   bool
	)
	for key, e := range c.entries {
		if !found || e.expiresAt.Before(soonest) {
			victim, soonest, found = key, e.expiresAt, true
		}
	}
	if found {
		delete(c.entries, victim)
		c.evictions.Add(1)
	}
}

func (c *TTL[V]) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *TTL[V]) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			c.evictions.Add(1)
		}
	}
}
