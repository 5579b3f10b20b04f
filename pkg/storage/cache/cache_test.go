package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTTL_GetSet(t *testing.T) {
	c := New[string](Config{TTL: time.Minute})
	defer c.Close()

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}

	c.Set("a", "alpha")
	v, ok := c.Get("a")
	if !ok || v != "alpha" {
		t.Errorf("Get(a) = %q, %v; want alpha, true", v, ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Sets != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.HitRatio() != 0.5 {
		t.Errorf("HitRatio() = %v, want 0.5", stats.HitRatio())
	}
}

func TestTTL_Expiry(t *testing.T) {
	c := New[int](Config{TTL: 50 * time.Millisecond, CleanupInterval: time.Hour})
	defer c.Close()

	c.Set("k", 1)
	time.Sleep(80 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("expected entry to expire")
	}
	if c.Size() != 0 {
		t.Errorf("expected expired entry to be dropped on read, size=%d", c.Size())
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", c.Stats().Evictions)
	}
}

func TestTTL_SetWithTTL(t *testing.T) {
	c := New[int](Config{TTL: time.Hour, CleanupInterval: time.Hour})
	defer c.Close()

	c.SetWithTTL("short", 1, 30*time.Millisecond)
	c.SetWithTTL("long", 2, 48*time.Hour)
	c.Set("gone", 3)
	c.SetWithTTL("gone", 3, 0)

	if _, ok := c.Get("gone"); ok {
		t.Error("non-positive ttl should drop the entry")
	}
	if _, ok := c.Get("short"); !ok {
		t.Fatal("expected short entry before its ttl")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("short"); ok {
		t.Error("expected short entry to expire on its own ttl")
	}
	if v, ok := c.Get("long"); !ok || v != 2 {
		t.Errorf("Get(long) = %d, %v; want 2, true", v, ok)
	}
}

func TestTTL_BackgroundSweep(t *testing.T) {
	c := New[int](Config{TTL: 20 * time.Millisecond, CleanupInterval: 10 * time.Millisecond})
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	deadline := time.Now().Add(time.Second)
	for c.Size() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.Size() != 0 {
		t.Errorf("expected sweep to empty cache, size=%d", c.Size())
	}
}

func TestTTL_MaxSize(t *testing.T) {
	c := New[int](Config{TTL: time.Minute, MaxSize: 3})
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	if c.Size() != 3 {
		t.Errorf("expected size 3, got %d", c.Size())
	}
	if _, ok := c.Get("k4"); !ok {
		t.Error("expected most recent entry to survive eviction")
	}
}

func TestTTL_DeleteClear(t *testing.T) {
	c := New[int](Config{TTL: time.Minute})
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be deleted")
	}
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("expected empty cache after Clear, size=%d", c.Size())
	}
}

func TestTTL_Concurrent(t *testing.T) {
	c := New[int](Config{TTL: time.Minute})
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n%5)
			c.Set(key, n)
			c.Get(key)
			c.Delete(key)
		}(i)
	}
	wg.Wait()
	c.Close() // idempotent with the deferred Close
}
