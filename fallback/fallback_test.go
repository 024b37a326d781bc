package fallback

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = -1 // tests drive Sweep directly
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func set(t *testing.T, s *Store, key, val string, ttl time.Duration) {
	t.Helper()
	if err := s.Set(context.Background(), key, []byte(val), ttl); err != nil {
		t.Fatalf("Set %s: %v", key, err)
	}
}

func get(t *testing.T, s *Store, key string) (string, bool) {
	t.Helper()
	b, ok, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get %s: %v", key, err)
	}
	return string(b), ok
}

func TestGetSetDel(t *testing.T) {
	s := newTestStore(t, Config{Capacity: 8})

	if _, ok := get(t, s, "k"); ok {
		t.Fatalf("expected miss on empty store")
	}
	set(t, s, "k", "v", time.Minute)
	if v, ok := get(t, s, "k"); !ok || v != "v" {
		t.Fatalf("Get = (%q, %v), want (v, true)", v, ok)
	}
	if err := s.Del(context.Background(), "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok := get(t, s, "k"); ok {
		t.Fatalf("expected miss after delete")
	}
	// deleting again is a no-op
	if err := s.Del(context.Background(), "k"); err != nil {
		t.Fatalf("Del (again): %v", err)
	}
}

// Inserting capacity+1 distinct keys evicts exactly the least-recently-used
// one; a Get before the next insert protects a key.
func TestLRUEvictionOrder(t *testing.T) {
	var evicted []string
	s := newTestStore(t, Config{
		Capacity: 3,
		WarnAt:   -1,
		OnEvict:  func(k string) { evicted = append(evicted, k) },
	})

	set(t, s, "a", "1", time.Minute)
	set(t, s, "b", "2", time.Minute)
	set(t, s, "c", "3", time.Minute)

	// Touch "a" so "b" becomes the LRU victim.
	if _, ok := get(t, s, "a"); !ok {
		t.Fatalf("expected hit on a")
	}

	set(t, s, "d", "4", time.Minute)

	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("evicted = %v, want [b]", evicted)
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := get(t, s, k); !ok {
			t.Fatalf("key %q should have survived", k)
		}
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
}

// Lazy expiry: an expired-but-not-swept entry reads as a miss and is deleted
// immediately, so correctness never depends on sweep timing.
func TestLazyExpiry(t *testing.T) {
	clk := newFakeClock()
	var evicted []string
	s := newTestStore(t, Config{
		Capacity: 8,
		WarnAt:   -1,
		Now:      clk.Now,
		OnEvict:  func(k string) { evicted = append(evicted, k) },
	})

	set(t, s, "k", "v", time.Minute)
	if _, ok := get(t, s, "k"); !ok {
		t.Fatalf("expected hit before TTL")
	}

	clk.Advance(time.Minute + time.Second)
	if _, ok := get(t, s, "k"); ok {
		t.Fatalf("expected miss strictly after TTL")
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry should be deleted on read, Len=%d", s.Len())
	}
	if len(evicted) != 1 || evicted[0] != "k" {
		t.Fatalf("evicted = %v, want [k]", evicted)
	}
}

func TestSweepPurgesExpired(t *testing.T) {
	clk := newFakeClock()
	s := newTestStore(t, Config{Capacity: 8, WarnAt: -1, Now: clk.Now})

	set(t, s, "short", "1", time.Minute)
	set(t, s, "long", "2", time.Hour)
	set(t, s, "forever", "3", 0) // no expiry

	clk.Advance(30 * time.Minute)
	if removed := s.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if s.Len() != 2 {
		t.Fatalf("Len after sweep = %d, want 2", s.Len())
	}
	if _, ok := get(t, s, "long"); !ok {
		t.Fatalf("unexpired entry should survive the sweep")
	}
	if _, ok := get(t, s, "forever"); !ok {
		t.Fatalf("no-expiry entry should survive the sweep")
	}
}

// The warning fires once per upward crossing of the threshold, not on every
// insert, and re-arms after the count drops below it.
func TestWarnOneShotPerCrossing(t *testing.T) {
	warns := 0
	s := newTestStore(t, Config{
		Capacity: 4,
		WarnAt:   0.5, // threshold: 2 entries
		OnWarn:   func(size, capacity int) { warns++ },
	})

	set(t, s, "a", "1", time.Minute)
	if warns != 0 {
		t.Fatalf("below threshold, warns=%d", warns)
	}
	set(t, s, "b", "2", time.Minute)
	set(t, s, "c", "3", time.Minute)
	if warns != 1 {
		t.Fatalf("one crossing should warn once, warns=%d", warns)
	}

	// Drop below, then cross again.
	_ = s.Del(context.Background(), "a")
	_ = s.Del(context.Background(), "b")
	if warns != 1 {
		t.Fatalf("dropping below must not warn, warns=%d", warns)
	}
	set(t, s, "d", "4", time.Minute)
	if warns != 2 {
		t.Fatalf("second crossing should warn again, warns=%d", warns)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Capacity: -1}); err == nil {
		t.Fatalf("negative capacity should error")
	}
}

// Set on an existing key updates recency and value without growing the store.
func TestSetUpdatesExisting(t *testing.T) {
	s := newTestStore(t, Config{Capacity: 2, WarnAt: -1})

	set(t, s, "a", "1", time.Minute)
	set(t, s, "b", "2", time.Minute)
	set(t, s, "a", "1b", time.Minute) // refresh: "b" is now LRU
	set(t, s, "c", "3", time.Minute)  // evicts "b"

	if v, ok := get(t, s, "a"); !ok || v != "1b" {
		t.Fatalf("a = (%q, %v), want (1b, true)", v, ok)
	}
	if _, ok := get(t, s, "b"); ok {
		t.Fatalf("b should have been evicted")
	}
}
