// Package fallback provides a bounded in-process byte store with per-entry
// TTL, LRU eviction and a periodic sweep of expired entries. It implements
// provider.Provider, so a cache degrades to it transparently when the
// external primary store is unreachable.
package fallback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	pr "github.com/unkn0wn-root/tagcache/provider"
)

const (
	defaultCapacity = 4096
	defaultWarnAt   = 0.9
	defaultSweep    = time.Minute
)

// Config tunes the store. The zero value gives a 4096-entry store warning at
// 90% with a one-minute sweep.
type Config struct {
	// Capacity is the maximum entry count. Inserting a new key at capacity
	// evicts the least-recently-used entry first. 0 => 4096.
	Capacity int

	// WarnAt is the live-entry fraction of Capacity above which OnWarn fires,
	// once per upward crossing. 0 => 0.9; negative disables.
	WarnAt float64

	// SweepInterval is how often expired entries are purged in the
	// background. Lookups never depend on it: Get treats an expired entry as
	// a miss and deletes it immediately. 0 => 1m; negative disables.
	SweepInterval time.Duration

	// OnEvict is called with the key of every entry that leaves the store:
	// capacity eviction, expiry (lazy or swept) and explicit deletes. It runs
	// with the store lock held and must not call back into the store.
	OnEvict func(key string)

	// OnWarn is called when the live entry count crosses the WarnAt
	// threshold from below. Same locking caveat as OnEvict.
	OnWarn func(size, capacity int)

	// Now overrides the time source. Nil => time.Now.
	Now func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero => no expiry
}

// Store is a bounded LRU byte store. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[string, entry]
	now    func() time.Time
	onWarn func(size, capacity int)

	capacity int
	warnAt   int  // entry count threshold; 0 => disabled
	warned   bool // armed/disarmed per threshold crossing

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ pr.Provider = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = defaultCapacity
	}
	if capacity < 0 {
		return nil, errors.New("fallback: capacity must be positive")
	}

	warnFrac := cfg.WarnAt
	if warnFrac == 0 {
		warnFrac = defaultWarnAt
	}
	warnAt := 0
	if warnFrac > 0 {
		warnAt = int(float64(capacity) * warnFrac)
		if warnAt < 1 {
			warnAt = 1
		}
	}

	s := &Store{
		now:      time.Now,
		onWarn:   cfg.OnWarn,
		capacity: capacity,
		warnAt:   warnAt,
	}
	if cfg.Now != nil {
		s.now = cfg.Now
	}

	lru, err := simplelru.NewLRU[string, entry](capacity, func(k string, _ entry) {
		if cfg.OnEvict != nil {
			cfg.OnEvict(k)
		}
	})
	if err != nil {
		return nil, err
	}
	s.lru = lru

	sweep := cfg.SweepInterval
	if sweep == 0 {
		sweep = defaultSweep
	}
	if sweep > 0 {
		s.ticker = time.NewTicker(sweep)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.sweepLoop()
	}
	return s, nil
}

// Get returns the value for key, updating its recency. An expired entry is
// deleted immediately and reported as a miss, regardless of sweep timing.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if s.expired(e) {
		s.lru.Remove(key)
		s.updateWarn()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the given TTL, updating recency. A
// non-positive TTL stores the entry without expiry, matching the provider
// contract.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Add(key, entry{value: value, expiresAt: exp})
	s.updateWarn()
	return nil
}

// Del removes key. Unknown keys are a no-op.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Remove(key)
	s.updateWarn()
	return nil
}

// Len returns the live entry count, including entries that have expired but
// not yet been looked up or swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Sweep removes all expired entries now. The background loop calls this on
// its interval; tests call it directly.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, k := range s.lru.Keys() {
		if e, ok := s.lru.Peek(k); ok && s.expired(e) {
			s.lru.Remove(k)
			removed++
		}
	}
	if removed > 0 {
		s.updateWarn()
	}
	return removed
}

// Close stops the background sweep. Safe to call multiple times.
func (s *Store) Close(context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) expired(e entry) bool {
	return !e.expiresAt.IsZero() && s.now().After(e.expiresAt)
}

// updateWarn fires OnWarn once per upward crossing of the threshold and
// re-arms when the count drops back below it. Caller holds s.mu.
func (s *Store) updateWarn() {
	if s.warnAt <= 0 {
		return
	}
	size := s.lru.Len()
	switch {
	case size >= s.warnAt && !s.warned:
		s.warned = true
		if s.onWarn != nil {
			s.onWarn(size, s.capacity)
		}
	case size < s.warnAt && s.warned:
		s.warned = false
	}
}
