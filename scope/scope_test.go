package scope

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type user struct {
	ID   string
	Name string
}

// N concurrent Gets for one key invoke the producer exactly once and all
// receive the same value.
func TestDedupConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	producer := func(context.Context) (user, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return user{ID: "u1", Name: "Ada"}, nil
	}

	const n = 10
	results := make([]user, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Get(ctx, s, "current-user", producer)
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond) // let the rest join the flight
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("producer calls = %d, want 1", got)
	}
	want := user{ID: "u1", Name: "Ada"}
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != want {
			t.Fatalf("caller %d: got=(%v, %v), want (%v, nil)", i, results[i], errs[i], want)
		}
	}
}

// A settled value stays cached for the remainder of the request.
func TestSettledValueCached(t *testing.T) {
	s := New()
	ctx := context.Background()

	calls := 0
	producer := func(context.Context) (user, error) {
		calls++
		return user{ID: "u1"}, nil
	}

	for i := 0; i < 3; i++ {
		if v, err := Get(ctx, s, "current-user", producer); err != nil || v.ID != "u1" {
			t.Fatalf("Get #%d: got=(%v, %v)", i, v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("producer calls = %d, want 1", calls)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

// All concurrent waiters share the same rejection; errors are not cached, so
// a later call retries.
func TestSharedRejectionThenRetry(t *testing.T) {
	s := New()
	ctx := context.Background()

	boom := errors.New("db down")
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	failing := func(context.Context) (user, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return user{}, boom
	}

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Get(ctx, s, "k", failing)
		}(i)
	}
	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Fatalf("caller %d: err = %v, want shared rejection", i, err)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("failures must not settle, Len=%d", s.Len())
	}

	// Retry succeeds and settles.
	if v, err := Get(ctx, s, "k", func(context.Context) (user, error) {
		return user{ID: "ok"}, nil
	}); err != nil || v.ID != "ok" {
		t.Fatalf("retry: got=(%v, %v)", v, err)
	}
	if s.Len() != 1 {
		t.Fatalf("successful retry should settle, Len=%d", s.Len())
	}
}

// Different keys do not share flights or results.
func TestKeysAreIndependent(t *testing.T) {
	s := New()
	ctx := context.Background()

	va, err := Get(ctx, s, "a", func(context.Context) (string, error) { return "va", nil })
	if err != nil || va != "va" {
		t.Fatalf("a: got=(%q, %v)", va, err)
	}
	vb, err := Get(ctx, s, "b", func(context.Context) (int, error) { return 7, nil })
	if err != nil || vb != 7 {
		t.Fatalf("b: got=(%d, %v)", vb, err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
}

func TestConflictingTypesForKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := Get(ctx, s, "k", func(context.Context) (string, error) { return "v", nil }); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if _, err := Get(ctx, s, "k", func(context.Context) (int, error) { return 0, nil }); err == nil {
		t.Fatalf("expected type-conflict error")
	}
}

func TestNilProducer(t *testing.T) {
	if _, err := Get[string](context.Background(), New(), "k", nil); !errors.Is(err, ErrNilProducer) {
		t.Fatalf("expected ErrNilProducer, got %v", err)
	}
}

func TestScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s1, s2 := New(), New()
	if s1.ID() == s2.ID() {
		t.Fatalf("scope ids should differ")
	}

	calls := 0
	producer := func(context.Context) (string, error) {
		calls++
		return "v", nil
	}
	if _, err := Get(ctx, s1, "k", producer); err != nil {
		t.Fatalf("s1 Get: %v", err)
	}
	if _, err := Get(ctx, s2, "k", producer); err != nil {
		t.Fatalf("s2 Get: %v", err)
	}
	if calls != 2 {
		t.Fatalf("producer calls = %d, want 2 (no sharing across scopes)", calls)
	}
}
