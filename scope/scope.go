// Package scope provides a cache whose lifetime is exactly one inbound
// request. Its job is dedup: five components reading "current user" while one
// page renders trigger one fetch, and all five see the same value or the same
// error.
//
// A Scope is created at the start of request handling and simply dropped at
// the end. Nothing persists across requests, and discarding a scope does not
// cancel producer calls still in flight; those complete and may populate the
// persistent cache layer for future requests.
package scope

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var ErrNilProducer = errors.New("scope: nil producer")

// Scope deduplicates fetches for one request. Safe for concurrent use by the
// goroutines serving that request.
//
// Successful results stay cached for the remainder of the request; failures
// are never cached, so a later call for the same key retries the producer.
type Scope struct {
	id string

	mu      sync.Mutex
	settled map[string]any

	flights singleflight.Group
}

func New() *Scope {
	return &Scope{
		id:      uuid.NewString(),
		settled: make(map[string]any),
	}
}

// ID returns the opaque request identifier, useful for log correlation.
func (s *Scope) ID() string { return s.id }

// Len reports how many keys have settled successfully in this scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.settled)
}

// Get returns the scope-cached value for key, or runs producer and caches the
// result. Concurrent callers for the same key share one in-flight producer
// invocation: at most one fetch per key per request. If the shared producer
// call fails, every waiter receives that same error.
//
// The value type must be consistent per key within a scope.
func Get[V any](ctx context.Context, s *Scope, key string, producer func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if producer == nil {
		return zero, ErrNilProducer
	}

	s.mu.Lock()
	if v, ok := s.settled[key]; ok {
		s.mu.Unlock()
		return assert[V](key, v)
	}
	s.mu.Unlock()

	res, err, _ := s.flights.Do(key, func() (any, error) {
		// Re-check under the flight: a previous flight may have settled
		// between the caller's fast-path check and joining this one.
		s.mu.Lock()
		if v, ok := s.settled[key]; ok {
			s.mu.Unlock()
			return v, nil
		}
		s.mu.Unlock()

		v, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.settled[key] = v
		s.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return assert[V](key, res)
}

func assert[V any](key string, v any) (V, error) {
	vv, ok := v.(V)
	if !ok {
		var zero V
		return zero, fmt.Errorf("scope: conflicting value types for key %q (have %T)", key, v)
	}
	return vv, nil
}
