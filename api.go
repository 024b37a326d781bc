package tagcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/fallback"
	pr "github.com/unkn0wn-root/tagcache/provider"
)

// ProducerFunc fetches a value from the source of truth on a cache miss.
// It must be safe to invoke more than once: concurrent misses at the edge of
// request teardown may race past request-level dedup.
type ProducerFunc[V any] func(ctx context.Context) (V, error)

// Cache is the high-level tagged cache API. V is the caller's value type;
// serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Get looks up key without computing on miss.
	Get(ctx context.Context, key string) (v V, ok bool, err error)

	// GetOrCompute returns the cached value for key, or runs producer, stores
	// the result with the given tags and ttl, and returns it. A producer
	// failure propagates uncached. ttl == 0 means the cache default.
	GetOrCompute(ctx context.Context, key string, tags []string, ttl time.Duration, producer ProducerFunc[V]) (V, error)

	// Set writes value under key with the given tags, replacing any previous
	// tag association for that key.
	Set(ctx context.Context, key string, value V, tags []string, ttl time.Duration) error

	// Invalidate removes a single key and its tag bookkeeping.
	Invalidate(ctx context.Context, key string) error

	// InvalidateTag removes every key currently under tag. Once it returns,
	// no subsequent GetOrCompute can serve a value stored before the call.
	InvalidateTag(ctx context.Context, tag string) error
}

// Options tune the cache. Only Namespace and Codec are required; others have
// sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions, e.g. "projects"
	Codec     c.Codec[V]

	// Primary is the external KV provider (typically Redis). Optional; when
	// nil every operation uses the in-process fallback store only.
	Primary pr.Provider

	// PrimaryTimeout bounds each call to Primary. Exceeding it degrades the
	// operation to the fallback store. 0 => 250ms.
	PrimaryTimeout time.Duration

	// Fallback configures the bounded in-process store. Zero value => defaults.
	Fallback fallback.Config

	Logger     Logger        // if nil, NopLogger is used
	Hooks      Hooks         // if nil, NopHooks is used
	DefaultTTL time.Duration // 0 => 10m
	Disabled   bool          // a disabled cache always misses and never stores
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
