package tagcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	c "github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/fallback"
	pr "github.com/unkn0wn-root/tagcache/provider"
)

const (
	defaultTTL            = 10 * time.Minute
	defaultPrimaryTimeout = 250 * time.Millisecond
)

type cache[V any] struct {
	ns             string
	codec          c.Codec[V]
	primary        pr.Provider
	fb             *fallback.Store
	reg            *Registry
	log            Logger
	hooks          Hooks
	enabled        bool
	defaultTTL     time.Duration
	primaryTimeout time.Duration

	// mu makes the store-write+tag and delete+untag pairs atomic units with
	// respect to each other. Primary I/O stays outside; cross-process races
	// are accepted eventual consistency.
	mu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("tagcache: namespace is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("tagcache: codec is required")
	}

	cc := &cache[V]{
		ns:      opts.Namespace,
		codec:   opts.Codec,
		primary: opts.Primary,
		reg:     NewRegistry(),
		enabled: !opts.Disabled,
	}

	// defaults
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cc.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)
	cc.primaryTimeout = coalesce[time.Duration](opts.PrimaryTimeout, defaultPrimaryTimeout)

	fbCfg := opts.Fallback
	userEvict := fbCfg.OnEvict
	fbCfg.OnEvict = func(storageKey string) {
		cc.reg.Untag(cc.userKey(storageKey))
		if userEvict != nil {
			userEvict(storageKey)
		}
	}
	userWarn := fbCfg.OnWarn
	fbCfg.OnWarn = func(size, capacity int) {
		cc.log.Warn("fallback store above warning threshold", Fields{
			"namespace": cc.ns, "size": size, "capacity": capacity,
		})
		cc.hooks.FallbackPressure(size, capacity)
		if userWarn != nil {
			userWarn(size, capacity)
		}
	}
	fb, err := fallback.New(fbCfg)
	if err != nil {
		return nil, fmt.Errorf("tagcache: fallback store: %w", err)
	}
	cc.fb = fb

	return cc, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.fb.Close(ctx)
		if c.primary != nil {
			if err := c.primary.Close(ctx); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if !c.enabled {
		return zero, false, nil
	}
	sk := c.storageKey(key)
	raw, ok, _ := c.lookup(ctx, sk)
	if !ok {
		return zero, false, nil
	}
	v, err := c.codec.Decode(raw)
	if err != nil {
		c.selfHeal(ctx, key, sk)
		return zero, false, nil
	}
	return v, true, nil
}

func (c *cache[V]) GetOrCompute(ctx context.Context, key string, tags []string, ttl time.Duration, producer ProducerFunc[V]) (V, error) {
	var zero V
	if producer == nil {
		return zero, ErrNilProducer
	}
	if !c.enabled {
		return producer(ctx)
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	sk := c.storageKey(key)
	raw, ok, degraded := c.lookup(ctx, sk)
	if ok {
		v, err := c.codec.Decode(raw)
		if err == nil {
			return v, nil
		}
		c.selfHeal(ctx, key, sk)
	}

	// Miss: compute. A failed fetch is never stored and never tagged.
	v, err := producer(ctx)
	if err != nil {
		return zero, err
	}

	payload, err := c.codec.Encode(v)
	if err != nil {
		// The value is correct; only caching is skipped.
		c.log.Warn("encode failed; returning uncached value", Fields{"key": key, "err": err})
		return v, nil
	}
	c.store(ctx, key, sk, payload, tags, ttl, degraded)
	return v, nil
}

func (c *cache[V]) Set(ctx context.Context, key string, value V, tags []string, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	payload, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	c.store(ctx, key, c.storageKey(key), payload, tags, ttl, false)
	return nil
}

func (c *cache[V]) Invalidate(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	sk := c.storageKey(key)

	c.mu.Lock()
	_ = c.fb.Del(ctx, sk)
	c.reg.Untag(key)
	c.mu.Unlock()

	if c.primary != nil {
		if err := c.primaryDel(ctx, sk); err != nil {
			c.hooks.InvalidateDeleteError(key, err)
			return fmt.Errorf("tagcache: invalidate %q: %w", key, err)
		}
	}
	c.log.Debug("invalidated key", Fields{"key": key})
	return nil
}

func (c *cache[V]) InvalidateTag(ctx context.Context, tag string) error {
	if !c.enabled {
		return nil
	}

	c.mu.Lock()
	keys := c.reg.Invalidate(tag)
	for _, k := range keys {
		_ = c.fb.Del(ctx, c.storageKey(k))
		c.reg.Untag(k)
	}
	c.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}

	var failed []string
	var errs []error
	if c.primary != nil {
		for _, k := range keys {
			if err := c.primaryDel(ctx, c.storageKey(k)); err != nil {
				c.hooks.InvalidateDeleteError(k, err)
				failed = append(failed, k)
				errs = append(errs, err)
			}
		}
	}
	c.log.Debug("invalidated tag", Fields{"tag": tag, "keys": len(keys), "failed": len(failed)})
	if len(failed) > 0 {
		return &TagInvalidateError{Tag: tag, Keys: failed, Errs: errs}
	}
	return nil
}

// lookup consults the primary first (bounded by primaryTimeout), then the
// fallback. degraded reports that the primary errored, so the rest of the
// operation should not touch it again.
func (c *cache[V]) lookup(ctx context.Context, sk string) (raw []byte, ok bool, degraded bool) {
	if c.primary != nil {
		pctx, cancel := context.WithTimeout(ctx, c.primaryTimeout)
		raw, ok, err := c.primary.Get(pctx, sk)
		cancel()
		if err != nil {
			c.degrade("get", sk, err)
			degraded = true
		} else if ok {
			return raw, true, false
		}
	}
	raw, ok, _ = c.fb.Get(ctx, sk)
	return raw, ok, degraded
}

func (c *cache[V]) store(ctx context.Context, key, sk string, payload []byte, tags []string, ttl time.Duration, degraded bool) {
	stored := false
	if c.primary != nil && !degraded {
		pctx, cancel := context.WithTimeout(ctx, c.primaryTimeout)
		err := c.primary.Set(pctx, sk, payload, ttl)
		cancel()
		if err != nil {
			c.degrade("set", sk, err)
		} else {
			stored = true
		}
	}

	c.mu.Lock()
	if !stored {
		_ = c.fb.Set(ctx, sk, payload, ttl)
	}
	c.reg.Tag(key, tags...)
	c.mu.Unlock()
}

func (c *cache[V]) selfHeal(ctx context.Context, key, sk string) {
	c.mu.Lock()
	_ = c.fb.Del(ctx, sk)
	c.reg.Untag(key)
	c.mu.Unlock()
	if c.primary != nil {
		_ = c.primaryDel(ctx, sk)
	}
	c.hooks.SelfHeal(sk, "decode")
	c.log.Debug("deleted undecodable entry", Fields{"key": key})
}

func (c *cache[V]) primaryDel(ctx context.Context, sk string) error {
	pctx, cancel := context.WithTimeout(ctx, c.primaryTimeout)
	defer cancel()
	return c.primary.Del(pctx, sk)
}

func (c *cache[V]) degrade(op, sk string, err error) {
	c.log.Warn("primary store unavailable; using fallback", Fields{"op": op, "key": sk, "err": err})
	c.hooks.PrimaryDegraded(op, sk, err)
}

func (c *cache[V]) storageKey(userKey string) string {
	// isolate by namespace
	return "entry:" + c.ns + ":" + userKey
}

func (c *cache[V]) userKey(storageKey string) string {
	return strings.TrimPrefix(storageKey, "entry:"+c.ns+":")
}
