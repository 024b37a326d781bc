package tagcache

// Hooks are lightweight callbacks for high-signal events. Implementations
// MUST be cheap and non-blocking; the cache calls them on hot paths.
type Hooks interface {
	// A primary provider call failed and the operation degraded to the
	// fallback store. op is one of "get", "set", "del".
	PrimaryDegraded(op, storageKey string, err error)

	// A stored entry failed to decode and was deleted on read.
	SelfHeal(storageKey, reason string)

	// The fallback store crossed its warning threshold. Fired once per
	// upward crossing, not on every insert.
	FallbackPressure(size, capacity int)

	// A primary delete failed during invalidation; the key may reappear on
	// reads served by the primary until its TTL elapses.
	InvalidateDeleteError(key string, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) PrimaryDegraded(string, string, error) {}
func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) FallbackPressure(int, int)             {}
func (NopHooks) InvalidateDeleteError(string, error)   {}
