// Package tagcache implements a tagged get-or-compute cache with an external
// primary store and a bounded in-process fallback. Entries are stored with a
// TTL and a set of invalidation tags; invalidating a tag removes every entry
// carrying it, so write paths never have to enumerate keys.
//
// Components:
//   - Cache[V]: get-or-compute façade. Hit returns the stored value; miss runs
//     the caller's producer, stores the result under the given tags, returns it.
//   - Registry: tag -> key bookkeeping. Kept consistent with the stores: an
//     evicted or invalidated entry never leaves a dangling tag reference.
//   - provider.Provider: byte store with TTL. Redis is the usual primary
//     backend; fallback.Store is the in-process bound when the primary is down.
//   - scope.Scope: request-scoped dedup so N concurrent reads of one key in a
//     single request trigger one producer call.
//   - batch.Batcher: debounced write coalescing with per-op result fan-out.
//
// Keys:
//
//	entry:<ns>:<key> - stored entries, namespaced per cache instance
//
// Degradation: when a primary call fails or times out, the operation falls
// back to the in-process store and logs a warning. Callers never see a
// backend outage as an error; they see a slightly colder cache.
package tagcache
