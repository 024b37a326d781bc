package tagcache

import "sync"

// Registry maintains the mapping from invalidation tag to the set of cache
// keys currently carrying it. Pure bookkeeping: no TTL, no storage. All
// operations are atomic with respect to each other and are no-ops on unknown
// keys and tags.
//
// The invariant the cache relies on: a key appears under tag T here if and
// only if the stored entry for that key was written with T. The cache keeps
// that true by tagging in the same critical section as the store write and by
// untagging on every eviction, expiry and invalidation.
type Registry struct {
	mu    sync.Mutex
	byTag map[string]map[string]struct{}
	byKey map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byTag: make(map[string]map[string]struct{}),
		byKey: make(map[string]map[string]struct{}),
	}
}

// Tag associates key with tags, replacing any previous association for key.
func (r *Registry) Tag(key string, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.untagLocked(key)
	if len(tags) == 0 {
		return
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
		m, ok := r.byTag[t]
		if !ok {
			m = make(map[string]struct{})
			r.byTag[t] = m
		}
		m[key] = struct{}{}
	}
	r.byKey[key] = set
}

// Invalidate returns every key currently under tag and drops the tag's
// bookkeeping. It does not remove the keys from their other tags; callers
// delete the entries and call Untag per key.
func (r *Registry) Invalidate(tag string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byTag[tag]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
		delete(r.byKey[k], tag)
	}
	delete(r.byTag, tag)
	return keys
}

// Untag removes key from every tag it belongs to. Called when an entry
// leaves a store by eviction, expiry or invalidation.
func (r *Registry) Untag(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.untagLocked(key)
}

// Tags returns the tags currently associated with key.
func (r *Registry) Tags(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byKey[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

func (r *Registry) untagLocked(key string) {
	set, ok := r.byKey[key]
	if !ok {
		return
	}
	for t := range set {
		if m, ok := r.byTag[t]; ok {
			delete(m, key)
			if len(m) == 0 {
				delete(r.byTag, t)
			}
		}
	}
	delete(r.byKey, key)
}
