// Package keys holds the cache key and tag grammar: "{entity}-{scopeID}".
// Producers and invalidators must agree on it exactly, since invalidation
// matches by tag, not by key pattern.
//
// Examples: "projects-org1" (organization-scoped collection), "project-42"
// (entity detail), "my-tasks-u7" (user-scoped view).
package keys

// Key builds "{entity}-{scopeID}".
func Key(entity, scopeID string) string { return entity + "-" + scopeID }

// WriteTags returns the minimum tag set to invalidate after a write to
// entity with the given id inside a scoped collection: the collection view
// tag and the entity's own detail tag.
func WriteTags(entity, id, collection, scopeID string) []string {
	return []string{Key(collection, scopeID), Key(entity, id)}
}
