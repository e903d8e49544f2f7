package feed

import "github.com/OxyHQ/mention-sync/internal/identity"

// DedupePosts removes duplicates by normalized id, preserving
// first-occurrence order. Posts without a usable id are dropped.
// Applying it twice yields the same list, so callers may layer it
// defensively at every merge point.
func DedupePosts(posts []*Post) []*Post {
	seen := make(map[string]struct{}, len(posts))
	unique := make([]*Post, 0, len(posts))
	for _, p := range posts {
		id := identity.Normalize(p)
		if !identity.Valid(id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, p)
	}
	return unique
}

// containsID reports whether posts already holds the normalized id.
func containsID(posts []*Post, id string) bool {
	for _, p := range posts {
		if identity.Normalize(p) == id {
			return true
		}
	}
	return false
}
