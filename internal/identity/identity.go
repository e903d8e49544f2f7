// Package identity owns canonical post identity. Server payloads carry
// ids in several shapes (plain string, object-valued store id, nested
// post reference); everything downstream keys caches and dedup sets by
// the output of Normalize and must never inspect raw id fields itself.
package identity

import "fmt"

// Identifiable is implemented by typed values that know their own
// canonical id.
type Identifiable interface {
	EntityID() string
}

// Ref is the loose identity portion of a wire payload. Alt holds the
// alternate store id, which may be a plain string or an object that
// stringifies (fmt.Stringer, or a decoded map carrying "$oid"). Post
// is a nested post reference; it is resolved at most one level deep.
type Ref struct {
	ID   string
	Alt  any
	Post *Ref
}

// Normalize resolves the canonical id of an entity-like value.
// Priority: direct id, object-valued alternate id via its string
// conversion, string-typed alternate id, then the nested post
// reference's own id or alternate id. Returns "" when nothing usable
// is found.
func Normalize(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case Identifiable:
		return e.EntityID()
	case Ref:
		return fromRef(&e, true)
	case *Ref:
		if e == nil {
			return ""
		}
		return fromRef(e, true)
	case map[string]any:
		return fromMap(e, true)
	}
	return ""
}

// Valid reports whether id is usable as a canonical id. The literal
// strings "undefined" and "null" arrive when an upstream serializer
// flattens a missing value; they are as unusable as empty.
func Valid(id string) bool {
	return id != "" && id != "undefined" && id != "null"
}

func fromRef(r *Ref, followNested bool) string {
	if r.ID != "" {
		return r.ID
	}
	if id := altString(r.Alt); id != "" {
		return id
	}
	if followNested && r.Post != nil {
		return fromRef(r.Post, false)
	}
	return ""
}

func fromMap(m map[string]any, followNested bool) string {
	if id, ok := m["id"].(string); ok && id != "" {
		return id
	}
	if id := altString(m["_id"]); id != "" {
		return id
	}
	if followNested {
		switch nested := m["post"].(type) {
		case map[string]any:
			return fromMap(nested, false)
		case Ref:
			return fromRef(&nested, false)
		case *Ref:
			if nested != nil {
				return fromRef(nested, false)
			}
		}
	}
	return ""
}

// altString resolves an alternate id value. Object forms come first:
// a value with its own string conversion, or a decoded object id
// ({"$oid": "..."}). A plain string is used as-is.
func altString(v any) string {
	switch alt := v.(type) {
	case nil:
		return ""
	case fmt.Stringer:
		return alt.String()
	case map[string]any:
		if oid, ok := alt["$oid"].(string); ok {
			return oid
		}
		return ""
	case string:
		return alt
	}
	return ""
}
