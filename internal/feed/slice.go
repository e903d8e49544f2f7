package feed

import "time"

// Kind names a feed variant. Global kinds stand alone; per-user kinds
// are scoped to another user's profile and need a UserID in the key.
type Kind string

const (
	KindForYou    Kind = "foryou"
	KindFollowing Kind = "following"
	KindSaved     Kind = "saved"

	KindUserPosts   Kind = "user_posts"
	KindUserReplies Kind = "user_replies"
	KindUserMedia   Kind = "user_media"
	KindUserLikes   Kind = "user_likes"
)

// PerUser reports whether the kind is scoped to a profile.
func (k Kind) PerUser() bool {
	switch k {
	case KindUserPosts, KindUserReplies, KindUserMedia, KindUserLikes:
		return true
	}
	return false
}

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	switch k {
	case KindForYou, KindFollowing, KindSaved,
		KindUserPosts, KindUserReplies, KindUserMedia, KindUserLikes:
		return true
	}
	return false
}

// SliceKey identifies one view. UserID is empty for global kinds.
type SliceKey struct {
	Kind   Kind
	UserID string
}

func (k SliceKey) String() string {
	if k.UserID == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.UserID
}

// Filters holds the normalized request parameters that produced a
// slice. A slice whose filters change is cleared before refetching.
type Filters map[string]string

// Equal reports whether two filter sets match exactly.
func (f Filters) Equal(other Filters) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (f Filters) Clone() Filters {
	if f == nil {
		return nil
	}
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Slice is a point-in-time snapshot of one view: its posts (copies),
// pagination state and fetch status.
type Slice struct {
	Key         SliceKey
	Posts       []*Post
	Cursor      string
	HasMore     bool
	Loading     bool
	LoadingMore bool
	Err         error
	UpdatedAt   time.Time
	Filters     Filters
}

// EventReason classifies a slice transition.
type EventReason string

const (
	// ReasonLoading marks the start of a fetch or refresh.
	ReasonLoading EventReason = "loading"
	// ReasonLoaded marks fetch completion, success or failure. Deferred
	// queue flushes key on this event.
	ReasonLoaded EventReason = "loaded"
	// ReasonUpdated marks a reconciler mutation of slice items.
	ReasonUpdated EventReason = "updated"
	// ReasonCleared marks a filter-change wipe or session clear.
	ReasonCleared EventReason = "cleared"
)

// Event describes one committed slice transition. Watchers receive
// events after the commit, outside the store's critical section.
type Event struct {
	Key    SliceKey
	Reason EventReason
	Count  int
}
