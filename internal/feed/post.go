package feed

import "time"

// Post is the canonical entity every view renders. Counters are
// non-negative; the three viewer flags are scoped to the current
// session's user. Original and Quoted carry at most one level of
// nesting so repost chains cannot form cycles.
type Post struct {
	ID         string
	AuthorID   string
	AuthorName string
	Text       string
	Media      []string
	CreatedAt  time.Time

	ReplyCount  int
	RepostCount int
	LikeCount   int

	Liked    bool
	Reposted bool
	Saved    bool

	ReplyToID string
	Original  *Post
	Quoted    *Post
}

// EntityID returns the canonical id.
func (p *Post) EntityID() string {
	if p == nil {
		return ""
	}
	return p.ID
}

// Clone returns an independent copy. Slices hold copies, never shared
// references, so a mutation in one view cannot leak into another
// before the reconciler commits it.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	next := *p
	next.Media = append([]string(nil), p.Media...)
	next.Original = p.Original.cloneNested()
	next.Quoted = p.Quoted.cloneNested()
	return &next
}

// cloneNested copies a related post and drops its own relations,
// keeping relation depth at one.
func (p *Post) cloneNested() *Post {
	if p == nil {
		return nil
	}
	next := *p
	next.Media = append([]string(nil), p.Media...)
	next.Original = nil
	next.Quoted = nil
	return &next
}

// clampCounters floors every counter at zero.
func (p *Post) clampCounters() {
	if p.ReplyCount < 0 {
		p.ReplyCount = 0
	}
	if p.RepostCount < 0 {
		p.RepostCount = 0
	}
	if p.LikeCount < 0 {
		p.LikeCount = 0
	}
}

// observablyEqual reports whether two posts agree on the fields a view
// renders reactively: engagement counters, viewer flags and text. The
// reconciler uses it to leave a slice's array untouched when an update
// would not change what is on screen.
func observablyEqual(a, b *Post) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ReplyCount == b.ReplyCount &&
		a.RepostCount == b.RepostCount &&
		a.LikeCount == b.LikeCount &&
		a.Liked == b.Liked &&
		a.Reposted == b.Reposted &&
		a.Saved == b.Saved &&
		a.Text == b.Text
}
