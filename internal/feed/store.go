package feed

import (
	"sync"
	"time"

	"github.com/OxyHQ/mention-sync/internal/clock"
	"github.com/OxyHQ/mention-sync/internal/identity"
	"github.com/OxyHQ/mention-sync/internal/ops"
)

type sliceState struct {
	posts       []*Post
	cursor      string
	hasMore     bool
	loading     bool
	loadingMore bool
	err         error
	updatedAt   time.Time
	filters     Filters
	fetched     bool
	fetchSeq    uint64
	moreSeq     uint64
}

// Store holds the canonical entity cache and every slice. All writes
// go through the reconciler methods (UpdateEverywhere, RemoveEverywhere,
// ReplacePost, Clear), the fetch commit methods, or Prepend; nothing
// else mutates cache or slice state. Each mutation computes its full
// next state and commits it in one critical section, then notifies
// watchers outside the lock.
type Store struct {
	clk clock.Clock
	log *ops.Logger

	mu     sync.RWMutex
	cache  map[string]*Post
	slices map[SliceKey]*sliceState

	watcherMu sync.Mutex
	watchers  map[int]func(Event)
	nextID    int
}

// NewStore creates an empty store.
func NewStore(clk clock.Clock, log *ops.Logger) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = ops.Default()
	}
	return &Store{
		clk:      clk,
		log:      log.WithComponent("store"),
		cache:    make(map[string]*Post),
		slices:   make(map[SliceKey]*sliceState),
		watchers: make(map[int]func(Event)),
	}
}

// Watch registers fn for slice events. Events arrive after the commit
// they describe, outside the store's critical section. The returned
// function removes the watcher.
func (s *Store) Watch(fn func(Event)) func() {
	s.watcherMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watcherMu.Unlock()

	return func() {
		s.watcherMu.Lock()
		delete(s.watchers, id)
		s.watcherMu.Unlock()
	}
}

func (s *Store) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	s.watcherMu.Lock()
	fns := make([]func(Event), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watcherMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// Get returns a copy of the cached entity.
func (s *Store) Get(id string) (*Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cache[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Slice returns a snapshot of one view. The posts are independent
// copies; mutating them cannot affect the store.
func (s *Store) Slice(key SliceKey) (Slice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.slices[key]
	if !ok {
		return Slice{Key: key}, false
	}
	posts := make([]*Post, len(st.posts))
	for i, p := range st.posts {
		posts[i] = p.Clone()
	}
	return Slice{
		Key:         key,
		Posts:       posts,
		Cursor:      st.cursor,
		HasMore:     st.hasMore,
		Loading:     st.loading,
		LoadingMore: st.loadingMore,
		Err:         st.err,
		UpdatedAt:   st.updatedAt,
		Filters:     st.filters.Clone(),
	}, true
}

// CacheSize returns the number of cached entities.
func (s *Store) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// SliceCount returns the number of initialized slices.
func (s *Store) SliceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slices)
}

// UpdateEverywhere applies updater to the entity with the given id in
// the cache and in every slice holding a copy of it. The updater
// receives a copy and returns the replacement, or nil for no-op. A
// non-nil result always commits to the cache; a slice whose copy
// already agrees with the result on observable fields keeps its
// existing array, so views do not re-render for nothing.
// Counter floors and id stability are enforced here, not in updaters.
// Returns the number of slices whose arrays changed.
func (s *Store) UpdateEverywhere(id string, updater func(*Post) *Post) int {
	if !identity.Valid(id) {
		return 0
	}

	s.mu.Lock()
	current := s.cache[id]
	if current == nil {
		s.mu.Unlock()
		return 0
	}

	next := updater(current.Clone())
	if next == nil {
		s.mu.Unlock()
		return 0
	}
	next.ID = current.ID
	next.clampCounters()

	now := s.clk.Now()
	cacheChanged := !observablyEqual(current, next)
	touched := 0
	var events []Event

	for key, st := range s.slices {
		idx := indexOf(st.posts, id)
		if idx < 0 {
			continue
		}
		if observablyEqual(st.posts[idx], next) {
			continue
		}
		posts := make([]*Post, len(st.posts))
		copy(posts, st.posts)
		posts[idx] = next.Clone()
		st.posts = posts
		st.updatedAt = now
		touched++
		events = append(events, Event{Key: key, Reason: ReasonUpdated, Count: len(posts)})
	}

	s.cache[id] = next
	s.mu.Unlock()

	if !cacheChanged && touched == 0 {
		return 0
	}
	s.log.LogEntityUpdate(id, touched)
	s.emit(events)
	return touched
}

// RemoveEverywhere deletes the entity from the cache and from every
// slice. Returns the number of slices that shrank.
func (s *Store) RemoveEverywhere(id string) int {
	if !identity.Valid(id) {
		return 0
	}

	s.mu.Lock()
	_, cached := s.cache[id]
	delete(s.cache, id)

	now := s.clk.Now()
	touched := 0
	var events []Event

	for key, st := range s.slices {
		idx := indexOf(st.posts, id)
		if idx < 0 {
			continue
		}
		posts := make([]*Post, 0, len(st.posts)-1)
		posts = append(posts, st.posts[:idx]...)
		posts = append(posts, st.posts[idx+1:]...)
		st.posts = posts
		st.updatedAt = now
		touched++
		events = append(events, Event{Key: key, Reason: ReasonUpdated, Count: len(posts)})
	}
	s.mu.Unlock()

	if cached || touched > 0 {
		s.log.LogEntityUpdate(id, touched)
	}
	s.emit(events)
	return touched
}

// Take removes the entity from the cache and every slice, like
// RemoveEverywhere, but returns the removed post and its position in
// each slice so a failed optimistic delete can put it back.
func (s *Store) Take(id string) (*Post, map[SliceKey]int) {
	if !identity.Valid(id) {
		return nil, nil
	}

	s.mu.Lock()
	taken := s.cache[id]
	delete(s.cache, id)

	now := s.clk.Now()
	at := make(map[SliceKey]int)
	var events []Event

	for key, st := range s.slices {
		idx := indexOf(st.posts, id)
		if idx < 0 {
			continue
		}
		if taken == nil {
			taken = st.posts[idx]
		}
		at[key] = idx
		posts := make([]*Post, 0, len(st.posts)-1)
		posts = append(posts, st.posts[:idx]...)
		posts = append(posts, st.posts[idx+1:]...)
		st.posts = posts
		st.updatedAt = now
		events = append(events, Event{Key: key, Reason: ReasonUpdated, Count: len(posts)})
	}
	if taken != nil {
		taken = taken.Clone()
	}
	s.mu.Unlock()

	s.emit(events)
	return taken, at
}

// Restore reinserts a taken post into the cache and, where the slice
// still exists and does not already hold the id, back at its old
// position, clamped to the slice's current length.
func (s *Store) Restore(p *Post, at map[SliceKey]int) {
	if p == nil || !identity.Valid(p.ID) {
		return
	}

	s.mu.Lock()
	s.cache[p.ID] = p.Clone()

	now := s.clk.Now()
	var events []Event

	for key, idx := range at {
		st, ok := s.slices[key]
		if !ok || indexOf(st.posts, p.ID) >= 0 {
			continue
		}
		if idx > len(st.posts) {
			idx = len(st.posts)
		}
		posts := make([]*Post, 0, len(st.posts)+1)
		posts = append(posts, st.posts[:idx]...)
		posts = append(posts, p.Clone())
		posts = append(posts, st.posts[idx:]...)
		st.posts = posts
		st.updatedAt = now
		events = append(events, Event{Key: key, Reason: ReasonUpdated, Count: len(posts)})
	}
	s.mu.Unlock()

	s.emit(events)
}

// ReplacePost swaps a locally-created placeholder for its confirmed
// server entity, in the cache and in every slice. If a slice already
// holds the server id (a push insert won the race), the placeholder is
// dropped there instead of duplicated.
func (s *Store) ReplacePost(oldID string, next *Post) {
	nextID := identity.Normalize(next)
	if !identity.Valid(oldID) || !identity.Valid(nextID) {
		return
	}

	s.mu.Lock()
	delete(s.cache, oldID)
	s.cache[nextID] = next.Clone()

	now := s.clk.Now()
	var events []Event

	for key, st := range s.slices {
		idx := indexOf(st.posts, oldID)
		if idx < 0 {
			continue
		}
		posts := make([]*Post, len(st.posts))
		copy(posts, st.posts)
		if dup := indexOf(posts, nextID); dup >= 0 && dup != idx {
			posts = append(posts[:idx], posts[idx+1:]...)
		} else {
			posts[idx] = next.Clone()
		}
		st.posts = posts
		st.updatedAt = now
		events = append(events, Event{Key: key, Reason: ReasonUpdated, Count: len(posts)})
	}
	s.mu.Unlock()

	s.emit(events)
}

// Clear drops the cache and every slice. Used on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	var events []Event
	for key := range s.slices {
		events = append(events, Event{Key: key, Reason: ReasonCleared, Count: 0})
	}
	s.cache = make(map[string]*Post)
	s.slices = make(map[SliceKey]*sliceState)
	s.mu.Unlock()

	s.emit(events)
}

// BeginFetch marks a slice loading for a replace-style fetch and
// returns the sequence the commit must present. Returns ok=false when
// a fetch for the slice is already in flight. When filters differ
// from the slice's last-used set, the items are cleared eagerly so a
// view never shows stale, differently-filtered content while the
// request resolves.
func (s *Store) BeginFetch(key SliceKey, filters Filters) (uint64, bool) {
	s.mu.Lock()
	st, ok := s.slices[key]
	if !ok {
		st = &sliceState{}
		s.slices[key] = st
	}
	if st.loading {
		s.mu.Unlock()
		return 0, false
	}

	var events []Event
	if st.fetched && !st.filters.Equal(filters) {
		st.posts = nil
		st.cursor = ""
		st.hasMore = false
		events = append(events, Event{Key: key, Reason: ReasonCleared, Count: 0})
	}
	st.fetched = true
	st.filters = filters.Clone()
	st.loading = true
	st.err = nil
	st.fetchSeq++
	seq := st.fetchSeq
	events = append(events, Event{Key: key, Reason: ReasonLoading, Count: len(st.posts)})
	s.mu.Unlock()

	s.emit(events)
	return seq, true
}

// CommitFetch replaces a slice's items with a fetch response. The
// commit is discarded when seq is stale, meaning another fetch for the
// slice superseded this one.
func (s *Store) CommitFetch(key SliceKey, seq uint64, posts []*Post, cursor string, hasMore bool) bool {
	s.mu.Lock()
	st, ok := s.slices[key]
	if !ok || st.fetchSeq != seq {
		s.mu.Unlock()
		return false
	}

	posts = DedupePosts(posts)
	cloned := make([]*Post, len(posts))
	for i, p := range posts {
		c := p.Clone()
		cloned[i] = c
		s.cache[c.ID] = c.Clone()
	}
	st.posts = cloned
	st.cursor = cursor
	st.hasMore = hasMore
	st.loading = false
	st.err = nil
	st.updatedAt = s.clk.Now()
	count := len(cloned)
	s.mu.Unlock()

	s.emit([]Event{{Key: key, Reason: ReasonLoaded, Count: count}})
	return true
}

// FailFetch records a fetch failure. Stale sequences are discarded.
func (s *Store) FailFetch(key SliceKey, seq uint64, err error) bool {
	s.mu.Lock()
	st, ok := s.slices[key]
	if !ok || st.fetchSeq != seq {
		s.mu.Unlock()
		return false
	}
	st.loading = false
	st.err = err
	st.updatedAt = s.clk.Now()
	count := len(st.posts)
	s.mu.Unlock()

	s.emit([]Event{{Key: key, Reason: ReasonLoaded, Count: count}})
	return true
}

// BeginMore captures the cursor for a merge-style load-more. Returns
// ok=false when the slice has no more pages, has never been fetched,
// or is already loading.
func (s *Store) BeginMore(key SliceKey) (cursor string, seq uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, found := s.slices[key]
	if !found || st.loading || st.loadingMore || !st.hasMore || st.cursor == "" {
		return "", 0, false
	}
	st.loadingMore = true
	st.moreSeq++
	return st.cursor, st.moreSeq, true
}

// CommitMore merges a load-more response into a slice. The merge is
// discarded when the slice's cursor no longer matches the captured
// one: a refresh superseded this load-more, and its fresher items must
// not be polluted by a page fetched against the old cursor. The merge
// deduplicates the existing items, the incoming batch, and the final
// list, so a response repeating already-seen ids can never introduce a
// duplicate.
func (s *Store) CommitMore(key SliceKey, seq uint64, captured string, incoming []*Post, cursor string, hasMore bool) bool {
	s.mu.Lock()
	st, ok := s.slices[key]
	if !ok || st.moreSeq != seq {
		s.mu.Unlock()
		return false
	}
	st.loadingMore = false

	if st.cursor != captured {
		count := len(st.posts)
		s.mu.Unlock()
		s.emit([]Event{{Key: key, Reason: ReasonLoaded, Count: count}})
		return false
	}

	existing := DedupePosts(st.posts)
	batch := DedupePosts(incoming)
	merged := make([]*Post, 0, len(existing)+len(batch))
	merged = append(merged, existing...)
	for _, p := range batch {
		if containsID(existing, p.ID) {
			continue
		}
		c := p.Clone()
		s.cache[c.ID] = c.Clone()
		merged = append(merged, c)
	}
	merged = DedupePosts(merged)

	st.posts = merged
	st.cursor = cursor
	st.hasMore = hasMore
	st.err = nil
	st.updatedAt = s.clk.Now()
	count := len(merged)
	s.mu.Unlock()

	s.emit([]Event{{Key: key, Reason: ReasonLoaded, Count: count}})
	return true
}

// FailMore records a load-more failure. Stale sequences are discarded.
func (s *Store) FailMore(key SliceKey, seq uint64, err error) bool {
	s.mu.Lock()
	st, ok := s.slices[key]
	if !ok || st.moreSeq != seq {
		s.mu.Unlock()
		return false
	}
	st.loadingMore = false
	st.err = err
	st.updatedAt = s.clk.Now()
	count := len(st.posts)
	s.mu.Unlock()

	s.emit([]Event{{Key: key, Reason: ReasonLoaded, Count: count}})
	return true
}

// Prepend inserts posts at the head of a slice, skipping ids the slice
// already holds. Uninitialized slices drop the batch. While the slice
// is loading, the batch is deferred (the in-flight fetch response will
// already include these items) unless force is set, as it is for the
// synchronous flush during disconnect. Returns the number of posts
// applied and whether the caller should retain the batch for a
// deferred flush.
func (s *Store) Prepend(key SliceKey, posts []*Post, force bool) (applied int, deferred bool) {
	s.mu.Lock()
	st, ok := s.slices[key]
	if !ok {
		s.mu.Unlock()
		return 0, false
	}
	if st.loading && !force {
		s.mu.Unlock()
		return 0, true
	}

	fresh := make([]*Post, 0, len(posts))
	for _, p := range DedupePosts(posts) {
		if containsID(st.posts, p.ID) {
			continue
		}
		c := p.Clone()
		s.cache[c.ID] = c.Clone()
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		s.mu.Unlock()
		return 0, false
	}

	combined := make([]*Post, 0, len(fresh)+len(st.posts))
	combined = append(combined, fresh...)
	combined = append(combined, st.posts...)
	st.posts = combined
	st.updatedAt = s.clk.Now()
	count := len(combined)
	s.mu.Unlock()

	s.emit([]Event{{Key: key, Reason: ReasonUpdated, Count: count}})
	return len(fresh), false
}

func indexOf(posts []*Post, id string) int {
	for i, p := range posts {
		if p.ID == id {
			return i
		}
	}
	return -1
}
