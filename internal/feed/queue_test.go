package feed

import (
	"sync"
	"testing"
	"time"
)

// manualDebounce stands in for the timer-backed debouncer so tests can
// fire the quiet-window expiry deterministically.
type manualDebounce struct {
	mu    sync.Mutex
	armed map[int]func()
	next  int
}

func newManualDebounce() *manualDebounce {
	return &manualDebounce{armed: make(map[int]func())}
}

func (m *manualDebounce) factory(time.Duration) func(func()) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.mu.Unlock()
	return func(fn func()) {
		m.mu.Lock()
		m.armed[id] = fn
		m.mu.Unlock()
	}
}

func (m *manualDebounce) fire() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.armed))
	for _, fn := range m.armed {
		fns = append(fns, fn)
	}
	m.armed = make(map[int]func())
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func newTestFeedQueue(s *Store, maxPending int) (*FeedQueue, *manualDebounce) {
	md := newManualDebounce()
	q := NewFeedQueue(s, 500*time.Millisecond, maxPending, nil)
	q.newDebouncer = md.factory
	return q, md
}

func TestFeedQueueBatchesIntoOnePrepend(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, []*Post{samplePost("x")}, "", false)

	q, md := newTestFeedQueue(s, 40)
	defer q.Close()

	var updates int
	defer s.Watch(func(ev Event) {
		if ev.Reason == ReasonUpdated {
			updates++
		}
	})()

	q.Enqueue(key, []*Post{samplePost("a")})
	q.Enqueue(key, []*Post{samplePost("b")})
	if ids := sliceIDs(t, s, key); len(ids) != 1 {
		t.Fatalf("slice changed before window expired: %v", ids)
	}

	md.fire()

	if ids := sliceIDs(t, s, key); len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "x" {
		t.Errorf("slice = %v, want [a b x]", ids)
	}
	if updates != 1 {
		t.Errorf("update events = %d, want 1 for the whole batch", updates)
	}
	if q.Pending(key) != 0 {
		t.Errorf("pending = %d after flush, want 0", q.Pending(key))
	}
}

func TestFeedQueueCapDropsOldest(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, nil, "", false)

	q, md := newTestFeedQueue(s, 2)
	defer q.Close()

	q.Enqueue(key, []*Post{samplePost("a"), samplePost("b"), samplePost("c")})
	if q.Pending(key) != 2 {
		t.Errorf("pending = %d, want 2 after trim", q.Pending(key))
	}

	md.fire()

	if ids := sliceIDs(t, s, key); len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Errorf("slice = %v, want newest two [b c]", ids)
	}
}

func TestFeedQueueDefersWhileLoadingThenFlushesOnLoaded(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, []*Post{samplePost("x")}, "c1", true)

	q, md := newTestFeedQueue(s, 40)
	defer q.Close()

	seq, _ := s.BeginFetch(key, nil)
	q.Enqueue(key, []*Post{samplePost("a")})
	md.fire()

	if q.Pending(key) != 1 {
		t.Fatalf("pending = %d during load, want 1 (deferred)", q.Pending(key))
	}
	if ids := sliceIDs(t, s, key); len(ids) != 1 {
		t.Fatalf("slice changed while loading: %v", ids)
	}

	s.CommitFetch(key, seq, []*Post{samplePost("x")}, "c1", true)

	if q.Pending(key) != 0 {
		t.Errorf("pending = %d after load completed, want 0", q.Pending(key))
	}
	if ids := sliceIDs(t, s, key); len(ids) != 2 || ids[0] != "a" {
		t.Errorf("slice = %v, want [a x]", ids)
	}
}

func TestFeedQueueDeferredKeepsOrderAcrossNewEnqueues(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, nil, "c1", true)

	q, md := newTestFeedQueue(s, 40)
	defer q.Close()

	seq, _ := s.BeginFetch(key, nil)
	q.Enqueue(key, []*Post{samplePost("a")})
	md.fire()
	q.Enqueue(key, []*Post{samplePost("b")})

	s.CommitFetch(key, seq, nil, "c1", true)
	md.fire()

	if ids := sliceIDs(t, s, key); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("slice = %v, want deferred batch first [a b]", ids)
	}
}

func TestFeedQueueFlushAllForcesThroughLoading(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, nil, "c1", true)

	q, _ := newTestFeedQueue(s, 40)
	defer q.Close()

	s.BeginFetch(key, nil)
	q.Enqueue(key, []*Post{samplePost("a")})

	q.FlushAll(true)

	if q.PendingTotal() != 0 {
		t.Errorf("pending = %d after forced flush, want 0", q.PendingTotal())
	}
	if ids := sliceIDs(t, s, key); len(ids) != 1 || ids[0] != "a" {
		t.Errorf("slice = %v, want [a]", ids)
	}
}

func TestFeedQueueDropsBatchForUninitializedSlice(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}

	q, md := newTestFeedQueue(s, 40)
	defer q.Close()

	q.Enqueue(key, []*Post{samplePost("a")})
	md.fire()

	if q.Pending(key) != 0 {
		t.Errorf("pending = %d, want 0 (batch dropped)", q.Pending(key))
	}
	if _, ok := s.Slice(key); ok {
		t.Error("queue initialized a slice on its own")
	}
}

func newTestEngagementQueue(s *Store, maxPending int) (*EngagementQueue, *manualDebounce) {
	md := newManualDebounce()
	q := NewEngagementQueue(s, 200*time.Millisecond, maxPending, nil, nil)
	q.newDebouncer = md.factory
	return q, md
}

func TestEngagementQueueAppliesCounters(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, []*Post{samplePost("a")}, "", false)

	q, md := newTestEngagementQueue(s, 10)

	q.Enqueue(Engagement{PostID: "a", Action: ActionLike})
	q.Enqueue(Engagement{PostID: "a", Action: ActionReply})
	md.fire()

	cached, _ := s.Get("a")
	if cached.LikeCount != 6 {
		t.Errorf("LikeCount = %d, want 6", cached.LikeCount)
	}
	if cached.ReplyCount != 3 {
		t.Errorf("ReplyCount = %d, want 3", cached.ReplyCount)
	}
	if cached.Liked {
		t.Error("remote like flipped the viewer flag")
	}
}

func TestEngagementQueueAuthoritativeCountWins(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, []*Post{samplePost("a")}, "", false)

	q, md := newTestEngagementQueue(s, 10)

	count := 42
	q.Enqueue(Engagement{PostID: "a", Action: ActionLike, Count: &count})
	md.fire()

	if cached, _ := s.Get("a"); cached.LikeCount != 42 {
		t.Errorf("LikeCount = %d, want authoritative 42", cached.LikeCount)
	}
}

func TestEngagementQueueCollapsesPerAction(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, []*Post{samplePost("a")}, "", false)

	q, md := newTestEngagementQueue(s, 10)

	var writes int
	defer s.Watch(func(ev Event) {
		if ev.Reason == ReasonUpdated {
			writes++
		}
	})()

	// Three likes within one window collapse to the newest one.
	stale, fresh := 7, 9
	q.Enqueue(Engagement{PostID: "a", Action: ActionLike, Count: &stale})
	q.Enqueue(Engagement{PostID: "a", Action: ActionLike})
	q.Enqueue(Engagement{PostID: "a", Action: ActionLike, Count: &fresh})
	md.fire()

	if cached, _ := s.Get("a"); cached.LikeCount != 9 {
		t.Errorf("LikeCount = %d, want 9 from the newest event", cached.LikeCount)
	}
	if writes != 1 {
		t.Errorf("store writes = %d, want 1 after collapse", writes)
	}
}

func TestEngagementQueueOpposingActionsReplayInOrder(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, []*Post{samplePost("a")}, "", false)

	q, md := newTestEngagementQueue(s, 10)

	q.Enqueue(Engagement{PostID: "a", Action: ActionUnlike})
	q.Enqueue(Engagement{PostID: "a", Action: ActionLike})
	md.fire()

	// Unlike then like: 5 -> 4 -> 5.
	if cached, _ := s.Get("a"); cached.LikeCount != 5 {
		t.Errorf("LikeCount = %d, want 5", cached.LikeCount)
	}
}

func TestEngagementQueueFloorsAtZero(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	post := samplePost("a")
	post.LikeCount = 0
	seedSlice(t, s, key, []*Post{post}, "", false)

	q, md := newTestEngagementQueue(s, 10)

	q.Enqueue(Engagement{PostID: "a", Action: ActionUnlike})
	md.fire()

	if cached, _ := s.Get("a"); cached.LikeCount != 0 {
		t.Errorf("LikeCount = %d, want floor 0", cached.LikeCount)
	}
}

func TestEngagementQueueSaveChangesNothing(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, []*Post{samplePost("a")}, "", false)

	q, md := newTestEngagementQueue(s, 10)

	var events int
	defer s.Watch(func(ev Event) { events++ })()

	q.Enqueue(Engagement{PostID: "a", Action: ActionSave})
	q.Enqueue(Engagement{PostID: "a", Action: ActionUnsave})
	md.fire()

	if events != 0 {
		t.Errorf("events = %d for save/unsave from others, want 0", events)
	}
	if cached, _ := s.Get("a"); cached.Saved {
		t.Error("remote save flipped the viewer flag")
	}
}

func TestEngagementQueueCapDropsOldest(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, []*Post{samplePost("a")}, "", false)

	q, _ := newTestEngagementQueue(s, 2)

	first, second, third := 1, 2, 3
	q.Enqueue(Engagement{PostID: "a", Action: ActionLike, Count: &first})
	q.Enqueue(Engagement{PostID: "a", Action: ActionLike, Count: &second})
	q.Enqueue(Engagement{PostID: "a", Action: ActionLike, Count: &third})

	if q.Pending("a") != 2 {
		t.Errorf("pending = %d, want 2 after trim", q.Pending("a"))
	}

	q.FlushAll()
	if cached, _ := s.Get("a"); cached.LikeCount != 3 {
		t.Errorf("LikeCount = %d, want newest count 3", cached.LikeCount)
	}
}

func TestEngagementQueueIgnoresEmptyID(t *testing.T) {
	s := newTestStore()
	q, _ := newTestEngagementQueue(s, 10)

	q.Enqueue(Engagement{PostID: "", Action: ActionLike})
	if q.Pending("") != 0 {
		t.Error("event with empty post id buffered")
	}
}

func TestFeedQueueDeferredBatchRearmsTimer(t *testing.T) {
	s := newTestStore()
	key := SliceKey{Kind: KindForYou}
	seedSlice(t, s, key, nil, "c1", true)

	q, md := newTestFeedQueue(s, 40)

	seq, _ := s.BeginFetch(key, nil)
	q.Enqueue(key, []*Post{samplePost("a")})
	md.fire()

	if q.Pending(key) != 1 {
		t.Fatalf("pending = %d after deferred flush, want 1", q.Pending(key))
	}

	// Detach the loaded-event watcher so only the re-armed timer can
	// deliver the deferred batch.
	q.Close()
	s.CommitFetch(key, seq, nil, "c1", true)
	md.fire()

	if ids := sliceIDs(t, s, key); len(ids) != 1 || ids[0] != "a" {
		t.Errorf("slice = %v, want deferred batch applied [a]", ids)
	}
	if q.Pending(key) != 0 {
		t.Errorf("pending = %d after timer flush, want 0", q.Pending(key))
	}
}
