package feed

import (
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/OxyHQ/mention-sync/internal/clock"
	"github.com/OxyHQ/mention-sync/internal/ops"
)

// FeedQueue batches pushed posts per slice and applies them after a
// quiet window, so a burst of feed events becomes one prepend. Batches
// deferred while a slice is loading are flushed when the store reports
// the slice loaded.
type FeedQueue struct {
	store      *Store
	window     time.Duration
	maxPending int
	log        *ops.Logger

	mu         sync.Mutex
	pending    map[SliceKey][]*Post
	debouncers map[SliceKey]func(func())

	newDebouncer func(time.Duration) func(func())
	unwatch      func()
}

// NewFeedQueue creates a feed queue attached to the store. maxPending
// caps the buffered posts per slice; overflow drops the oldest.
func NewFeedQueue(store *Store, window time.Duration, maxPending int, log *ops.Logger) *FeedQueue {
	if log == nil {
		log = ops.Default()
	}
	q := &FeedQueue{
		store:        store,
		window:       window,
		maxPending:   maxPending,
		log:          log.WithComponent("feedqueue"),
		pending:      make(map[SliceKey][]*Post),
		debouncers:   make(map[SliceKey]func(func())),
		newDebouncer: debounce.New,
	}
	q.unwatch = store.Watch(q.onSliceEvent)
	return q
}

// Enqueue buffers posts for a slice and arms its flush timer. Each
// call resets the timer, so sustained bursts settle into one flush.
func (q *FeedQueue) Enqueue(key SliceKey, posts []*Post) {
	if len(posts) == 0 {
		return
	}

	q.mu.Lock()
	buf := append(q.pending[key], posts...)
	if len(buf) > q.maxPending {
		buf = buf[len(buf)-q.maxPending:]
	}
	q.pending[key] = buf
	deb, ok := q.debouncers[key]
	if !ok {
		deb = q.newDebouncer(q.window)
		q.debouncers[key] = deb
	}
	q.mu.Unlock()

	deb(func() { q.flush(key, false) })
}

// FlushAll applies every pending batch immediately. With force set,
// loading slices are written through rather than deferred; disconnect
// uses this so no buffered post is lost with the connection.
func (q *FeedQueue) FlushAll(force bool) {
	q.mu.Lock()
	keys := make([]SliceKey, 0, len(q.pending))
	for key := range q.pending {
		keys = append(keys, key)
	}
	q.mu.Unlock()

	for _, key := range keys {
		q.flush(key, force)
	}
}

// Pending returns the number of buffered posts for a slice.
func (q *FeedQueue) Pending(key SliceKey) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[key])
}

// PendingTotal returns the number of buffered posts across all slices.
func (q *FeedQueue) PendingTotal() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, buf := range q.pending {
		total += len(buf)
	}
	return total
}

// Close detaches the queue from the store. Buffered posts are kept;
// call FlushAll first if they should be applied.
func (q *FeedQueue) Close() {
	q.unwatch()
}

func (q *FeedQueue) onSliceEvent(ev Event) {
	if ev.Reason != ReasonLoaded {
		return
	}
	q.mu.Lock()
	waiting := len(q.pending[ev.Key]) > 0
	q.mu.Unlock()
	if waiting {
		q.flush(ev.Key, false)
	}
}

func (q *FeedQueue) flush(key SliceKey, force bool) {
	q.mu.Lock()
	batch := q.pending[key]
	delete(q.pending, key)
	q.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	applied, deferred := q.store.Prepend(key, batch, force)
	if deferred {
		// The slice may finish loading between the Prepend and the
		// re-queue below, in which case the loaded event fires before
		// the batch is visible again. Re-arm the timer so the batch is
		// retried either way instead of waiting for the next enqueue.
		q.mu.Lock()
		q.pending[key] = append(batch, q.pending[key]...)
		deb, ok := q.debouncers[key]
		if !ok {
			deb = q.newDebouncer(q.window)
			q.debouncers[key] = deb
		}
		q.mu.Unlock()
		deb(func() { q.flush(key, false) })
		return
	}
	q.log.LogQueueFlush("feed", key.String(), len(batch), applied)
}

// Engagement is one buffered counter adjustment for a post. Count, when
// present, is the authoritative value from the event; otherwise the
// flush applies a relative step.
type Engagement struct {
	PostID string
	Action Action
	Count  *int
	At     time.Time
}

// EngagementQueue batches counter events per post and applies them
// after a quiet window. Within a batch, only the newest event per
// action survives, so a like/unlike flip during the window costs one
// store write per action rather than one per event.
type EngagementQueue struct {
	store      *Store
	window     time.Duration
	maxPending int
	clk        clock.Clock
	log        *ops.Logger

	mu         sync.Mutex
	pending    map[string][]Engagement
	debouncers map[string]func(func())

	newDebouncer func(time.Duration) func(func())
}

// NewEngagementQueue creates an engagement queue attached to the store.
func NewEngagementQueue(store *Store, window time.Duration, maxPending int, clk clock.Clock, log *ops.Logger) *EngagementQueue {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = ops.Default()
	}
	return &EngagementQueue{
		store:        store,
		window:       window,
		maxPending:   maxPending,
		clk:          clk,
		log:          log.WithComponent("engagementqueue"),
		pending:      make(map[string][]Engagement),
		debouncers:   make(map[string]func(func())),
		newDebouncer: debounce.New,
	}
}

// Enqueue buffers one engagement event and arms the post's flush timer.
func (q *EngagementQueue) Enqueue(e Engagement) {
	if e.PostID == "" {
		return
	}
	if e.At.IsZero() {
		e.At = q.clk.Now()
	}

	q.mu.Lock()
	buf := append(q.pending[e.PostID], e)
	if len(buf) > q.maxPending {
		buf = buf[len(buf)-q.maxPending:]
	}
	q.pending[e.PostID] = buf
	deb, ok := q.debouncers[e.PostID]
	if !ok {
		deb = q.newDebouncer(q.window)
		q.debouncers[e.PostID] = deb
	}
	q.mu.Unlock()

	deb(func() { q.flush(e.PostID) })
}

// FlushAll applies every pending batch immediately.
func (q *EngagementQueue) FlushAll() {
	q.mu.Lock()
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.flush(id)
	}
}

// Pending returns the number of buffered events for a post.
func (q *EngagementQueue) Pending(postID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[postID])
}

// PendingTotal returns the number of buffered events across all posts.
func (q *EngagementQueue) PendingTotal() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, buf := range q.pending {
		total += len(buf)
	}
	return total
}

func (q *EngagementQueue) flush(postID string) {
	q.mu.Lock()
	batch := q.pending[postID]
	delete(q.pending, postID)
	q.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	applied := 0
	for _, e := range collapse(batch) {
		updater := counterUpdater(e)
		if updater == nil {
			continue
		}
		applied += q.store.UpdateEverywhere(postID, updater)
	}
	q.log.LogQueueFlush("engagement", postID, len(batch), applied)
}

// collapse keeps the newest event per action and returns the winners
// in chronological order, so opposing actions replay in the order they
// happened. Within equal timestamps the later-enqueued event wins.
func collapse(batch []Engagement) []Engagement {
	latest := make(map[Action]int, len(batch))
	for i, e := range batch {
		if j, ok := latest[e.Action]; ok && batch[j].At.After(e.At) {
			continue
		}
		latest[e.Action] = i
	}

	winners := make([]int, 0, len(latest))
	for _, i := range latest {
		winners = append(winners, i)
	}
	sort.Ints(winners)

	out := make([]Engagement, 0, len(winners))
	for _, i := range winners {
		out = append(out, batch[i])
	}
	return out
}

// counterUpdater maps a buffered event to a store updater. Remote
// engagement adjusts counters only; viewer flags change through the
// optimistic path, never here.
func counterUpdater(e Engagement) func(*Post) *Post {
	switch e.Action {
	case ActionLike:
		return func(p *Post) *Post {
			if e.Count != nil {
				p.LikeCount = *e.Count
			} else {
				p.LikeCount++
			}
			return p
		}
	case ActionUnlike:
		return func(p *Post) *Post {
			if e.Count != nil {
				p.LikeCount = *e.Count
			} else {
				p.LikeCount--
			}
			return p
		}
	case ActionRepost:
		return func(p *Post) *Post {
			if e.Count != nil {
				p.RepostCount = *e.Count
			} else {
				p.RepostCount++
			}
			return p
		}
	case ActionUnrepost:
		return func(p *Post) *Post {
			if e.Count != nil {
				p.RepostCount = *e.Count
			} else {
				p.RepostCount--
			}
			return p
		}
	case ActionReply:
		return func(p *Post) *Post {
			p.ReplyCount++
			return p
		}
	default:
		return nil
	}
}
