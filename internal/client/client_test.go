package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/OxyHQ/mention-sync/internal/api"
	"github.com/OxyHQ/mention-sync/internal/clock"
	"github.com/OxyHQ/mention-sync/internal/config"
	"github.com/OxyHQ/mention-sync/internal/feed"
	"github.com/OxyHQ/mention-sync/internal/ops"
	"github.com/OxyHQ/mention-sync/internal/push"
)

// fakeConn is an in-memory push connection: tests inject inbound
// frames through the inbox and inspect outbound writes.
type fakeConn struct {
	mu      sync.Mutex
	inbox   chan []byte
	writes  []push.Frame
	closed  bool
	closeCh chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:   make(chan []byte, 32),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, errors.New("connection closed")
	case data := <-c.inbox:
		return data, nil
	}
}

func (c *fakeConn) WriteFrame(_ context.Context, f push.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, f)
	return nil
}

func (c *fakeConn) Ping(context.Context) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
	return nil
}

// drop simulates a transport failure observed by the read loop.
func (c *fakeConn) drop() { c.Close() }

func (c *fakeConn) inject(t *testing.T, raw string) {
	t.Helper()
	select {
	case c.inbox <- []byte(raw):
	default:
		t.Fatalf("fake conn inbox full")
	}
}

func (c *fakeConn) writtenEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]string, len(c.writes))
	for i, f := range c.writes {
		events[i] = f.Event
	}
	return events
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (tr *fakeTransport) Dial(context.Context, string, http.Header) (push.Conn, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	conn := newFakeConn()
	tr.conns = append(tr.conns, conn)
	return conn, nil
}

func (tr *fakeTransport) conn(i int) *fakeConn {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if i >= len(tr.conns) {
		return nil
	}
	return tr.conns[i]
}

func (tr *fakeTransport) dials() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.conns)
}

// fakeBackend substitutes the REST client. Unset hooks answer with a
// bare success.
type fakeBackend struct {
	feedFn   func(feed.FeedRequest) (feed.FeedPage, error)
	actionFn func(verb, postID string) (api.ActionResult, error)
	replyFn  func(postID, text string) (*feed.Post, error)
	createFn func(text string) (*feed.Post, error)
	deleteFn func(postID string) error
}

func (b *fakeBackend) FetchFeed(_ context.Context, req feed.FeedRequest) (feed.FeedPage, error) {
	if b.feedFn == nil {
		return feed.FeedPage{}, nil
	}
	return b.feedFn(req)
}

func (b *fakeBackend) action(verb, postID string) (api.ActionResult, error) {
	if b.actionFn == nil {
		return api.ActionResult{Success: true}, nil
	}
	return b.actionFn(verb, postID)
}

func (b *fakeBackend) Like(_ context.Context, id string) (api.ActionResult, error) {
	return b.action("like", id)
}
func (b *fakeBackend) Unlike(_ context.Context, id string) (api.ActionResult, error) {
	return b.action("unlike", id)
}
func (b *fakeBackend) Repost(_ context.Context, id string) (api.ActionResult, error) {
	return b.action("repost", id)
}
func (b *fakeBackend) Unrepost(_ context.Context, id string) (api.ActionResult, error) {
	return b.action("unrepost", id)
}
func (b *fakeBackend) Save(_ context.Context, id string) (api.ActionResult, error) {
	return b.action("save", id)
}
func (b *fakeBackend) Unsave(_ context.Context, id string) (api.ActionResult, error) {
	return b.action("unsave", id)
}

func (b *fakeBackend) Reply(_ context.Context, postID, text string) (*feed.Post, error) {
	if b.replyFn == nil {
		return &feed.Post{ID: "reply-1", Text: text, ReplyToID: postID}, nil
	}
	return b.replyFn(postID, text)
}

func (b *fakeBackend) CreatePost(_ context.Context, text string, _ []string) (*feed.Post, error) {
	if b.createFn == nil {
		return &feed.Post{ID: "server-1", Text: text}, nil
	}
	return b.createFn(text)
}

func (b *fakeBackend) DeletePost(_ context.Context, postID string) error {
	if b.deleteFn == nil {
		return nil
	}
	return b.deleteFn(postID)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Queues.FeedWindowMs = 20
	cfg.Queues.EngagementWindowMs = 20
	return cfg
}

func newTestClient(t *testing.T, backend *fakeBackend) (*Client, *fakeTransport, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := ops.NewLoggerWithWriter(&config.Logging{Level: "error", Format: "text"}, io.Discard)
	tr := &fakeTransport{}
	c := New(testConfig(),
		WithBackend(backend),
		WithTransport(tr),
		WithClock(clk),
		WithLogger(log),
	)
	t.Cleanup(c.Close)
	return c, tr, clk
}

func connect(t *testing.T, c *Client, tr *fakeTransport) *fakeConn {
	t.Helper()
	if err := c.Connect(context.Background(), "me", "token"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := c.Status(); got != push.StatusConnected {
		t.Fatalf("status after connect = %v, want connected", got)
	}
	return tr.conn(0)
}

// seedFeed initializes the for-you slice with the given posts.
func seedFeed(t *testing.T, c *Client, posts []*feed.Post) feed.SliceKey {
	t.Helper()
	key := feed.SliceKey{Kind: feed.KindForYou}
	c.api.(*fakeBackend).feedFn = func(feed.FeedRequest) (feed.FeedPage, error) {
		return feed.FeedPage{Posts: posts}, nil
	}
	if err := c.FetchFeed(context.Background(), key, nil); err != nil {
		t.Fatalf("FetchFeed: %v", err)
	}
	return key
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func post(id string, likes int) *feed.Post {
	return &feed.Post{ID: id, AuthorID: "author-" + id, Text: "post " + id, LikeCount: likes}
}

func TestLikeAppliesBeforeBackendResolves(t *testing.T) {
	backend := &fakeBackend{}
	c, _, _ := newTestClient(t, backend)
	seedFeed(t, c, []*feed.Post{post("p1", 5)})

	var seenLikes int
	var seenLiked bool
	seven := 7
	liked := true
	backend.actionFn = func(verb, id string) (api.ActionResult, error) {
		// Observed mid-call: the optimistic write already landed.
		p, _ := c.Post(id)
		seenLikes, seenLiked = p.LikeCount, p.Liked
		return api.ActionResult{Success: true, Data: api.ActionData{LikesCount: &seven, Liked: &liked}}, nil
	}

	if err := c.Like(context.Background(), "p1"); err != nil {
		t.Fatalf("Like: %v", err)
	}
	if seenLikes != 6 || !seenLiked {
		t.Errorf("state during backend call = %d/%v, want optimistic 6/true", seenLikes, seenLiked)
	}
	p, _ := c.Post("p1")
	if p.LikeCount != 7 || !p.Liked {
		t.Errorf("state after reconcile = %d/%v, want authoritative 7/true", p.LikeCount, p.Liked)
	}
}

func TestLikeFailureRestoresSnapshot(t *testing.T) {
	backend := &fakeBackend{}
	c, _, _ := newTestClient(t, backend)
	key := seedFeed(t, c, []*feed.Post{post("p1", 5)})

	backend.actionFn = func(string, string) (api.ActionResult, error) {
		return api.ActionResult{}, errors.New("boom")
	}
	err := c.Like(context.Background(), "p1")
	if err == nil {
		t.Fatal("Like succeeded, want propagated error")
	}

	p, _ := c.Post("p1")
	if p.LikeCount != 5 || p.Liked {
		t.Errorf("cache after rollback = %d/%v, want 5/false", p.LikeCount, p.Liked)
	}
	snap, _ := c.Feed(key)
	if snap.Posts[0].LikeCount != 5 || snap.Posts[0].Liked {
		t.Errorf("slice after rollback = %d/%v, want 5/false", snap.Posts[0].LikeCount, snap.Posts[0].Liked)
	}
}

func TestBackendRejectionRollsBack(t *testing.T) {
	backend := &fakeBackend{}
	c, _, _ := newTestClient(t, backend)
	seedFeed(t, c, []*feed.Post{post("p1", 5)})

	backend.actionFn = func(string, string) (api.ActionResult, error) {
		return api.ActionResult{Success: false}, nil
	}
	if err := c.Save(context.Background(), "p1"); err == nil {
		t.Fatal("Save succeeded, want error for rejected action")
	}
	p, _ := c.Post("p1")
	if p.Saved {
		t.Error("Saved flag survived a rejected action")
	}
}

func TestUnlikeFloorsAtZero(t *testing.T) {
	backend := &fakeBackend{}
	c, _, _ := newTestClient(t, backend)
	liked := post("p1", 0)
	liked.Liked = true
	seedFeed(t, c, []*feed.Post{liked})

	if err := c.Unlike(context.Background(), "p1"); err != nil {
		t.Fatalf("Unlike: %v", err)
	}
	p, _ := c.Post("p1")
	if p.LikeCount != 0 || p.Liked {
		t.Errorf("state = %d/%v, want floored 0/false", p.LikeCount, p.Liked)
	}
}

func TestInvalidIDRejected(t *testing.T) {
	c, _, _ := newTestClient(t, &fakeBackend{})
	for _, id := range []string{"", "undefined", "null"} {
		if err := c.Like(context.Background(), id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Like(%q) = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestPushEngagementFromOtherUserApplies(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, _ := newTestClient(t, backend)
	conn := connect(t, c, tr)
	seedFeed(t, c, []*feed.Post{post("p1", 5)})

	conn.inject(t, `{"event":"post:liked","data":{"postId":"p1","likesCount":9,"userId":"someone-else"}}`)

	waitFor(t, "engagement flush", func() bool {
		p, ok := c.Post("p1")
		return ok && p.LikeCount == 9
	})
}

func TestPushEngagementEchoSuppressed(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, _ := newTestClient(t, backend)
	conn := connect(t, c, tr)
	seedFeed(t, c, []*feed.Post{post("p1", 5)})

	if err := c.Like(context.Background(), "p1"); err != nil {
		t.Fatalf("Like: %v", err)
	}

	// The server re-broadcasts the like with the pre-action count.
	conn.inject(t, `{"event":"post:liked","data":{"postId":"p1","likesCount":5,"userId":"someone-else"}}`)
	// And an event attributed to the session user directly.
	conn.inject(t, `{"event":"post:unliked","data":{"postId":"p1","likesCount":5,"userId":"me"}}`)

	time.Sleep(100 * time.Millisecond)
	p, _ := c.Post("p1")
	if p.LikeCount != 6 || !p.Liked {
		t.Errorf("state after echoes = %d/%v, want optimistic 6/true intact", p.LikeCount, p.Liked)
	}
}

func TestPushRepostCountsAgainstOriginal(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, _ := newTestClient(t, backend)
	conn := connect(t, c, tr)
	orig := post("orig-1", 0)
	orig.RepostCount = 2
	seedFeed(t, c, []*feed.Post{orig})

	conn.inject(t, `{"event":"post:reposted","data":{"originalPostId":"orig-1","postId":"repost-9","repostsCount":3,"userId":"someone-else"}}`)

	waitFor(t, "repost count on original", func() bool {
		p, ok := c.Post("orig-1")
		return ok && p.RepostCount == 3
	})
}

func TestFeedUpdatedBatchesAndDedupes(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, _ := newTestClient(t, backend)
	conn := connect(t, c, tr)
	key := seedFeed(t, c, []*feed.Post{post("a", 0), post("b", 0)})

	conn.inject(t, `{"event":"feed:updated","data":{"type":"foryou","posts":[{"id":"b"},{"id":"c"}]}}`)
	conn.inject(t, `{"event":"feed:updated","data":{"type":"foryou","post":{"id":"d"}}}`)

	waitFor(t, "feed queue flush", func() bool {
		snap, _ := c.Feed(key)
		return len(snap.Posts) == 4
	})
	// c and d land at the head; whether they share a flush depends on
	// timer timing, so only their position relative to a and b is fixed.
	snap, _ := c.Feed(key)
	head := map[string]bool{snap.Posts[0].ID: true, snap.Posts[1].ID: true}
	if !head["c"] || !head["d"] {
		t.Errorf("slice head = %s,%s, want c and d", snap.Posts[0].ID, snap.Posts[1].ID)
	}
	if snap.Posts[2].ID != "a" || snap.Posts[3].ID != "b" {
		t.Errorf("slice tail = %s,%s, want a,b", snap.Posts[2].ID, snap.Posts[3].ID)
	}
}

func TestMalformedPushPayloadsDropped(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, _ := newTestClient(t, backend)
	conn := connect(t, c, tr)
	seedFeed(t, c, []*feed.Post{post("p1", 5)})

	conn.inject(t, `{"event":"post:liked","data":{"likesCount":9,"userId":"x"}}`)
	conn.inject(t, `{"event":"feed:updated","data":{"type":"nope","posts":[{"id":"z"}]}}`)
	conn.inject(t, `{"event":"post:liked","data":"not an object"}`)

	time.Sleep(100 * time.Millisecond)
	if p, _ := c.Post("p1"); p.LikeCount != 5 {
		t.Errorf("like count = %d, want 5 untouched", p.LikeCount)
	}
	if c.Status() != push.StatusConnected {
		t.Error("malformed payloads must not kill the connection")
	}
}

func TestDisconnectFlushesPendingEngagement(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, _ := newTestClient(t, backend)
	conn := connect(t, c, tr)
	seedFeed(t, c, []*feed.Post{post("p1", 5)})

	conn.inject(t, `{"event":"post:liked","data":{"postId":"p1","likesCount":9,"userId":"someone-else"}}`)
	waitFor(t, "event buffered", func() bool { return c.engQ.Pending("p1") == 1 })

	c.Disconnect()

	p, _ := c.Post("p1")
	if p.LikeCount != 9 {
		t.Errorf("like count after disconnect = %d, want flushed 9", p.LikeCount)
	}
	if c.engQ.PendingTotal() != 0 {
		t.Errorf("engagement queue depth = %d, want 0", c.engQ.PendingTotal())
	}
}

func TestCreatePostPlaceholderAndReplace(t *testing.T) {
	backend := &fakeBackend{}
	c, _, _ := newTestClient(t, backend)
	key := seedFeed(t, c, []*feed.Post{post("a", 0)})

	var placeholderID string
	backend.createFn = func(text string) (*feed.Post, error) {
		snap, _ := c.Feed(key)
		placeholderID = snap.Posts[0].ID
		return &feed.Post{ID: "server-1", Text: text}, nil
	}

	created, err := c.CreatePost(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if placeholderID == "" || placeholderID == "server-1" {
		t.Errorf("placeholder id mid-call = %q, want a local id at slice head", placeholderID)
	}
	snap, _ := c.Feed(key)
	if snap.Posts[0].ID != created.ID || len(snap.Posts) != 2 {
		t.Errorf("slice head = %s (%d posts), want server-1 (2 posts)", snap.Posts[0].ID, len(snap.Posts))
	}
	if _, ok := c.Post(placeholderID); ok {
		t.Error("placeholder survived the replace")
	}
}

func TestCreatePostFailureRemovesPlaceholder(t *testing.T) {
	backend := &fakeBackend{}
	c, _, _ := newTestClient(t, backend)
	key := seedFeed(t, c, []*feed.Post{post("a", 0)})

	backend.createFn = func(string) (*feed.Post, error) {
		return nil, errors.New("boom")
	}
	if _, err := c.CreatePost(context.Background(), "hello", nil); err == nil {
		t.Fatal("CreatePost succeeded, want error")
	}
	snap, _ := c.Feed(key)
	if len(snap.Posts) != 1 || snap.Posts[0].ID != "a" {
		t.Errorf("slice after rollback = %d posts, want just [a]", len(snap.Posts))
	}
}

func TestDeletePostRestoresOnFailure(t *testing.T) {
	backend := &fakeBackend{}
	c, _, _ := newTestClient(t, backend)
	key := seedFeed(t, c, []*feed.Post{post("a", 0), post("b", 0), post("c", 0)})

	var midDelete int
	backend.deleteFn = func(string) error {
		snap, _ := c.Feed(key)
		midDelete = len(snap.Posts)
		return errors.New("forbidden")
	}
	if err := c.DeletePost(context.Background(), "b"); err == nil {
		t.Fatal("DeletePost succeeded, want error")
	}
	if midDelete != 2 {
		t.Errorf("slice length mid-call = %d, want optimistic 2", midDelete)
	}
	snap, _ := c.Feed(key)
	if len(snap.Posts) != 3 || snap.Posts[1].ID != "b" {
		t.Errorf("slice after restore = %v, want b back at index 1", snap.Posts)
	}
}

func TestReplyBumpsParentAndRollsBack(t *testing.T) {
	backend := &fakeBackend{}
	c, _, _ := newTestClient(t, backend)
	parent := post("p1", 0)
	parent.ReplyCount = 4
	seedFeed(t, c, []*feed.Post{parent})

	if _, err := c.Reply(context.Background(), "p1", "nice"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if p, _ := c.Post("p1"); p.ReplyCount != 5 {
		t.Errorf("reply count = %d, want 5", p.ReplyCount)
	}

	backend.replyFn = func(string, string) (*feed.Post, error) {
		return nil, errors.New("boom")
	}
	if _, err := c.Reply(context.Background(), "p1", "again"); err == nil {
		t.Fatal("Reply succeeded, want error")
	}
	if p, _ := c.Post("p1"); p.ReplyCount != 5 {
		t.Errorf("reply count after rollback = %d, want 5", p.ReplyCount)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, _ := newTestClient(t, backend)
	connect(t, c, tr)
	key := seedFeed(t, c, []*feed.Post{post("a", 0)})

	c.Logout()

	if c.Status() != push.StatusDisconnected {
		t.Error("still connected after logout")
	}
	if _, ok := c.Post("a"); ok {
		t.Error("cache survived logout")
	}
	snap, _ := c.Feed(key)
	if len(snap.Posts) != 0 {
		t.Error("slice items survived logout")
	}
}

func TestPresenceSubscribeFanOutUnsubscribe(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, _ := newTestClient(t, backend)
	conn := connect(t, c, tr)

	var mu sync.Mutex
	got := map[string]bool{}
	cancel1 := c.SubscribePresence("u1", func(userID string, online bool) {
		mu.Lock()
		got[userID] = online
		mu.Unlock()
	})
	cancel2 := c.SubscribePresence("u1", func(string, bool) {})

	conn.inject(t, `{"event":"user:presence","data":{"userId":"u1","online":true}}`)
	waitFor(t, "presence fan-out", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["u1"]
	})

	conn.inject(t, `{"event":"user:presenceBulk","data":{"users":{"u1":false}}}`)
	waitFor(t, "bulk presence fan-out", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !got["u1"]
	})

	cancel1()
	cancel2()
	events := conn.writtenEvents()
	subs, unsubs := 0, 0
	for _, ev := range events {
		switch ev {
		case push.MsgSubscribePresence:
			subs++
		case push.MsgUnsubscribePresence:
			unsubs++
		}
	}
	if subs != 1 || unsubs != 1 {
		t.Errorf("subscribe/unsubscribe emits = %d/%d, want 1/1 (events: %v)", subs, unsubs, events)
	}
}

func TestFollowFanOut(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, _ := newTestClient(t, backend)
	conn := connect(t, c, tr)

	changes := make(chan FollowChange, 2)
	cancel := c.OnFollowChange(func(ch FollowChange) { changes <- ch })
	defer cancel()

	conn.inject(t, `{"event":"user:followed","data":{"followerId":"u1","followingId":"u2","followerCount":10}}`)

	select {
	case ch := <-changes:
		if !ch.Followed || ch.FollowerID != "u1" || ch.FollowingID != "u2" {
			t.Errorf("change = %+v, want followed u1→u2", ch)
		}
		if ch.FollowerCount == nil || *ch.FollowerCount != 10 {
			t.Errorf("follower count = %v, want 10", ch.FollowerCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no follow change delivered")
	}
}

func TestReconnectReplaysInterestSet(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, clk := newTestClient(t, backend)
	conn := connect(t, c, tr)

	c.JoinFeed(feed.SliceKey{Kind: feed.KindForYou})
	c.SubscribePresence("u1", func(string, bool) {})

	conn.drop()
	waitFor(t, "reconnect scheduled", func() bool {
		return c.Status() == push.StatusConnecting
	})

	clk.Advance(3 * time.Second)
	waitFor(t, "second dial", func() bool { return tr.dials() == 2 })
	waitFor(t, "reconnected", func() bool { return c.Status() == push.StatusConnected })

	conn2 := tr.conn(1)
	waitFor(t, "interest replay", func() bool {
		joined, presence := false, false
		for _, ev := range conn2.writtenEvents() {
			if ev == push.MsgJoinFeed {
				joined = true
			}
			if ev == push.MsgSubscribePresence {
				presence = true
			}
		}
		return joined && presence
	})
}

func TestDiagnosticsSnapshot(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, _ := newTestClient(t, backend)
	connect(t, c, tr)
	seedFeed(t, c, []*feed.Post{post("a", 0), post("b", 0)})
	c.JoinFeed(feed.SliceKey{Kind: feed.KindForYou})

	d := c.Diagnostics()
	if d.Status != push.StatusConnected {
		t.Errorf("status = %v, want connected", d.Status)
	}
	if d.CacheSize != 2 || d.SliceCount != 1 {
		t.Errorf("cache/slices = %d/%d, want 2/1", d.CacheSize, d.SliceCount)
	}
	if len(d.JoinedFeeds) != 1 || d.JoinedFeeds[0] != "foryou" {
		t.Errorf("joined = %v, want [foryou]", d.JoinedFeeds)
	}
}

func TestEngagementBurstSettlesOnNetState(t *testing.T) {
	backend := &fakeBackend{}
	c, tr, _ := newTestClient(t, backend)
	conn := connect(t, c, tr)
	seedFeed(t, c, []*feed.Post{post("p1", 5)})

	// Another user likes then unlikes inside one batch window; the
	// stale intermediate count must not win.
	conn.inject(t, `{"event":"post:liked","data":{"postId":"p1","likesCount":6,"userId":"other"}}`)
	conn.inject(t, `{"event":"post:unliked","data":{"postId":"p1","likesCount":5,"userId":"other"}}`)

	time.Sleep(150 * time.Millisecond)
	p, _ := c.Post("p1")
	if p.LikeCount != 5 {
		t.Errorf("like count = %d, want net 5", p.LikeCount)
	}
	if c.engQ.PendingTotal() != 0 {
		t.Errorf("pending = %d, want drained queue", c.engQ.PendingTotal())
	}
}

func TestEmitWhileDisconnectedTolerated(t *testing.T) {
	backend := &fakeBackend{}
	c, _, _ := newTestClient(t, backend)

	// Joins before connect are remembered, not errors.
	c.JoinFeed(feed.SliceKey{Kind: feed.KindFollowing})

	if err := c.GetPresence(context.Background(), "u1"); !errors.Is(err, push.ErrNotConnected) {
		t.Errorf("GetPresence while down = %v, want ErrNotConnected", err)
	}
}
