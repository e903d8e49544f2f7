// Package client is the engine façade the hosting application talks
// to: one injectable object owning the store, the echo guard, both
// update queues, the fetcher and the push connection. Construct it
// explicitly; nothing here is a package-level singleton.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/OxyHQ/mention-sync/internal/api"
	"github.com/OxyHQ/mention-sync/internal/clock"
	"github.com/OxyHQ/mention-sync/internal/config"
	"github.com/OxyHQ/mention-sync/internal/feed"
	"github.com/OxyHQ/mention-sync/internal/identity"
	"github.com/OxyHQ/mention-sync/internal/ops"
	"github.com/OxyHQ/mention-sync/internal/push"
)

// Backend is the REST surface the client consumes. *api.Client
// implements it; tests substitute a fake.
type Backend interface {
	feed.FeedSource
	Like(ctx context.Context, postID string) (api.ActionResult, error)
	Unlike(ctx context.Context, postID string) (api.ActionResult, error)
	Repost(ctx context.Context, postID string) (api.ActionResult, error)
	Unrepost(ctx context.Context, postID string) (api.ActionResult, error)
	Save(ctx context.Context, postID string) (api.ActionResult, error)
	Unsave(ctx context.Context, postID string) (api.ActionResult, error)
	Reply(ctx context.Context, postID, text string) (*feed.Post, error)
	CreatePost(ctx context.Context, text string, media []string) (*feed.Post, error)
	DeletePost(ctx context.Context, postID string) error
}

type options struct {
	transport push.Transport
	clk       clock.Clock
	log       *ops.Logger
	backend   Backend
}

// Option customizes a Client at construction.
type Option func(*options)

// WithTransport substitutes the push transport, for tests.
func WithTransport(t push.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithClock substitutes the clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clk = c }
}

// WithLogger substitutes the logger.
func WithLogger(l *ops.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithBackend substitutes the REST backend, for tests.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// Client wires the sync engine together. One instance per session.
type Client struct {
	cfg *config.Config
	clk clock.Clock
	log *ops.Logger
	api Backend

	store *feed.Store
	guard *feed.EchoGuard
	feedQ *feed.FeedQueue
	engQ  *feed.EngagementQueue
	fetch *feed.Fetcher
	push  *push.Manager

	nextSub  atomic.Int64
	presence *xsync.MapOf[string, *presenceEntry]
	follows  *xsync.MapOf[int64, FollowHandler]

	mu     sync.Mutex
	joined map[feed.SliceKey]struct{}
}

// New builds a disconnected client from config.
func New(cfg *config.Config, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clk == nil {
		o.clk = clock.Real()
	}
	if o.log == nil {
		o.log = ops.NewLogger(&cfg.Logging)
	}
	if o.backend == nil {
		o.backend = api.NewClient(&cfg.API, &cfg.Session, o.log)
	}

	store := feed.NewStore(o.clk, o.log)
	maxPending := cfg.Queues.PendingFactor * cfg.Feeds.PageSize

	c := &Client{
		cfg:      cfg,
		clk:      o.clk,
		log:      o.log.WithComponent("client"),
		api:      o.backend,
		store:    store,
		guard:    feed.NewEchoGuard(cfg.Echo.Window(), o.clk),
		feedQ:    feed.NewFeedQueue(store, cfg.Queues.FeedWindow(), maxPending, o.log),
		engQ:     feed.NewEngagementQueue(store, cfg.Queues.EngagementWindow(), maxPending, o.clk, o.log),
		fetch:    feed.NewFetcher(store, o.backend, cfg.Feeds.PageSize, o.log),
		presence: xsync.NewMapOf[string, *presenceEntry](),
		follows:  xsync.NewMapOf[int64, FollowHandler](),
		joined:   make(map[feed.SliceKey]struct{}),
	}

	mgr := push.NewManager(cfg, o.transport, o.clk, o.log)
	mgr.OnFrame(c.dispatch)
	mgr.OnStatus(c.onStatus)
	mgr.SetFlushHook(c.flushQueues)
	c.push = mgr
	return c
}

// Connect binds the session and opens the push channel. Connecting
// while already connected is a no-op.
func (c *Client) Connect(ctx context.Context, userID, token string) error {
	c.cfg.Session.UserID = userID
	c.cfg.Session.Token = token
	c.guard.SetUser(userID)
	return c.push.Connect(ctx)
}

// Disconnect flushes both queues, then closes the push channel. No
// buffered mutation is dropped with the connection.
func (c *Client) Disconnect() {
	c.push.Disconnect()
}

// Close disconnects and releases the engine's goroutines and watchers.
func (c *Client) Close() {
	c.push.Close()
	c.feedQ.Close()
}

// Logout disconnects and clears all session state: cache, slices and
// echo marks go with the user.
func (c *Client) Logout() {
	c.Disconnect()
	c.store.Clear()
}

// OnAppForeground forces a reconnect attempt when the application
// returns to the foreground while disconnected.
func (c *Client) OnAppForeground() {
	c.push.OnAppForeground()
}

// Status returns the push connection state.
func (c *Client) Status() push.Status {
	return c.push.Status()
}

// Post returns a copy of the cached entity.
func (c *Client) Post(id string) (*feed.Post, bool) {
	return c.store.Get(id)
}

// Feed returns a snapshot of one slice.
func (c *Client) Feed(key feed.SliceKey) (feed.Slice, bool) {
	return c.store.Slice(key)
}

// WatchSlices registers fn for committed slice transitions. The
// returned function removes the watcher.
func (c *Client) WatchSlices(fn func(feed.Event)) func() {
	return c.store.Watch(fn)
}

// FetchFeed loads the first page of a slice, replacing its items.
func (c *Client) FetchFeed(ctx context.Context, key feed.SliceKey, filters feed.Filters) error {
	return c.fetch.Fetch(ctx, key, filters)
}

// RefreshFeed re-runs the first page with the slice's last filters.
func (c *Client) RefreshFeed(ctx context.Context, key feed.SliceKey) error {
	return c.fetch.Refresh(ctx, key)
}

// LoadMoreFeed fetches and merges the next page of a slice.
func (c *Client) LoadMoreFeed(ctx context.Context, key feed.SliceKey) error {
	return c.fetch.LoadMore(ctx, key)
}

func (c *Client) flushQueues() {
	c.feedQ.FlushAll(true)
	c.engQ.FlushAll()
}

func (c *Client) onStatus(s push.Status) {
	if s != push.StatusConnected {
		return
	}
	c.resubscribe()
}

// resubscribe replays feed joins and presence subscriptions after a
// (re)connect, so a healed connection carries the same interest set
// the dropped one did.
func (c *Client) resubscribe() {
	c.mu.Lock()
	keys := make([]feed.SliceKey, 0, len(c.joined))
	for key := range c.joined {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.emit(push.MsgJoinFeed, push.FeedSub{FeedType: string(key.Kind), UserID: key.UserID})
	}
	c.presence.Range(func(userID string, entry *presenceEntry) bool {
		if entry.handlers.Size() > 0 {
			c.emit(push.MsgSubscribePresence, push.PresenceSub{UserID: userID})
		}
		return true
	})
}

// emit sends a frame, tolerating a down connection: the interest set
// is replayed by resubscribe once the channel heals.
func (c *Client) emit(event string, data any) {
	err := c.push.Emit(context.Background(), event, data)
	if err != nil && !errors.Is(err, push.ErrNotConnected) {
		c.log.Debug("emit failed", "event", event, "error", err)
	}
}

func (c *Client) dispatch(f push.Frame) {
	switch f.Event {
	case push.EvFeedUpdated:
		c.onFeedUpdated(f.Data)
	case push.EvPostLiked:
		c.onEngagement(f.Data, feed.ActionLike)
	case push.EvPostUnliked:
		c.onEngagement(f.Data, feed.ActionUnlike)
	case push.EvPostReposted:
		c.onEngagement(f.Data, feed.ActionRepost)
	case push.EvPostUnreposted:
		c.onEngagement(f.Data, feed.ActionUnrepost)
	case push.EvPostSaved:
		c.onEngagement(f.Data, feed.ActionSave)
	case push.EvPostUnsaved:
		c.onEngagement(f.Data, feed.ActionUnsave)
	case push.EvPostReplied:
		c.onEngagement(f.Data, feed.ActionReply)
	case push.EvPostDeleted:
		c.onPostDeleted(f.Data)
	case push.EvPresence:
		c.onPresence(f.Data)
	case push.EvPresenceBulk:
		c.onPresenceBulk(f.Data)
	case push.EvUserFollowed:
		c.onFollow(f.Data, true)
	case push.EvUserUnfollowed:
		c.onFollow(f.Data, false)
	default:
		c.log.Debug("ignoring unknown event", "event", f.Event)
	}
}

func (c *Client) onFeedUpdated(data json.RawMessage) {
	var ev push.FeedUpdated
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Debug("dropping malformed feed update", "error", err)
		return
	}
	kind := feed.Kind(ev.Type)
	if !kind.Valid() {
		c.log.Debug("dropping feed update for unknown kind", "type", ev.Type)
		return
	}
	key := feed.SliceKey{Kind: kind}
	if kind.PerUser() {
		key.UserID = ev.UserID.String()
		if !identity.Valid(key.UserID) {
			c.log.Debug("dropping per-user feed update without user", "type", ev.Type)
			return
		}
	}
	posts := api.ConvertPosts(ev.Items())
	if len(posts) == 0 {
		return
	}
	c.feedQ.Enqueue(key, posts)
}

func (c *Client) onEngagement(data json.RawMessage, action feed.Action) {
	var ev push.EngagementEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Debug("dropping malformed engagement event", "action", action, "error", err)
		return
	}

	// A repost notification counts against the original post, which
	// is the entity the viewer's slices actually hold.
	preferOriginal := action == feed.ActionRepost || action == feed.ActionUnrepost
	id := ev.TargetID(preferOriginal)
	if !identity.Valid(id) {
		c.log.Debug("dropping engagement event without id", "action", action)
		return
	}
	if c.guard.ShouldIgnore(id, action, ev.Actor()) {
		c.log.LogEchoSuppressed(id, string(action))
		return
	}

	var count *int
	switch action {
	case feed.ActionLike, feed.ActionUnlike:
		count = ev.LikesCount
	case feed.ActionRepost, feed.ActionUnrepost:
		count = ev.RepostsCount
	}
	c.engQ.Enqueue(feed.Engagement{PostID: id, Action: action, Count: count})
}

func (c *Client) onPostDeleted(data json.RawMessage) {
	var ev push.PostDeleted
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	id := ev.PostID.String()
	if !identity.Valid(id) {
		return
	}
	c.store.RemoveEverywhere(id)
}

// Diagnostics is a point-in-time snapshot of the engine's moving
// parts, for the hosting application's debug surface.
type Diagnostics struct {
	Status               push.Status
	ReconnectAttempts    int
	LastPong             time.Time
	CacheSize            int
	SliceCount           int
	FeedQueueDepth       int
	EngagementQueueDepth int
	EchoMarks            int
	JoinedFeeds          []string
}

// Diagnostics snapshots the engine state.
func (c *Client) Diagnostics() Diagnostics {
	c.mu.Lock()
	joined := make([]string, 0, len(c.joined))
	for key := range c.joined {
		joined = append(joined, key.String())
	}
	c.mu.Unlock()

	return Diagnostics{
		Status:               c.push.Status(),
		ReconnectAttempts:    c.push.Attempts(),
		LastPong:             c.push.LastPong(),
		CacheSize:            c.store.CacheSize(),
		SliceCount:           c.store.SliceCount(),
		FeedQueueDepth:       c.feedQ.PendingTotal(),
		EngagementQueueDepth: c.engQ.PendingTotal(),
		EchoMarks:            c.guard.Marks(),
		JoinedFeeds:          joined,
	}
}
