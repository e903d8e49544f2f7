package client

import (
	"context"
	"encoding/json"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/OxyHQ/mention-sync/internal/feed"
	"github.com/OxyHQ/mention-sync/internal/identity"
	"github.com/OxyHQ/mention-sync/internal/push"
)

// PresenceHandler receives online-state changes for a watched user.
type PresenceHandler func(userID string, online bool)

// FollowChange is a follower-graph update fanned out to subscribers.
// Counts are present only when the backend includes the authoritative
// values.
type FollowChange struct {
	FollowerID     string
	FollowingID    string
	Followed       bool
	FollowerCount  *int
	FollowingCount *int
}

// FollowHandler receives follow and unfollow notifications.
type FollowHandler func(FollowChange)

type presenceEntry struct {
	handlers *xsync.MapOf[int64, PresenceHandler]
}

// SubscribePresence watches a user's online state. The first handler
// for a user emits the subscribe frame; the returned function removes
// the handler and, when it was the last one, emits unsubscribe.
func (c *Client) SubscribePresence(userID string, fn PresenceHandler) func() {
	entry, _ := c.presence.LoadOrCompute(userID, func() *presenceEntry {
		return &presenceEntry{handlers: xsync.NewMapOf[int64, PresenceHandler]()}
	})

	id := c.nextSub.Add(1)
	first := entry.handlers.Size() == 0
	entry.handlers.Store(id, fn)
	if first {
		c.emit(push.MsgSubscribePresence, push.PresenceSub{UserID: userID})
	}

	return func() {
		entry.handlers.Delete(id)
		if entry.handlers.Size() == 0 {
			c.emit(push.MsgUnsubscribePresence, push.PresenceSub{UserID: userID})
		}
	}
}

// GetPresence requests one user's current presence; the answer arrives
// as a user:presence event through the subscribed handlers.
func (c *Client) GetPresence(ctx context.Context, userID string) error {
	return c.push.Emit(ctx, push.MsgGetPresence, push.PresenceSub{UserID: userID})
}

// GetPresenceBulk requests a presence snapshot for many users; the
// answer arrives as a user:presenceBulk event.
func (c *Client) GetPresenceBulk(ctx context.Context, userIDs []string) error {
	return c.push.Emit(ctx, push.MsgGetPresenceBulk, push.PresenceBulkQuery{UserIDs: userIDs})
}

// OnFollowChange registers a handler for follow and unfollow events.
// The returned function removes it.
func (c *Client) OnFollowChange(fn FollowHandler) func() {
	id := c.nextSub.Add(1)
	c.follows.Store(id, fn)
	return func() { c.follows.Delete(id) }
}

// JoinFeed subscribes the connection to live updates for a feed. The
// join is remembered and replayed after every reconnect.
func (c *Client) JoinFeed(key feed.SliceKey) {
	c.mu.Lock()
	c.joined[key] = struct{}{}
	c.mu.Unlock()
	c.emit(push.MsgJoinFeed, push.FeedSub{FeedType: string(key.Kind), UserID: key.UserID})
}

// LeaveFeed drops the live subscription for a feed.
func (c *Client) LeaveFeed(key feed.SliceKey) {
	c.mu.Lock()
	delete(c.joined, key)
	c.mu.Unlock()
	c.emit(push.MsgLeaveFeed, push.FeedSub{FeedType: string(key.Kind), UserID: key.UserID})
}

// JoinPost subscribes to live engagement for one post, for detail
// views.
func (c *Client) JoinPost(postID string) {
	c.emit(push.MsgJoinPost, push.PostSub{PostID: postID})
}

// LeavePost drops a post subscription.
func (c *Client) LeavePost(postID string) {
	c.emit(push.MsgLeavePost, push.PostSub{PostID: postID})
}

func (c *Client) onPresence(data json.RawMessage) {
	var ev push.PresenceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	id := ev.UserID.String()
	if !identity.Valid(id) {
		return
	}
	c.fanPresence(id, ev.Online)
}

func (c *Client) onPresenceBulk(data json.RawMessage) {
	var ev push.PresenceBulk
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	for id, online := range ev.Users {
		if identity.Valid(id) {
			c.fanPresence(id, online)
		}
	}
}

func (c *Client) fanPresence(userID string, online bool) {
	entry, ok := c.presence.Load(userID)
	if !ok {
		return
	}
	entry.handlers.Range(func(_ int64, fn PresenceHandler) bool {
		fn(userID, online)
		return true
	})
}

func (c *Client) onFollow(data json.RawMessage, followed bool) {
	var ev push.FollowEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	change := FollowChange{
		FollowerID:     ev.FollowerID.String(),
		FollowingID:    ev.FollowingID.String(),
		Followed:       followed,
		FollowerCount:  ev.FollowerCount,
		FollowingCount: ev.FollowingCount,
	}
	if !identity.Valid(change.FollowerID) || !identity.Valid(change.FollowingID) {
		return
	}
	c.follows.Range(func(_ int64, fn FollowHandler) bool {
		fn(change)
		return true
	})
}
