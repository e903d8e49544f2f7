package push

import (
	"encoding/json"

	"github.com/OxyHQ/mention-sync/internal/api"
	"github.com/OxyHQ/mention-sync/internal/identity"
)

// Inbound event names.
const (
	EvFeedUpdated    = "feed:updated"
	EvPostLiked      = "post:liked"
	EvPostUnliked    = "post:unliked"
	EvPostReposted   = "post:reposted"
	EvPostUnreposted = "post:unreposted"
	EvPostSaved      = "post:saved"
	EvPostUnsaved    = "post:unsaved"
	EvPostReplied    = "post:replied"
	EvPostDeleted    = "post:deleted"
	EvUserFollowed   = "user:followed"
	EvUserUnfollowed = "user:unfollowed"
	EvPresence       = "user:presence"
	EvPresenceBulk   = "user:presenceBulk"
)

// Outbound message names.
const (
	MsgJoinFeed            = "joinFeed"
	MsgLeaveFeed           = "leaveFeed"
	MsgJoinPost            = "joinPost"
	MsgLeavePost           = "leavePost"
	MsgSubscribePresence   = "subscribePresence"
	MsgUnsubscribePresence = "unsubscribePresence"
	MsgGetPresence         = "getPresence"
	MsgGetPresenceBulk     = "getPresenceBulk"
)

// Frame is the wire envelope for both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// FeedUpdated carries pushed posts for one feed kind. Single-post
// payloads arrive under Post, batches under Posts. UserID scopes the
// per-profile kinds.
type FeedUpdated struct {
	Type   string          `json:"type"`
	UserID api.ObjectID    `json:"userId"`
	Posts  []*api.WirePost `json:"posts"`
	Post   *api.WirePost   `json:"post"`
}

// Items returns the payload's posts regardless of shape.
func (f *FeedUpdated) Items() []*api.WirePost {
	if len(f.Posts) > 0 {
		return f.Posts
	}
	if f.Post != nil {
		return []*api.WirePost{f.Post}
	}
	return nil
}

// EngagementEvent is the payload of the counter events. Repost events
// reference the original under OriginalPostID; some producers send the
// whole post instead of an id.
type EngagementEvent struct {
	PostID         api.ObjectID  `json:"postId"`
	OriginalPostID api.ObjectID  `json:"originalPostId"`
	LikesCount     *int          `json:"likesCount"`
	RepostsCount   *int          `json:"repostsCount"`
	UserID         api.ObjectID  `json:"userId"`
	ActorID        api.ObjectID  `json:"actorId"`
	Post           *api.WirePost `json:"post"`
}

// TargetID resolves the post the event applies to. Repost events
// prefer the original post's id so the count lands on the entity
// views actually hold.
func (e *EngagementEvent) TargetID(preferOriginal bool) string {
	if preferOriginal {
		if id := e.OriginalPostID.String(); identity.Valid(id) {
			return id
		}
	}
	if id := e.PostID.String(); identity.Valid(id) {
		return id
	}
	if e.Post != nil {
		if id := e.Post.CanonicalID(); identity.Valid(id) {
			return id
		}
	}
	if id := e.OriginalPostID.String(); identity.Valid(id) {
		return id
	}
	return ""
}

// Actor resolves who performed the action.
func (e *EngagementEvent) Actor() string {
	if id := e.UserID.String(); identity.Valid(id) {
		return id
	}
	if id := e.ActorID.String(); identity.Valid(id) {
		return id
	}
	return ""
}

// PostDeleted announces a post removal.
type PostDeleted struct {
	PostID api.ObjectID `json:"postId"`
}

// PresenceEvent is one user's online state change.
type PresenceEvent struct {
	UserID api.ObjectID `json:"userId"`
	Online bool         `json:"online"`
}

// PresenceBulk is the response to a bulk presence query.
type PresenceBulk struct {
	Users map[string]bool `json:"users"`
}

// FollowEvent is a follower-graph change. Counts are present only
// when the backend includes the authoritative values.
type FollowEvent struct {
	FollowerID     api.ObjectID `json:"followerId"`
	FollowingID    api.ObjectID `json:"followingId"`
	FollowerCount  *int         `json:"followerCount"`
	FollowingCount *int         `json:"followingCount"`
}

// FeedSub is the payload for joinFeed and leaveFeed.
type FeedSub struct {
	FeedType string `json:"feedType"`
	UserID   string `json:"userId,omitempty"`
}

// PostSub is the payload for joinPost and leavePost.
type PostSub struct {
	PostID string `json:"postId"`
}

// PresenceSub is the payload for the presence subscription messages.
type PresenceSub struct {
	UserID string `json:"userId"`
}

// PresenceBulkQuery is the payload for getPresenceBulk.
type PresenceBulkQuery struct {
	UserIDs []string `json:"userIds"`
}
