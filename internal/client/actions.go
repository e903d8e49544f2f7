package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/OxyHQ/mention-sync/internal/api"
	"github.com/OxyHQ/mention-sync/internal/feed"
	"github.com/OxyHQ/mention-sync/internal/identity"
)

// ErrInvalidID is returned for actions against an unusable post id.
var ErrInvalidID = fmt.Errorf("client: invalid post id")

// Like marks a post liked: the flag and counter flip immediately, the
// server confirms (or corrects) afterwards.
func (c *Client) Like(ctx context.Context, postID string) error {
	return c.engage(ctx, postID, feed.ActionLike,
		func(p *feed.Post) *feed.Post {
			if p.Liked {
				return nil
			}
			p.Liked = true
			p.LikeCount++
			return p
		},
		c.api.Like,
		func(p *feed.Post, d api.ActionData) *feed.Post {
			return reconcileLike(p, d)
		})
}

// Unlike removes the session user's like.
func (c *Client) Unlike(ctx context.Context, postID string) error {
	return c.engage(ctx, postID, feed.ActionUnlike,
		func(p *feed.Post) *feed.Post {
			if !p.Liked {
				return nil
			}
			p.Liked = false
			p.LikeCount--
			return p
		},
		c.api.Unlike,
		func(p *feed.Post, d api.ActionData) *feed.Post {
			return reconcileLike(p, d)
		})
}

// Repost shares a post to the session user's followers.
func (c *Client) Repost(ctx context.Context, postID string) error {
	return c.engage(ctx, postID, feed.ActionRepost,
		func(p *feed.Post) *feed.Post {
			if p.Reposted {
				return nil
			}
			p.Reposted = true
			p.RepostCount++
			return p
		},
		c.api.Repost,
		func(p *feed.Post, d api.ActionData) *feed.Post {
			return reconcileRepost(p, d)
		})
}

// Unrepost removes the session user's repost.
func (c *Client) Unrepost(ctx context.Context, postID string) error {
	return c.engage(ctx, postID, feed.ActionUnrepost,
		func(p *feed.Post) *feed.Post {
			if !p.Reposted {
				return nil
			}
			p.Reposted = false
			p.RepostCount--
			return p
		},
		c.api.Unrepost,
		func(p *feed.Post, d api.ActionData) *feed.Post {
			return reconcileRepost(p, d)
		})
}

// Save bookmarks a post for the session user.
func (c *Client) Save(ctx context.Context, postID string) error {
	return c.engage(ctx, postID, feed.ActionSave,
		func(p *feed.Post) *feed.Post {
			if p.Saved {
				return nil
			}
			p.Saved = true
			return p
		},
		c.api.Save,
		func(p *feed.Post, d api.ActionData) *feed.Post {
			if d.Saved == nil || p.Saved == *d.Saved {
				return nil
			}
			p.Saved = *d.Saved
			return p
		})
}

// Unsave removes a bookmark.
func (c *Client) Unsave(ctx context.Context, postID string) error {
	return c.engage(ctx, postID, feed.ActionUnsave,
		func(p *feed.Post) *feed.Post {
			if !p.Saved {
				return nil
			}
			p.Saved = false
			return p
		},
		c.api.Unsave,
		func(p *feed.Post, d api.ActionData) *feed.Post {
			if d.Saved == nil || p.Saved == *d.Saved {
				return nil
			}
			p.Saved = *d.Saved
			return p
		})
}

// engage runs the optimistic-write pattern for one engagement action:
// snapshot, mark the echo guard, mutate forward, call the backend,
// then reconcile the authoritative response or roll back to the exact
// pre-call snapshot. The error is returned so the view layer decides
// how to surface it.
func (c *Client) engage(
	ctx context.Context,
	postID string,
	action feed.Action,
	forward func(*feed.Post) *feed.Post,
	call func(context.Context, string) (api.ActionResult, error),
	reconcile func(*feed.Post, api.ActionData) *feed.Post,
) error {
	if !identity.Valid(postID) {
		return ErrInvalidID
	}

	snapshot, cached := c.store.Get(postID)
	c.guard.MarkLocal(postID, action)
	c.store.UpdateEverywhere(postID, forward)

	res, err := call(ctx, postID)
	if err == nil && !res.Success {
		err = fmt.Errorf("backend rejected %s", action)
	}
	if err != nil {
		if cached {
			c.store.UpdateEverywhere(postID, func(*feed.Post) *feed.Post {
				return snapshot.Clone()
			})
		}
		c.log.LogOptimisticRollback(postID, string(action), err)
		return fmt.Errorf("%s %s: %w", action, postID, err)
	}

	// The store's observable-equality check makes this a no-op when
	// the server agrees with the optimistic guess, and when a newer
	// optimistic mutation already moved past this response.
	c.store.UpdateEverywhere(postID, func(p *feed.Post) *feed.Post {
		return reconcile(p, res.Data)
	})
	return nil
}

func reconcileLike(p *feed.Post, d api.ActionData) *feed.Post {
	changed := false
	if d.LikesCount != nil && p.LikeCount != *d.LikesCount {
		p.LikeCount = *d.LikesCount
		changed = true
	}
	if d.Liked != nil && p.Liked != *d.Liked {
		p.Liked = *d.Liked
		changed = true
	}
	if !changed {
		return nil
	}
	return p
}

func reconcileRepost(p *feed.Post, d api.ActionData) *feed.Post {
	changed := false
	if d.RepostsCount != nil && p.RepostCount != *d.RepostsCount {
		p.RepostCount = *d.RepostsCount
		changed = true
	}
	if d.Reposted != nil && p.Reposted != *d.Reposted {
		p.Reposted = *d.Reposted
		changed = true
	}
	if !changed {
		return nil
	}
	return p
}

// Reply creates a reply under a post, bumping the parent's reply
// counter optimistically. Returns the created reply.
func (c *Client) Reply(ctx context.Context, postID, text string) (*feed.Post, error) {
	if !identity.Valid(postID) {
		return nil, ErrInvalidID
	}

	snapshot, cached := c.store.Get(postID)
	c.guard.MarkLocal(postID, feed.ActionReply)
	c.store.UpdateEverywhere(postID, func(p *feed.Post) *feed.Post {
		p.ReplyCount++
		return p
	})

	reply, err := c.api.Reply(ctx, postID, text)
	if err != nil {
		if cached {
			c.store.UpdateEverywhere(postID, func(*feed.Post) *feed.Post {
				return snapshot.Clone()
			})
		}
		c.log.LogOptimisticRollback(postID, string(feed.ActionReply), err)
		return nil, fmt.Errorf("reply %s: %w", postID, err)
	}

	// Land the confirmed reply in the session user's replies view when
	// it exists, so a push insert of the same id dedupes against it.
	c.store.Prepend(feed.SliceKey{Kind: feed.KindUserReplies, UserID: c.cfg.Session.UserID}, []*feed.Post{reply}, true)
	return reply, nil
}

// CreatePost publishes a new post. A placeholder with a local id shows
// up at the head of the viewer's feeds immediately; the confirmed
// server entity replaces it, or a failure removes it.
func (c *Client) CreatePost(ctx context.Context, text string, media []string) (*feed.Post, error) {
	self := c.cfg.Session.UserID
	local := &feed.Post{
		ID:        "local-" + uuid.NewString(),
		AuthorID:  self,
		Text:      text,
		Media:     append([]string(nil), media...),
		CreatedAt: c.clk.Now(),
	}
	for _, key := range c.authoredKeys() {
		c.store.Prepend(key, []*feed.Post{local}, true)
	}

	created, err := c.api.CreatePost(ctx, text, media)
	if err != nil {
		c.store.RemoveEverywhere(local.ID)
		c.log.LogOptimisticRollback(local.ID, "create", err)
		return nil, fmt.Errorf("create post: %w", err)
	}

	c.store.ReplacePost(local.ID, created)
	return created, nil
}

// DeletePost removes a post owned by the session user. The entity
// disappears from every view immediately and returns to its exact
// positions when the backend refuses.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	if !identity.Valid(postID) {
		return ErrInvalidID
	}

	taken, at := c.store.Take(postID)
	if err := c.api.DeletePost(ctx, postID); err != nil {
		c.store.Restore(taken, at)
		c.log.LogOptimisticRollback(postID, "delete", err)
		return fmt.Errorf("delete %s: %w", postID, err)
	}
	return nil
}

// authoredKeys lists the slices a locally created post can appear in.
// Prepend no-ops for slices that were never fetched.
func (c *Client) authoredKeys() []feed.SliceKey {
	return []feed.SliceKey{
		{Kind: feed.KindForYou},
		{Kind: feed.KindFollowing},
		{Kind: feed.KindUserPosts, UserID: c.cfg.Session.UserID},
	}
}
