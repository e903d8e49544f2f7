package api

import (
	"encoding/json"
	"time"

	"github.com/OxyHQ/mention-sync/internal/feed"
	"github.com/OxyHQ/mention-sync/internal/identity"
)

// ObjectID decodes an id that arrives either as a plain string or as
// the raw database form {"$oid": "..."} that leaks through some
// endpoints.
type ObjectID string

func (o *ObjectID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*o = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = ObjectID(s)
		return nil
	}
	var obj struct {
		OID string `json:"$oid"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*o = ObjectID(obj.OID)
	return nil
}

func (o ObjectID) String() string { return string(o) }

// WireAuthor is the author object embedded in post payloads.
type WireAuthor struct {
	ID       ObjectID `json:"id"`
	Username string   `json:"username"`
	Name     string   `json:"name"`
}

// WirePost is a post as the backend serializes it. Ids may appear
// under id or _id, in either string or object form; some payloads
// wrap the post under a further "post" member, which ref() follows
// one level when the outer ids are unusable.
type WirePost struct {
	ID           string      `json:"id"`
	AltID        ObjectID    `json:"_id"`
	UserID       ObjectID    `json:"userId"`
	Author       *WireAuthor `json:"author"`
	Text         string      `json:"text"`
	Media        []string    `json:"media"`
	CreatedAt    time.Time   `json:"createdAt"`
	RepliesCount int         `json:"repliesCount"`
	RepostsCount int         `json:"repostsCount"`
	LikesCount   int         `json:"likesCount"`
	IsLiked      bool        `json:"isLiked"`
	IsReposted   bool        `json:"isReposted"`
	IsSaved      bool        `json:"isSaved"`
	ReplyToID    ObjectID    `json:"replyToId"`
	Original     *WirePost   `json:"original"`
	Quoted       *WirePost   `json:"quoted"`
	Post         *WirePost   `json:"post"`
}

func (w *WirePost) ref() identity.Ref {
	r := identity.Ref{ID: w.ID}
	if w.AltID != "" {
		r.Alt = w.AltID
	}
	if w.Post != nil {
		nested := w.Post.ref()
		r.Post = &nested
	}
	return r
}

// CanonicalID resolves the post's usable id, or "" when none exists.
func (w *WirePost) CanonicalID() string {
	if w == nil {
		return ""
	}
	return identity.Normalize(w.ref())
}

// ToFeedPost converts a wire post to the canonical entity. Posts
// without a usable id convert to nil. Nested original and quoted
// posts are carried one level deep.
func (w *WirePost) ToFeedPost() *feed.Post {
	return w.toPost(true)
}

func (w *WirePost) toPost(withNested bool) *feed.Post {
	if w == nil {
		return nil
	}
	id := w.CanonicalID()
	if !identity.Valid(id) {
		return nil
	}

	p := &feed.Post{
		ID:          id,
		AuthorID:    w.UserID.String(),
		Text:        w.Text,
		CreatedAt:   w.CreatedAt,
		ReplyCount:  w.RepliesCount,
		RepostCount: w.RepostsCount,
		LikeCount:   w.LikesCount,
		Liked:       w.IsLiked,
		Reposted:    w.IsReposted,
		Saved:       w.IsSaved,
		ReplyToID:   w.ReplyToID.String(),
	}
	if len(w.Media) > 0 {
		p.Media = append([]string(nil), w.Media...)
	}
	if w.Author != nil {
		if p.AuthorID == "" {
			p.AuthorID = w.Author.ID.String()
		}
		p.AuthorName = w.Author.Name
		if p.AuthorName == "" {
			p.AuthorName = w.Author.Username
		}
	}
	if withNested {
		p.Original = w.Original.toPost(false)
		p.Quoted = w.Quoted.toPost(false)
	}
	return p
}

// ConvertPosts converts a wire batch, dropping unusable entries and
// duplicate ids.
func ConvertPosts(items []*WirePost) []*feed.Post {
	posts := make([]*feed.Post, 0, len(items))
	for _, w := range items {
		if p := w.ToFeedPost(); p != nil {
			posts = append(posts, p)
		}
	}
	return feed.DedupePosts(posts)
}
