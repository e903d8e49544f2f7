package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/OxyHQ/mention-sync/internal/config"
	"github.com/OxyHQ/mention-sync/internal/feed"
	"github.com/OxyHQ/mention-sync/internal/ops"
)

// Client is a thin HTTP wrapper for the REST backend. It handles base
// URL construction, bearer token injection and error decoding; the
// callers own retries and reconciliation.
type Client struct {
	baseURL string
	session *config.Session
	http    *http.Client
	log     *ops.Logger
}

// APIError is a non-2xx response, preserved so callers can branch on
// the status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// ActionResult is the backend's acknowledgement of an engagement
// action. Counter fields are present only when the backend includes
// the authoritative value.
type ActionResult struct {
	Success bool       `json:"success"`
	Data    ActionData `json:"data"`
}

// ActionData carries the optional authoritative state after an action.
type ActionData struct {
	LikesCount   *int  `json:"likesCount"`
	Liked        *bool `json:"liked"`
	RepostsCount *int  `json:"repostsCount"`
	Reposted     *bool `json:"reposted"`
	Saved        *bool `json:"saved"`
}

// NewClient creates a REST client from config.
func NewClient(cfg *config.API, session *config.Session, log *ops.Logger) *Client {
	if log == nil {
		log = ops.Default()
	}
	// The session is held by pointer: the token is set at connect
	// time, after the client exists.
	return &Client{
		baseURL: trimSlash(cfg.BaseURL),
		session: session,
		http:    &http.Client{Timeout: cfg.Timeout()},
		log:     log.WithComponent("api"),
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// FetchFeed retrieves one feed page. Implements feed.FeedSource.
func (c *Client) FetchFeed(ctx context.Context, req feed.FeedRequest) (feed.FeedPage, error) {
	q := url.Values{}
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.UserID != "" {
		q.Set("userId", req.UserID)
	}
	for k, v := range req.Filters {
		q.Set(k, v)
	}

	path := "/feeds/" + url.PathEscape(string(req.Kind))
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var out struct {
		Items      []*WirePost `json:"items"`
		HasMore    bool        `json:"hasMore"`
		NextCursor string      `json:"nextCursor"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return feed.FeedPage{}, err
	}
	return feed.FeedPage{
		Posts:      ConvertPosts(out.Items),
		HasMore:    out.HasMore,
		NextCursor: out.NextCursor,
	}, nil
}

// Like marks a post liked by the session user.
func (c *Client) Like(ctx context.Context, postID string) (ActionResult, error) {
	return c.action(ctx, postID, "like")
}

// Unlike removes the session user's like.
func (c *Client) Unlike(ctx context.Context, postID string) (ActionResult, error) {
	return c.action(ctx, postID, "unlike")
}

// Repost shares a post to the session user's followers.
func (c *Client) Repost(ctx context.Context, postID string) (ActionResult, error) {
	return c.action(ctx, postID, "repost")
}

// Unrepost removes the session user's repost.
func (c *Client) Unrepost(ctx context.Context, postID string) (ActionResult, error) {
	return c.action(ctx, postID, "unrepost")
}

// Save bookmarks a post for the session user.
func (c *Client) Save(ctx context.Context, postID string) (ActionResult, error) {
	return c.action(ctx, postID, "save")
}

// Unsave removes a bookmark.
func (c *Client) Unsave(ctx context.Context, postID string) (ActionResult, error) {
	return c.action(ctx, postID, "unsave")
}

func (c *Client) action(ctx context.Context, postID, verb string) (ActionResult, error) {
	var out ActionResult
	err := c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID)+"/"+verb, nil, &out)
	return out, err
}

// Reply creates a reply under a post and returns the created entity.
func (c *Client) Reply(ctx context.Context, postID, text string) (*feed.Post, error) {
	body := map[string]string{"text": text}
	var out WirePost
	if err := c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID)+"/replies", body, &out); err != nil {
		return nil, err
	}
	p := out.ToFeedPost()
	if p == nil {
		return nil, fmt.Errorf("api: reply response without usable id")
	}
	return p, nil
}

// CreatePost publishes a new post and returns the created entity.
func (c *Client) CreatePost(ctx context.Context, text string, media []string) (*feed.Post, error) {
	body := map[string]any{"text": text}
	if len(media) > 0 {
		body["media"] = media
	}
	var out WirePost
	if err := c.do(ctx, http.MethodPost, "/posts", body, &out); err != nil {
		return nil, err
	}
	p := out.ToFeedPost()
	if p == nil {
		return nil, fmt.Errorf("api: create response without usable id")
	}
	return p, nil
}

// DeletePost removes a post owned by the session user.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	return c.do(ctx, http.MethodDelete, "/posts/"+url.PathEscape(postID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if tok := c.session.Token; tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Debug("request failed", "method", method, "path", path, "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// errorMessage extracts the human-readable part of an error body.
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(bytes.TrimSpace(data))
}
