package feed

import (
	"context"

	"github.com/OxyHQ/mention-sync/internal/ops"
)

// FeedRequest describes one page request against the backend.
type FeedRequest struct {
	Kind    Kind
	UserID  string
	Cursor  string
	Limit   int
	Filters Filters
}

// FeedPage is one page of results, already converted and normalized.
type FeedPage struct {
	Posts      []*Post
	HasMore    bool
	NextCursor string
}

// FeedSource fetches feed pages from the backend. Implementations must
// be safe for concurrent use.
type FeedSource interface {
	FetchFeed(ctx context.Context, req FeedRequest) (FeedPage, error)
}

// Fetcher runs replace-style and merge-style loads against the store.
// Stale responses are discarded by the store's sequence and cursor
// checks; the fetcher only reports what happened.
type Fetcher struct {
	store  *Store
	source FeedSource
	limit  int
	log    *ops.Logger
}

// NewFetcher creates a fetcher reading pages of pageSize.
func NewFetcher(store *Store, source FeedSource, pageSize int, log *ops.Logger) *Fetcher {
	if log == nil {
		log = ops.Default()
	}
	return &Fetcher{
		store:  store,
		source: source,
		limit:  pageSize,
		log:    log.WithComponent("fetcher"),
	}
}

// Fetch loads the first page of a slice, replacing its items. A fetch
// already in flight for the slice makes this a no-op. A failed request
// is recorded on the slice and returned.
func (f *Fetcher) Fetch(ctx context.Context, key SliceKey, filters Filters) error {
	seq, ok := f.store.BeginFetch(key, filters)
	if !ok {
		return nil
	}

	page, err := f.source.FetchFeed(ctx, FeedRequest{
		Kind:    key.Kind,
		UserID:  key.UserID,
		Limit:   f.limit,
		Filters: filters,
	})
	if err != nil {
		f.store.FailFetch(key, seq, err)
		f.log.LogFetch(key.String(), "fetch", 0, false, err)
		return err
	}

	if !f.store.CommitFetch(key, seq, page.Posts, page.NextCursor, page.HasMore) {
		f.log.LogStaleDiscard(key.String(), "fetch superseded")
		return nil
	}
	f.log.LogFetch(key.String(), "fetch", len(page.Posts), page.HasMore, nil)
	return nil
}

// Refresh re-runs the first page with the slice's last-used filters.
func (f *Fetcher) Refresh(ctx context.Context, key SliceKey) error {
	var filters Filters
	if snap, ok := f.store.Slice(key); ok {
		filters = snap.Filters
	}
	return f.Fetch(ctx, key, filters)
}

// LoadMore fetches the next page and merges it into the slice. The
// cursor is captured before the request; if a refresh lands while the
// request is in flight, the store rejects the merge so the refreshed
// slice is not polluted by items paged against the old cursor. No-op
// when the slice is exhausted, uninitialized, or already loading.
func (f *Fetcher) LoadMore(ctx context.Context, key SliceKey) error {
	cursor, seq, ok := f.store.BeginMore(key)
	if !ok {
		return nil
	}

	var filters Filters
	if snap, found := f.store.Slice(key); found {
		filters = snap.Filters
	}

	page, err := f.source.FetchFeed(ctx, FeedRequest{
		Kind:    key.Kind,
		UserID:  key.UserID,
		Cursor:  cursor,
		Limit:   f.limit,
		Filters: filters,
	})
	if err != nil {
		f.store.FailMore(key, seq, err)
		f.log.LogFetch(key.String(), "more", 0, false, err)
		return err
	}

	if !f.store.CommitMore(key, seq, cursor, page.Posts, page.NextCursor, page.HasMore) {
		f.log.LogStaleDiscard(key.String(), "load-more superseded")
		return nil
	}
	f.log.LogFetch(key.String(), "more", len(page.Posts), page.HasMore, nil)
	return nil
}
