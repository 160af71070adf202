package lib

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/lib/apperror"
	"quill/lib/models"
)

const subscribeFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Feed</title>
    <link>https://example.com</link>
    <item>
      <guid>item-1</guid>
      <title>First post</title>
      <link>https://example.com/1</link>
      <description>Summary one</description>
    </item>
    <item>
      <guid>item-2</guid>
      <title>Second post</title>
      <link>https://example.com/2</link>
    </item>
  </channel>
</rss>`

func newFeedServer(t *testing.T, doc string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(doc))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubscribeFeedIngestsAndIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	user := newTestUser(t, svc, "sub-1")
	srv := newFeedServer(t, subscribeFixture)
	ctx := context.Background()

	feed, created, err := svc.SubscribeFeed(ctx, user.ID, srv.URL+"/feed.xml")
	require.NoError(t, err)
	assert.True(t, created)

	// The initial fetch runs as part of subscribing.
	var count int64
	require.NoError(t, svc.db.Model(&models.FeedItem{}).Where("feed_id = ?", feed.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	stored := models.Feed{}
	require.NoError(t, svc.db.Where("id = ?", feed.ID).First(&stored).Error)
	assert.Equal(t, models.FetchStatusOK, stored.FetchStatus)
	assert.True(t, stored.LastFetchedAt.Valid)
	assert.Equal(t, "Example Feed", stored.Title)
	assert.Equal(t, "https://example.com", stored.SiteURL)

	same, created, err := svc.SubscribeFeed(ctx, user.ID, srv.URL+"/feed.xml")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, feed.ID, same.ID)
}

func TestSubscribeFeedNothingDiscoverable(t *testing.T) {
	svc := newTestService(t)
	user := newTestUser(t, svc, "sub-2")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	_, _, err := svc.SubscribeFeed(context.Background(), user.ID, srv.URL)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestRefreshFeedIgnoresKnownGUIDs(t *testing.T) {
	svc := newTestService(t)
	user := newTestUser(t, svc, "sub-3")
	srv := newFeedServer(t, subscribeFixture)
	ctx := context.Background()

	feed, _, err := svc.SubscribeFeed(ctx, user.ID, srv.URL+"/feed.xml")
	require.NoError(t, err)

	// Same document again: every GUID is already known.
	inserted, err := svc.RefreshFeed(ctx, user.ID, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	var count int64
	require.NoError(t, svc.db.Model(&models.FeedItem{}).Where("feed_id = ?", feed.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestRefreshFeedScopedToOwner(t *testing.T) {
	svc := newTestService(t)
	owner := newTestUser(t, svc, "sub-4")
	intruder := newTestUser(t, svc, "sub-5")
	srv := newFeedServer(t, subscribeFixture)
	ctx := context.Background()

	feed, _, err := svc.SubscribeFeed(ctx, owner.ID, srv.URL+"/feed.xml")
	require.NoError(t, err)

	_, err = svc.RefreshFeed(ctx, intruder.ID, feed.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = svc.RefreshFeed(ctx, owner.ID, "no-such-feed")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestRefreshDueIsolatesFailures(t *testing.T) {
	svc := newTestService(t)
	user := newTestUser(t, svc, "sub-6")
	good := newFeedServer(t, subscribeFixture)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)
	ctx := context.Background()

	goodFeed := models.Feed{OwnerID: user.ID, FeedURL: good.URL + "/feed.xml"}
	badFeed := models.Feed{OwnerID: user.ID, FeedURL: bad.URL + "/feed.xml", Title: "Keep me"}
	require.NoError(t, svc.db.Create(&goodFeed).Error)
	require.NoError(t, svc.db.Create(&badFeed).Error)

	results := svc.RefreshDue(ctx, 10)
	require.Len(t, results, 2)

	byID := map[string]RefreshResult{}
	for _, res := range results {
		byID[res.Feed.ID] = res
	}

	require.NoError(t, byID[goodFeed.ID].Err)
	assert.Equal(t, 2, byID[goodFeed.ID].Inserted)
	assert.ErrorIs(t, byID[badFeed.ID].Err, apperror.ErrUpstreamFetch)

	stored := models.Feed{}
	require.NoError(t, svc.db.Where("id = ?", badFeed.ID).First(&stored).Error)
	assert.Equal(t, models.FetchStatusError, stored.FetchStatus)
	assert.True(t, stored.LastFetchedAt.Valid)
	// A failed fetch has no parsed title; the stored one survives.
	assert.Equal(t, "Keep me", stored.Title)
}

func TestRefreshDuePrefersStalest(t *testing.T) {
	svc := newTestService(t)
	user := newTestUser(t, svc, "sub-7")
	srv := newFeedServer(t, subscribeFixture)

	fresh := models.Feed{
		OwnerID: user.ID, FeedURL: srv.URL + "/fresh.xml",
		LastFetchedAt: nullTime(ptrTime(time.Now().UTC())),
	}
	stale := models.Feed{
		OwnerID: user.ID, FeedURL: srv.URL + "/stale.xml",
		LastFetchedAt: nullTime(ptrTime(time.Now().UTC().Add(-24 * time.Hour))),
	}
	never := models.Feed{OwnerID: user.ID, FeedURL: srv.URL + "/never.xml"}
	for _, f := range []*models.Feed{&fresh, &stale, &never} {
		require.NoError(t, svc.db.Create(f).Error)
	}

	results := svc.RefreshDue(context.Background(), 2)
	require.Len(t, results, 2)
	// Never-fetched sorts before everything, then least recently fetched.
	assert.Equal(t, never.ID, results[0].Feed.ID)
	assert.Equal(t, stale.ID, results[1].Feed.ID)
}

func TestListFeedItemsPaginates(t *testing.T) {
	svc := newTestService(t)
	user := newTestUser(t, svc, "sub-8")
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	feed, _ := seedFeedItem(t, svc, user.ID, models.FeedItem{GUID: "g0", Title: "t0", FetchedAt: base})
	for i := 1; i < 5; i++ {
		item := models.FeedItem{
			FeedID: feed.ID, GUID: uuid.NewString(), Title: "t",
			FetchedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, svc.db.Create(&item).Error)
	}

	page1, err := svc.ListFeedItems(ctx, user.ID, feed.ID, 2, nil)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.True(t, page1[0].FetchedAt.After(page1[1].FetchedAt))

	cursor := page1[1].FetchedAt
	page2, err := svc.ListFeedItems(ctx, user.ID, feed.ID, 10, &cursor)
	require.NoError(t, err)
	require.Len(t, page2, 3)
	for _, item := range page2 {
		assert.True(t, item.FetchedAt.Before(cursor))
	}

	// Foreign owners see nothing.
	other := newTestUser(t, svc, "sub-9")
	none, err := svc.ListFeedItems(ctx, other.ID, feed.ID, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
