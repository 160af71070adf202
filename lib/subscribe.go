package lib

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quill/config"
	"quill/lib/apperror"
	"quill/lib/feeds"
	"quill/lib/models"
)

type subscribing struct {
	cfg        *config.Config
	log        *zap.Logger
	db         *gorm.DB
	discoverer *feeds.Discoverer
	parser     *feeds.Parser
}

// DiscoverFeeds returns candidate feed URLs for an arbitrary page URL, in
// document order. Empty means nothing discoverable; it is not an error.
func (svc *subscribing) DiscoverFeeds(ctx context.Context, url string) []feeds.Candidate {
	return svc.discoverer.Discover(ctx, url)
}

// SubscribeFeed discovers a feed at the URL and subscribes the owner to the
// first candidate. Subscribing twice to URLs that discover to the same feed
// URL returns the existing row unchanged. The initial fetch is best-effort:
// its failure only records fetch status and never fails the subscribe.
func (svc *subscribing) SubscribeFeed(ctx context.Context, ownerID, url string) (*models.Feed, bool, error) {
	candidates := svc.discoverer.Discover(ctx, url)
	if len(candidates) == 0 {
		return nil, false, apperror.InvalidInput("no feed found at url")
	}
	cand := candidates[0]

	existing := models.Feed{}
	tx := svc.db.WithContext(ctx).
		Where("owner_id = ? AND feed_url = ?", ownerID, cand.FeedURL).
		First(&existing)
	if tx.Error == nil {
		return &existing, false, nil
	}
	if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, false, tx.Error
	}

	feed := models.Feed{
		OwnerID: ownerID,
		FeedURL: cand.FeedURL,
		SiteURL: cand.SiteURL,
		Title:   cand.Title,
	}
	tx = svc.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&feed)
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	if tx.RowsAffected == 0 {
		// A concurrent subscribe won; the (owner, feed_url) index decides.
		tx = svc.db.WithContext(ctx).
			Where("owner_id = ? AND feed_url = ?", ownerID, cand.FeedURL).
			First(&existing)
		if tx.Error != nil {
			return nil, false, tx.Error
		}
		return &existing, false, nil
	}

	if _, err := svc.refresh(ctx, &feed); err != nil {
		svc.log.Sugar().Infow("Initial fetch failed", "feed_url", feed.FeedURL, "err", err)
	}
	return &feed, true, nil
}

// RefreshFeed fetches and ingests one feed on behalf of its owner. Unknown
// or foreign feed ids are NotFound. Returns the number of genuinely new
// items; re-ingested GUIDs are silently ignored and not counted.
func (svc *subscribing) RefreshFeed(ctx context.Context, ownerID, feedID string) (int, error) {
	feed := models.Feed{}
	tx := svc.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", feedID, ownerID).
		First(&feed)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apperror.NotFound("feed")
	} else if err != nil {
		return 0, err
	}
	return svc.refresh(ctx, &feed)
}

// refresh is the unscoped ingestion step shared by RefreshFeed, the initial
// subscribe fetch, and the scheduled batch. On fetch or parse failure the
// feed's status is set to "error" (the timestamp still advances) and the
// failure is surfaced; the feed row is never rolled back.
func (svc *subscribing) refresh(ctx context.Context, feed *models.Feed) (int, error) {
	now := time.Now().UTC()

	parsed, err := svc.parser.FetchAndParse(ctx, feed.FeedURL)
	if err != nil {
		if uerr := svc.markFetched(ctx, feed, now, models.FetchStatusError, "", ""); uerr != nil {
			svc.log.Sugar().Errorw("Failed to record fetch error", "feed_id", feed.ID, "err", uerr)
		}
		return 0, err
	}

	inserted := 0
	if len(parsed.Items) > 0 {
		rows := make(models.FeedItems, 0, len(parsed.Items))
		for _, item := range parsed.Items {
			rows = append(rows, models.FeedItem{
				FeedID:      feed.ID,
				GUID:        item.GUID,
				Title:       item.Title,
				URL:         item.URL,
				Author:      item.Author,
				PublishedAt: nullTime(item.PublishedAt),
				Summary:     item.Summary,
				ContentHTML: item.ContentHTML,
				FetchedAt:   now,
			})
		}

		// Insert-or-ignore on (feed_id, guid) is the sole concurrency guard
		// for ingestion. RowsAffected counts only genuinely new rows.
		tx := svc.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
		if tx.Error != nil {
			return 0, tx.Error
		}
		inserted = int(tx.RowsAffected)
	}

	if err := svc.markFetched(ctx, feed, now, models.FetchStatusOK, parsed.Title, parsed.SiteURL); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// markFetched advances the fetch bookkeeping. Title and site URL backfill
// COALESCE-style: a parsed blank never overwrites a known value.
func (svc *subscribing) markFetched(ctx context.Context, feed *models.Feed, at time.Time, status, title, siteURL string) error {
	tx := svc.db.WithContext(ctx).Model(&models.Feed{}).
		Where("id = ?", feed.ID).
		Updates(map[string]any{
			"last_fetched_at": at,
			"fetch_status":    status,
			"title":           gorm.Expr("COALESCE(NULLIF(?, ''), title)", title),
			"site_url":        gorm.Expr("COALESCE(NULLIF(?, ''), site_url)", siteURL),
		})
	return tx.Error
}

// RefreshResult is one feed's outcome within a scheduled batch.
type RefreshResult struct {
	Feed     models.Feed
	Inserted int
	Err      error
}

// RefreshDue refreshes up to limit feeds, least-recently-fetched first with
// never-fetched feeds sorting before everything. Feeds are processed
// sequentially and each failure is recorded in its result; one feed's
// failure never aborts the batch.
func (svc *subscribing) RefreshDue(ctx context.Context, limit int) []RefreshResult {
	var due models.Feeds
	tx := svc.db.WithContext(ctx).
		Order("last_fetched_at ASC NULLS FIRST").
		Limit(limit).
		Find(&due)
	if tx.Error != nil {
		svc.log.Sugar().Errorw("Failed to select feeds for refresh", "err", tx.Error)
		return nil
	}

	results := make([]RefreshResult, 0, len(due))
	for i := range due {
		feed := due[i]
		inserted, err := svc.refresh(ctx, &feed)
		if err != nil {
			svc.log.Sugar().Warnw("Scheduled refresh failed", "feed_id", feed.ID, "feed_url", feed.FeedURL, "err", err)
		}
		results = append(results, RefreshResult{Feed: feed, Inserted: inserted, Err: err})
	}
	return results
}

// ListFeeds returns the owner's subscriptions, newest first.
func (svc *subscribing) ListFeeds(ctx context.Context, ownerID string) (models.Feeds, error) {
	var out models.Feeds
	tx := svc.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&out)
	return out, tx.Error
}

// ListFeedItems pages through a feed's items in ingestion order
// (fetched_at DESC). The cursor is the fetched_at of the last item on the
// previous page, exclusive.
func (svc *subscribing) ListFeedItems(ctx context.Context, ownerID, feedID string, limit int, cursor *time.Time) (models.FeedItems, error) {
	q := svc.db.WithContext(ctx).
		Joins("JOIN feeds ON feeds.id = feed_items.feed_id").
		Where("feed_items.feed_id = ? AND feeds.owner_id = ?", feedID, ownerID).
		Order("feed_items.fetched_at DESC").
		Limit(limit)
	if cursor != nil {
		q = q.Where("feed_items.fetched_at < ?", *cursor)
	}

	var items models.FeedItems
	tx := q.Find(&items)
	return items, tx.Error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
