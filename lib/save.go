package lib

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quill/config"
	"quill/lib/apperror"
	"quill/lib/blob"
	"quill/lib/feeds"
	"quill/lib/htmlx"
	"quill/lib/models"
)

const htmlContentType = "text/html; charset=utf-8"

type saving struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	blobs   blob.Store
	fetcher *feeds.Fetcher
}

func rawKey(userID, savedID string) string {
	return fmt.Sprintf("users/%s/items/%s/raw.html", userID, savedID)
}

func annotatedKey(userID, savedID string) string {
	return fmt.Sprintf("users/%s/items/%s/annotated.html", userID, savedID)
}

// SaveItem snapshots a feed item into blob storage. Saving the same item
// twice returns the existing row. The same resolved HTML is written under
// two keys: raw stays immutable, annotated is the copy that content updates
// mutate later. The two puts and the row insert are not one atomic unit; a
// crash mid-sequence can orphan blobs, which is accepted.
func (svc *saving) SaveItem(ctx context.Context, ownerID, feedItemID string) (*models.SavedItem, bool, error) {
	item := models.FeedItem{}
	tx := svc.db.WithContext(ctx).
		Joins("JOIN feeds ON feeds.id = feed_items.feed_id").
		Where("feed_items.id = ? AND feeds.owner_id = ?", feedItemID, ownerID).
		First(&item)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperror.NotFound("feed item")
	} else if err != nil {
		return nil, false, err
	}

	existing := models.SavedItem{}
	tx = svc.db.WithContext(ctx).
		Where("user_id = ? AND feed_item_id = ?", ownerID, item.ID).
		First(&existing)
	if tx.Error == nil {
		return &existing, false, nil
	}
	if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, false, tx.Error
	}

	savedID := uuid.NewString()
	html, imageURL := svc.resolveArticleHTML(ctx, &item)

	saved := models.SavedItem{
		ID:           savedID,
		UserID:       ownerID,
		FeedItemID:   item.ID,
		SavedAt:      time.Now().UTC(),
		RawKey:       rawKey(ownerID, savedID),
		AnnotatedKey: annotatedKey(ownerID, savedID),
		ImageURL:     imageURL,
		Version:      1,
	}

	data := []byte(html)
	if err := svc.blobs.Put(ctx, saved.RawKey, data, htmlContentType); err != nil {
		return nil, false, err
	}
	if err := svc.blobs.Put(ctx, saved.AnnotatedKey, data, htmlContentType); err != nil {
		return nil, false, err
	}

	tx = svc.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&saved)
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	if tx.RowsAffected == 0 {
		// A concurrent save won the (user, feed_item) index; return its row.
		tx = svc.db.WithContext(ctx).
			Where("user_id = ? AND feed_item_id = ?", ownerID, item.ID).
			First(&existing)
		if tx.Error != nil {
			return nil, false, tx.Error
		}
		return &existing, false, nil
	}

	svc.log.Sugar().Infow("Saved item", "saved_id", saved.ID, "feed_item_id", item.ID)
	return &saved, true, nil
}

// resolveArticleHTML picks the article body through a fallback chain:
// stored content HTML, then a live fetch of the item URL (failures are
// swallowed), then a paragraph wrapping the escaped summary or a generic
// placeholder. Fragments get wrapped into a minimal document shell. A live
// fetch also yields a page title for the shell and a preview image URL.
func (svc *saving) resolveArticleHTML(ctx context.Context, item *models.FeedItem) (html, imageURL string) {
	html = strings.TrimSpace(item.ContentHTML)
	title := item.Title

	if html == "" && item.URL != "" {
		resp, err := svc.fetcher.Get(ctx, item.URL)
		if err != nil || !resp.OK() {
			svc.log.Sugar().Infow("Live fetch for save failed", "url", item.URL, "err", err)
		} else {
			html = resp.Body
			if doc, perr := htmlquery.Parse(strings.NewReader(resp.Body)); perr == nil {
				if title == "" {
					title = htmlx.ExtractTitle(doc)
				}
				imageURL = htmlx.ExtractImageURL(doc)
			}
		}
	}

	if html == "" {
		if item.Summary != "" {
			html = "<p>" + htmlx.EscapeHTML(item.Summary) + "</p>"
		} else {
			html = "<p>Saved item.</p>"
		}
	}

	if !htmlx.IsFullDocument(html) {
		if title == "" {
			title = "Saved item"
		}
		html = htmlx.WrapDocument(title, html)
	}
	return html, imageURL
}

func (svc *saving) getSaved(ctx context.Context, ownerID, savedID string) (*models.SavedItem, error) {
	saved := models.SavedItem{}
	tx := svc.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", savedID, ownerID).
		First(&saved)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("saved item")
	} else if err != nil {
		return nil, err
	}
	return &saved, nil
}

// GetSavedContent returns the annotated blob's current bytes together with
// the row's stored version. The version comes from the row, never from
// storage metadata.
func (svc *saving) GetSavedContent(ctx context.Context, ownerID, savedID string) ([]byte, int, error) {
	saved, err := svc.getSaved(ctx, ownerID, savedID)
	if err != nil {
		return nil, 0, err
	}

	data, err := svc.blobs.Get(ctx, saved.AnnotatedKey)
	if err != nil {
		return nil, 0, err
	}
	return data, saved.Version, nil
}

// UpdateSavedContent overwrites the annotated blob under optimistic
// concurrency: a stale expectedVersion is a conflict reporting the current
// version, with blob and version left untouched. On success the version
// advances by exactly 1. The blob write and the version increment are two
// operations with no cross-store transaction; a crash between them leaves
// content ahead of its recorded version.
func (svc *saving) UpdateSavedContent(ctx context.Context, ownerID, savedID, html string, expectedVersion int) (int, error) {
	saved, err := svc.getSaved(ctx, ownerID, savedID)
	if err != nil {
		return 0, err
	}
	if expectedVersion != saved.Version {
		return 0, &apperror.VersionConflict{Current: saved.Version}
	}

	if err := svc.blobs.Put(ctx, saved.AnnotatedKey, []byte(html), htmlContentType); err != nil {
		return 0, err
	}

	next := saved.Version + 1
	tx := svc.db.WithContext(ctx).Model(&models.SavedItem{}).
		Where("id = ? AND user_id = ? AND version = ?", saved.ID, ownerID, saved.Version).
		Update("version", next)
	if tx.Error != nil {
		return 0, tx.Error
	}
	if tx.RowsAffected == 0 {
		// Lost the row-level CAS to a concurrent writer.
		current, err := svc.getSaved(ctx, ownerID, savedID)
		if err != nil {
			return 0, err
		}
		return 0, &apperror.VersionConflict{Current: current.Version}
	}
	return next, nil
}

// DeleteSavedItem removes both blob objects explicitly (blobs have no
// referential integrity with the rows) and then the annotations and the
// row in one transaction.
func (svc *saving) DeleteSavedItem(ctx context.Context, ownerID, savedID string) error {
	saved, err := svc.getSaved(ctx, ownerID, savedID)
	if err != nil {
		return err
	}

	if err := svc.blobs.Delete(ctx, saved.RawKey); err != nil {
		return err
	}
	if err := svc.blobs.Delete(ctx, saved.AnnotatedKey); err != nil {
		return err
	}

	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("saved_item_id = ? AND user_id = ?", saved.ID, ownerID).
			Delete(&models.Annotation{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND user_id = ?", saved.ID, ownerID).
			Delete(&models.SavedItem{}).Error
	})
}

// ListSavedItems pages the owner's saved items newest first, joined with
// item and feed metadata for display. Cursor is the saved_at of the last
// row on the previous page, exclusive.
func (svc *saving) ListSavedItems(ctx context.Context, ownerID string, limit int, cursor *time.Time) (models.SavedItemViews, error) {
	q := svc.db.WithContext(ctx).Table("saved_items").
		Select(`saved_items.*,
			feed_items.title AS item_title,
			feed_items.url AS item_url,
			feed_items.summary AS item_summary,
			feed_items.published_at AS item_published_at,
			feeds.title AS feed_title`).
		Joins("JOIN feed_items ON feed_items.id = saved_items.feed_item_id").
		Joins("JOIN feeds ON feeds.id = feed_items.feed_id").
		Where("saved_items.user_id = ?", ownerID).
		Order("saved_items.saved_at DESC").
		Limit(limit)
	if cursor != nil {
		q = q.Where("saved_items.saved_at < ?", *cursor)
	}

	var views models.SavedItemViews
	tx := q.Scan(&views)
	return views, tx.Error
}
