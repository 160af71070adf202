package lib

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"quill/config"
	"quill/lib/blob"
	"quill/lib/feeds"
	"quill/lib/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Feed{},
		&models.FeedItem{},
		&models.SavedItem{},
		&models.Annotation{},
		&models.Tag{},
		&models.TagLink{},
	))

	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	log := zap.NewNop()
	fetcher := feeds.NewFetcher(http.DefaultTransport, 5*time.Second)
	return NewService(
		nil, &config.Config{}, log, db, blobs,
		fetcher, feeds.NewDiscoverer(fetcher, log), feeds.NewParser(fetcher, log),
	)
}

func newTestUser(t *testing.T, svc *Service, subject string) *models.User {
	t.Helper()
	user, err := svc.ResolveUser(context.Background(), subject, subject+"@example.com", "")
	require.NoError(t, err)
	return user
}

// seedFeedItem plants a feed and one item directly, bypassing ingestion.
func seedFeedItem(t *testing.T, svc *Service, ownerID string, item models.FeedItem) (models.Feed, models.FeedItem) {
	t.Helper()

	feed := models.Feed{OwnerID: ownerID, FeedURL: "https://example.com/feeds/" + uuid.NewString(), Title: "Seeded"}
	require.NoError(t, svc.db.Create(&feed).Error)

	item.FeedID = feed.ID
	if item.FetchedAt.IsZero() {
		item.FetchedAt = time.Now().UTC()
	}
	require.NoError(t, svc.db.Create(&item).Error)
	return feed, item
}

func TestResolveUserCreatesOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.ResolveUser(ctx, "auth0|abc", "a@example.com", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	again, err := svc.ResolveUser(ctx, "auth0|abc", "a@example.com", "Alice")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	var count int64
	require.NoError(t, svc.db.Model(&models.User{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestResolveUserRefreshesIdentity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.ResolveUser(ctx, "auth0|abc", "old@example.com", "Old")
	require.NoError(t, err)

	_, err = svc.ResolveUser(ctx, "auth0|abc", "new@example.com", "New")
	require.NoError(t, err)

	stored := models.User{}
	require.NoError(t, svc.db.Where("id = ?", user.ID).First(&stored).Error)
	require.Equal(t, "new@example.com", stored.Email)
	require.Equal(t, "New", stored.Name)
}
