package refresher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"quill/config"
	"quill/lib"
	"quill/lib/blob"
	"quill/lib/feeds"
	"quill/lib/models"
	"quill/senders"
)

const feedFixture = `<?xml version="1.0"?><rss version="2.0"><channel>
  <title>Example Feed</title>
  <link>https://example.com</link>
  <item><guid>1</guid><title>One</title><link>https://example.com/1</link></item>
  <item><guid>2</guid><title>Two</title><link>https://example.com/2</link></item>
</channel></rss>`

func newTestRefresher(t *testing.T) (*Refresher, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Feed{}, &models.FeedItem{}, &models.SavedItem{},
		&models.Annotation{}, &models.Tag{}, &models.TagLink{},
	))

	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{RefreshLimit: 10, RefreshInterval: time.Hour}
	log := zap.NewNop()
	fetcher := feeds.NewFetcher(http.DefaultTransport, 5*time.Second)
	svc := lib.NewService(
		nil, cfg, log, db, blobs,
		fetcher, feeds.NewDiscoverer(fetcher, log), feeds.NewParser(fetcher, log),
	)

	lc := fxtest.NewLifecycle(t)
	refr := NewRefresher(lc, cfg, log, db, svc, senders.Registry{})
	return refr, db
}

func TestRunOnceCountsOutcomes(t *testing.T) {
	refr, db := newTestRefresher(t)

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feedFixture))
	}))
	t.Cleanup(good.Close)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(bad.Close)

	user := models.User{AuthSubject: "refr-1", Email: "r@example.com"}
	require.NoError(t, db.Create(&user).Error)
	for _, url := range []string{good.URL + "/a.xml", good.URL + "/b.xml", bad.URL + "/c.xml"} {
		require.NoError(t, db.Create(&models.Feed{OwnerID: user.ID, FeedURL: url}).Error)
	}

	m := refr.RunOnce(context.Background(), 10)
	assert.Equal(t, 3, m.TotalSelected)
	assert.Equal(t, 2, m.Refreshed)
	assert.Equal(t, 4, m.NewItems)
	assert.Equal(t, 1, m.Errored)
}

func TestRunOnceHonorsLimit(t *testing.T) {
	refr, db := newTestRefresher(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feedFixture))
	}))
	t.Cleanup(srv.Close)

	user := models.User{AuthSubject: "refr-2"}
	require.NoError(t, db.Create(&user).Error)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.Feed{
			OwnerID: user.ID,
			FeedURL: srv.URL + "/" + string(rune('a'+i)) + ".xml",
		}).Error)
	}

	m := refr.RunOnce(context.Background(), 2)
	assert.Equal(t, 2, m.TotalSelected)
}

func TestMetricsAdd(t *testing.T) {
	total := &Metrics{}
	total.Add(&Metrics{TotalSelected: 2, Refreshed: 1, NewItems: 5, Errored: 1})
	total.Add(&Metrics{TotalSelected: 1, Refreshed: 1, NewItems: 2})

	assert.Equal(t, 3, total.TotalSelected)
	assert.Equal(t, 2, total.Refreshed)
	assert.Equal(t, 7, total.NewItems)
	assert.Equal(t, 1, total.Errored)
}

func TestAlarmClockStopsWithoutConsumer(t *testing.T) {
	clock := NewAlarmClock(time.Hour)
	c := clock.Start(context.Background())

	// Stop while the producer may still be blocked delivering the startup
	// wakeup. The channel must drain and close without panicking.
	clock.Stop()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-c:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("alarm clock did not shut down")
		}
	}
}

func TestAlarmClockFiresImmediately(t *testing.T) {
	clock := NewAlarmClock(time.Hour)
	c := clock.Start(context.Background())
	t.Cleanup(clock.Stop)

	select {
	case evt := <-c:
		assert.WithinDuration(t, time.Now(), evt.Timestamp(), time.Minute)
	case <-time.After(5 * time.Second):
		t.Fatal("expected an immediate wakeup event")
	}
}
