// Package refresher runs the scheduled bulk refresh: wake up on a ticker,
// refresh up to a configured number of the stalest feeds, and email digests
// for feeds that picked up new items.
package refresher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"quill/config"
	"quill/lib"
	"quill/lib/models"
	"quill/senders"
)

var mu sync.Mutex

type Refresher struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	svc     *lib.Service
	senders senders.Registry

	alarmClock *alarmClock
	batchLimit int
}

func NewRefresher(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, db *gorm.DB, svc *lib.Service, senders senders.Registry) *Refresher {
	refresher := &Refresher{
		cfg, log, db, svc, senders,
		NewAlarmClock(cfg.RefreshInterval), cfg.RefreshLimit,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go refresher.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop refresher")
			refresher.Stop()
			return nil
		},
	})

	return refresher
}

func (r *Refresher) Start(ctx context.Context) {
	c := r.alarmClock.Start(ctx)

	go func() {
		for evt := range c {
			r.handleEvent(evt)
		}
	}()
}

func (r *Refresher) Stop() {
	mu.Lock()
	defer mu.Unlock()
	r.alarmClock.Stop()
	r.log.Sugar().Info("Refresher stopped")
}

func (r *Refresher) handleEvent(evt Event) {
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	m := r.RunOnce(ctx, r.batchLimit)

	elapsed := time.Now().UTC().Sub(evt.Timestamp())
	if m.TotalSelected == 0 {
		r.log.Sugar().Info("No feeds due for refresh")
	} else {
		r.log.Sugar().Infow("Refresh batch completed",
			"selected", m.TotalSelected, "refreshed", m.Refreshed,
			"new_items", m.NewItems, "errored", m.Errored,
			"elapsed_msecs", int(elapsed.Milliseconds()),
		)
	}
}

// RunOnce performs one bulk refresh of up to limit feeds. Feeds are
// processed sequentially; a failing feed is counted and skipped, never
// aborting the batch.
func (r *Refresher) RunOnce(ctx context.Context, limit int) *Metrics {
	results := r.svc.RefreshDue(ctx, limit)

	m := &Metrics{TotalSelected: len(results)}
	for _, res := range results {
		if res.Err != nil {
			m.Errored++
			continue
		}
		m.Refreshed++
		m.NewItems += res.Inserted
	}

	r.sendDigests(ctx, results)
	return m
}

// sendDigests emails each owner a summary of their feeds that picked up
// new items in this batch. Best-effort: digest failures are logged only.
func (r *Refresher) sendDigests(ctx context.Context, results []lib.RefreshResult) {
	if !r.cfg.DigestEnabled() {
		return
	}

	perOwner := map[string][]senders.DigestFeed{}
	for _, res := range results {
		if res.Err != nil || res.Inserted == 0 {
			continue
		}
		perOwner[res.Feed.OwnerID] = append(perOwner[res.Feed.OwnerID], senders.DigestFeed{
			Title:    res.Feed.Title,
			FeedURL:  res.Feed.FeedURL,
			NewItems: res.Inserted,
		})
	}

	sender := r.senders["email"]
	for ownerID, digestFeeds := range perOwner {
		user := models.User{}
		if err := r.db.WithContext(ctx).Where("id = ?", ownerID).First(&user).Error; err != nil {
			r.log.Sugar().Warnw("Digest skipped, owner lookup failed", "owner_id", ownerID, "err", err)
			continue
		}
		if user.Email == "" {
			continue
		}

		format := &senders.DigestEmailFormat{Feeds: digestFeeds}
		id, err := sender.Send(ctx, format.Subject(), format.Body(), user.Email)
		if err != nil {
			r.log.Sugar().Warnw("Failed to send digest", "recipient", user.Email, "err", err)
		} else {
			r.log.Sugar().Infow("Sent digest to "+user.Email, "message_id", id)
		}
	}
}
