package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User owns every other entity. Rows are created lazily on the first
// authenticated request and never deleted here.
type User struct {
	ID          string `gorm:"primaryKey"`
	AuthSubject string `gorm:"uniqueIndex"`
	Email       string
	Name        string
	CreatedAt   time.Time

	Feeds      []Feed      `gorm:"foreignKey:OwnerID"`
	SavedItems []SavedItem `gorm:"foreignKey:UserID"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Feed is one subscription. FeedURL is unique per owner; the index is the
// authoritative guard against duplicate subscribes racing each other.
type Feed struct {
	ID            string `gorm:"primaryKey"`
	OwnerID       string `gorm:"index:idx_owner_feed_url,unique"`
	FeedURL       string `gorm:"index:idx_owner_feed_url,unique"`
	SiteURL       string
	Title         string
	LastFetchedAt sql.NullTime
	FetchStatus   string
	CreatedAt     time.Time
}

func (f *Feed) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

type Feeds []Feed

// FeedItem is one entry from a feed. (FeedID, GUID) is unique and inserts
// are insert-or-ignore: content is immutable once stored, even if the
// upstream feed later edits the entry under the same GUID. FetchedAt is
// ingestion time, not publication time; it is the pagination cursor for
// item listings.
type FeedItem struct {
	ID          string `gorm:"primaryKey"`
	FeedID      string `gorm:"index:idx_feed_guid,unique"`
	GUID        string `gorm:"index:idx_feed_guid,unique"`
	Title       string
	URL         string
	Author      string
	PublishedAt sql.NullTime
	Summary     string
	ContentHTML string
	FetchedAt   time.Time `gorm:"index"`
}

func (fi *FeedItem) BeforeCreate(tx *gorm.DB) error {
	if fi.ID == "" {
		fi.ID = uuid.NewString()
	}
	return nil
}

type FeedItems []FeedItem

// SavedItem is a user's durable snapshot of one FeedItem. The raw blob is
// the immutable original; the annotated blob is the one mutated by content
// updates, guarded by Version compare-and-swap.
type SavedItem struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"index:idx_user_feed_item,unique"`
	FeedItemID   string `gorm:"index:idx_user_feed_item,unique"`
	SavedAt      time.Time
	RawKey       string
	AnnotatedKey string
	ImageURL     string
	ReadingState string
	Version      int
}

func (s *SavedItem) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

type SavedItems []SavedItem

// SavedItemView joins a SavedItem with its item and feed metadata for
// listings.
type SavedItemView struct {
	SavedItem `gorm:"embedded"`
	ItemTitle       string
	ItemURL         string
	ItemSummary     string
	ItemPublishedAt sql.NullTime
	FeedTitle       string
}

type SavedItemViews []SavedItemView

// Annotation anchors a highlight or comment within a SavedItem's annotated
// content. Anchor is an opaque, already-serialized locator; nothing here
// validates that it still resolves against the current HTML.
type Annotation struct {
	ID          string `gorm:"primaryKey"`
	UserID      string
	SavedItemID string `gorm:"index"`
	Type        string
	Anchor      string
	Text        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a *Annotation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

type Annotations []Annotation

// Tag names are unique per user.
type Tag struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index:idx_user_tag_name,unique"`
	Name      string `gorm:"index:idx_user_tag_name,unique"`
	CreatedAt time.Time
}

func (t *Tag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

type Tags []Tag

// TagLink attaches a Tag to either a Feed or a SavedItem. The polymorphic
// (TargetType, TargetID) pair carries no foreign key; TargetType is
// validated against the closed TagTarget set at the service boundary.
type TagLink struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"index:idx_tag_link,unique"`
	TargetType string `gorm:"index:idx_tag_link,unique"`
	TargetID   string `gorm:"index:idx_tag_link,unique"`
	TagID      string `gorm:"index:idx_tag_link,unique"`
	CreatedAt  time.Time
}

func (l *TagLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

type TagLinks []TagLink
