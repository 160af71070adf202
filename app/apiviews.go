package app

import (
	"database/sql"
	"time"

	"quill/lib/models"
)

type FeedView struct {
	ID            string  `json:"id"`
	FeedURL       string  `json:"feedUrl"`
	SiteURL       string  `json:"siteUrl"`
	Title         string  `json:"title"`
	LastFetchedAt *string `json:"lastFetchedAt"`
	FetchStatus   string  `json:"fetchStatus"`
	CreatedAt     string  `json:"createdAt"`
}

func (view FeedView) From(entity models.Feed) FeedView {
	return FeedView{
		ID:            entity.ID,
		FeedURL:       entity.FeedURL,
		SiteURL:       entity.SiteURL,
		Title:         entity.Title,
		LastFetchedAt: isoformat(entity.LastFetchedAt),
		FetchStatus:   entity.FetchStatus,
		CreatedAt:     entity.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type FeedItemView struct {
	ID          string  `json:"id"`
	FeedID      string  `json:"feedId"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Author      string  `json:"author"`
	PublishedAt *string `json:"publishedAt"`
	Summary     string  `json:"summary"`
	FetchedAt   string  `json:"fetchedAt"`
}

func (view FeedItemView) From(entity models.FeedItem) FeedItemView {
	return FeedItemView{
		ID:          entity.ID,
		FeedID:      entity.FeedID,
		Title:       entity.Title,
		URL:         entity.URL,
		Author:      entity.Author,
		PublishedAt: isoformat(entity.PublishedAt),
		Summary:     entity.Summary,
		FetchedAt:   entity.FetchedAt.UTC().Format(time.RFC3339),
	}
}

type SavedItemApiView struct {
	ID           string `json:"id"`
	FeedItemID   string `json:"feedItemId"`
	SavedAt      string `json:"savedAt"`
	ImageURL     string `json:"imageUrl"`
	ReadingState string `json:"readingState"`
	Version      int    `json:"version"`
}

func (view SavedItemApiView) From(entity models.SavedItem) SavedItemApiView {
	return SavedItemApiView{
		ID:           entity.ID,
		FeedItemID:   entity.FeedItemID,
		SavedAt:      entity.SavedAt.UTC().Format(time.RFC3339),
		ImageURL:     entity.ImageURL,
		ReadingState: entity.ReadingState,
		Version:      entity.Version,
	}
}

type SavedItemListView struct {
	SavedItemApiView
	ItemTitle       string  `json:"itemTitle"`
	ItemURL         string  `json:"itemUrl"`
	ItemSummary     string  `json:"itemSummary"`
	ItemPublishedAt *string `json:"itemPublishedAt"`
	FeedTitle       string  `json:"feedTitle"`
}

func (view SavedItemListView) From(entity models.SavedItemView) SavedItemListView {
	return SavedItemListView{
		SavedItemApiView: SavedItemApiView{}.From(entity.SavedItem),
		ItemTitle:        entity.ItemTitle,
		ItemURL:          entity.ItemURL,
		ItemSummary:      entity.ItemSummary,
		ItemPublishedAt:  isoformat(entity.ItemPublishedAt),
		FeedTitle:        entity.FeedTitle,
	}
}

type AnnotationView struct {
	ID          string `json:"id"`
	SavedItemID string `json:"savedItemId"`
	Type        string `json:"type"`
	Anchor      string `json:"anchor"`
	Text        string `json:"text"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func (view AnnotationView) From(entity models.Annotation) AnnotationView {
	return AnnotationView{
		ID:          entity.ID,
		SavedItemID: entity.SavedItemID,
		Type:        entity.Type,
		Anchor:      entity.Anchor,
		Text:        entity.Text,
		CreatedAt:   entity.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   entity.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type TagView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (view TagView) From(entity models.Tag) TagView {
	return TagView{ID: entity.ID, Name: entity.Name}
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t sql.NullTime) *string {
	if t.Valid {
		return isoformatTime(t.Time)
	}
	return nil
}

func isoformatTime(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339)
	return &s
}
