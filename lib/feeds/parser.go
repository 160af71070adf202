package feeds

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Songmu/go-httpdate"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"quill/lib/apperror"
	"quill/lib/htmlx"
)

// ParsedItem is one normalized entry. GUID identity is best-effort: a feed
// that supplies neither guid nor link gets a freshly generated id, so such
// items are not stable across refreshes.
type ParsedItem struct {
	GUID        string
	Title       string
	URL         string
	Author      string
	PublishedAt *time.Time
	Summary     string
	ContentHTML string
}

type Parsed struct {
	Title   string
	SiteURL string
	Items   []ParsedItem
}

type Parser struct {
	fetcher *Fetcher
	log     *zap.Logger
}

func NewParser(fetcher *Fetcher, log *zap.Logger) *Parser {
	return &Parser{fetcher: fetcher, log: log}
}

// Parse normalizes an RSS 2.0 or Atom document. It never fails: malformed
// XML, or XML that matches neither feed shape, degrades to a result with
// zero items and the fallback site URL. Callers cannot distinguish that
// from a feed that is simply empty.
func (p *Parser) Parse(doc []byte, fallbackURL string) *Parsed {
	out := &Parsed{SiteURL: fallbackURL}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(doc))
	if err != nil || feed == nil {
		return out
	}

	out.Title = htmlx.CompactWhitespace(feed.Title)
	if feed.Link != "" {
		out.SiteURL = feed.Link
	}
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		out.Items = append(out.Items, mapItem(feed.FeedType, item))
	}
	return out
}

// FetchAndParse composes a fetch with the identifying user-agent and Parse.
// Unlike Parse, transport failures and non-2xx statuses are surfaced as
// retryable upstream errors.
func (p *Parser) FetchAndParse(ctx context.Context, feedURL string) (*Parsed, error) {
	resp, err := p.fetcher.Get(ctx, feedURL)
	if err != nil {
		return nil, apperror.UpstreamFetch(err)
	}
	if !resp.OK() {
		return nil, apperror.UpstreamFetch(fmt.Errorf("feed fetch failed: status %d", resp.StatusCode))
	}
	return p.Parse([]byte(resp.Body), feedURL), nil
}

func mapItem(feedType string, item *gofeed.Item) ParsedItem {
	guid := strings.TrimSpace(item.GUID)
	if guid == "" {
		guid = strings.TrimSpace(item.Link)
	}
	if guid == "" {
		guid = uuid.NewString()
	}

	return ParsedItem{
		GUID:        guid,
		Title:       htmlx.CompactWhitespace(item.Title),
		URL:         strings.TrimSpace(item.Link),
		Author:      authorOf(item),
		PublishedAt: publishedAt(feedType, item),
		Summary:     strings.TrimSpace(item.Description),
		ContentHTML: contentOf(item),
	}
}

// contentOf returns the item's body HTML. gofeed only maps the namespaced
// content:encoded element into Content; a nonstandard bare <content>
// element lands in the custom-tag catch-all instead.
func contentOf(item *gofeed.Item) string {
	if content := strings.TrimSpace(item.Content); content != "" {
		return content
	}
	return strings.TrimSpace(item.Custom["content"])
}

func authorOf(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return htmlx.CompactWhitespace(item.Author.Name)
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return htmlx.CompactWhitespace(a.Name)
		}
	}
	return ""
}

// publishedAt picks the published timestamp per feed dialect: Atom prefers
// <updated> over <published>; RSS prefers <pubDate> and falls back to the
// Dublin Core <dc:date>.
func publishedAt(feedType string, item *gofeed.Item) *time.Time {
	if feedType == "atom" {
		if t := firstTime(item.UpdatedParsed, item.Updated); t != nil {
			return t
		}
		return firstTime(item.PublishedParsed, item.Published)
	}

	if t := firstTime(item.PublishedParsed, item.Published); t != nil {
		return t
	}
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Date) > 0 {
		return firstTime(nil, item.DublinCoreExt.Date[0])
	}
	return nil
}

// firstTime returns the parsed time when available, else parses the raw
// string leniently.
func firstTime(parsed *time.Time, raw string) *time.Time {
	if parsed != nil {
		return parsed
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := httpdate.Str2Time(raw, nil)
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}
