package feeds

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Candidate is a feed URL discovered from an arbitrary page.
type Candidate struct {
	FeedURL string `json:"feedUrl"`
	Title   string `json:"title,omitempty"`
	SiteURL string `json:"siteUrl,omitempty"`
}

var feedMIMETypes = map[string]bool{
	"application/rss+xml":  true,
	"application/atom+xml": true,
	"application/xml":      true,
	"text/xml":             true,
}

var feedURLHints = []string{".rss", ".xml", "/feed", "atom", "rss"}

// Discovery is deliberately regex-based rather than a DOM parse: it is a
// best-effort heuristic and the contract hides the scanning strategy from
// callers.
var (
	linkTagRe  = regexp.MustCompile(`(?i)<link\s+[^>]*>`)
	titleTagRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	whitespace = regexp.MustCompile(`\s+`)

	attrRes = map[string]*regexp.Regexp{}
)

func init() {
	for _, name := range []string{"rel", "type", "href", "title"} {
		attrRes[name] = regexp.MustCompile(
			fmt.Sprintf(`(?i)%s\s*=\s*("([^"]*)"|'([^']*)'|([^\s>]+))`, name))
	}
}

type Discoverer struct {
	fetcher *Fetcher
	log     *zap.Logger
}

func NewDiscoverer(fetcher *Fetcher, log *zap.Logger) *Discoverer {
	return &Discoverer{fetcher: fetcher, log: log}
}

// Discover fetches the URL and returns candidate feed URLs in document
// order. It fails closed: unreachable hosts, non-2xx responses and
// unparseable inputs all yield an empty list, never an error. Callers use
// the first candidate.
func (d *Discoverer) Discover(ctx context.Context, raw string) []Candidate {
	target := normalizeURL(raw)
	if target == "" {
		return nil
	}

	resp, err := d.fetcher.Get(ctx, target)
	if err != nil {
		d.log.Sugar().Infow("Discovery fetch failed", "url", target, "err", err)
		return nil
	}
	if !resp.OK() {
		return nil
	}

	if isLikelyFeed(resp.ContentType, resp.Body, target) {
		return []Candidate{{
			FeedURL: resp.FinalURL,
			Title:   extractTitleTag(resp.Body),
		}}
	}

	return discoverFromHTML(resp.Body, target)
}

// isLikelyFeed classifies a response as a feed document. Content sniffing
// for an <rss or <feed marker is the deciding fallback when neither the
// declared content type nor the URL gives it away.
func isLikelyFeed(contentType, body, url string) bool {
	if feedMIMETypes[contentType] {
		return true
	}
	lower := strings.ToLower(url)
	for _, hint := range feedURLHints {
		if strings.Contains(lower, hint) {
			return strings.Contains(body, "<rss") || strings.Contains(body, "<feed")
		}
	}
	return strings.Contains(body, "<rss") || strings.Contains(body, "<feed")
}

func discoverFromHTML(html, baseURL string) []Candidate {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var candidates []Candidate
	for _, tag := range linkTagRe.FindAllString(html, -1) {
		rel := attrValue(tag, "rel")
		typ := attrValue(tag, "type")
		if rel == "" || typ == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(rel), "alternate") {
			continue
		}
		typ = strings.ToLower(typ)
		if !strings.Contains(typ, "rss") && !strings.Contains(typ, "atom") {
			continue
		}

		href := attrValue(tag, "href")
		if href == "" {
			continue
		}
		resolved, err := base.Parse(href)
		if err != nil {
			continue
		}

		candidates = append(candidates, Candidate{
			FeedURL: resolved.String(),
			Title:   attrValue(tag, "title"),
			SiteURL: baseURL,
		})
	}
	return candidates
}

func attrValue(tag, name string) string {
	m := attrRes[name].FindStringSubmatch(tag)
	if m == nil {
		return ""
	}
	for _, group := range m[2:] {
		if group != "" {
			return group
		}
	}
	return ""
}

// extractTitleTag pulls the first <title> text with a naive regex; feed
// documents aren't parsed properly at discovery time.
func extractTitleTag(body string) string {
	m := titleTagRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(m[1], " "))
}

func normalizeURL(input string) string {
	if input == "" {
		return ""
	}
	if !strings.Contains(input, "://") {
		input = "https://" + input
	}
	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.String()
}
