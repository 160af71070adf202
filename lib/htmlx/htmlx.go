// Package htmlx holds the small HTML helpers shared by the save pipeline:
// escaping, minimal document wrapping, and metadata extraction from live
// pages.
package htmlx

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var whitespace = regexp.MustCompile(`\s+`)

// EscapeHTML escapes the five characters that matter when embedding text
// into an HTML document. Replacement order is significant: & first, so the
// other entities aren't double-escaped.
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// IsFullDocument reports whether s already looks like a complete HTML
// document rather than a fragment.
func IsFullDocument(s string) bool {
	return strings.Contains(strings.ToLower(s), "<html")
}

// WrapDocument wraps an HTML fragment in a minimal document shell. The
// title is escaped; the fragment is trusted as-is.
func WrapDocument(title, fragment string) string {
	return fmt.Sprintf(
		`<!doctype html><html><head><meta charset="utf-8"><title>%s</title></head><body><article>%s</article></body></html>`,
		EscapeHTML(title), fragment,
	)
}

// ExtractTitle returns the text of the document's <title>, compacted.
func ExtractTitle(n *html.Node) string {
	return SelectText(n, "/html/head/title")
}

// ExtractImageURL returns the page's preview image, preferring Opengraph
// over Twitter card metadata.
func ExtractImageURL(n *html.Node) string {
	if url := metaContent(n, "//meta[@property = 'og:image']"); url != "" {
		return url
	}
	return metaContent(n, "//meta[@name = 'twitter:image']")
}

func metaContent(n *html.Node, xpath string) string {
	elem := htmlquery.FindOne(n, xpath)
	if elem != nil {
		for _, attr := range elem.Attr {
			if attr.Key == "content" {
				return attr.Val
			}
		}
	}
	return ""
}

// SelectText returns the compacted text content of the first node matching
// the xpath.
func SelectText(n *html.Node, xpath string) string {
	node := htmlquery.FindOne(n, xpath)
	return digForText(node)
}

func digForText(n *html.Node) string {
	if n == nil {
		return ""
	}
	buf := new(bytes.Buffer)
	dig(n, buf)
	return CompactWhitespace(buf.String())
}

func dig(n *html.Node, buf *bytes.Buffer) {
	if n == nil {
		return
	}
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		dig(c, buf)
	}
}

// CompactWhitespace collapses runs of whitespace to single spaces and
// trims the result.
func CompactWhitespace(s string) string {
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.Trim(s, " ")
	return s
}
