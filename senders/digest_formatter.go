package senders

import (
	"fmt"
	"strings"

	"quill/lib/htmlx"
)

// DigestFeed is one line of a new-items digest email.
type DigestFeed struct {
	Title    string
	FeedURL  string
	NewItems int
}

type DigestEmailFormat struct {
	Feeds []DigestFeed
}

func (ef *DigestEmailFormat) Subject() string {
	total := 0
	for _, f := range ef.Feeds {
		total += f.NewItems
	}
	return fmt.Sprintf("Quill: %d new items in your feeds", total)
}

func (ef *DigestEmailFormat) Body() string {
	var b strings.Builder
	b.WriteString("<h3>New items since your last digest:</h3><ul>")
	for _, f := range ef.Feeds {
		title := f.Title
		if title == "" {
			title = f.FeedURL
		}
		fmt.Fprintf(&b, `<li><a href="%s">%s</a>: %d new</li>`,
			f.FeedURL, htmlx.EscapeHTML(title), f.NewItems)
	}
	b.WriteString("</ul>")
	return b.String()
}
