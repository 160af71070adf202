// Package feeds implements feed discovery from arbitrary URLs and tolerant
// RSS/Atom parsing.
package feeds

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
)

// UserAgent identifies us to origin servers on every outbound fetch.
const UserAgent = "quill/0.1"

// Fetcher wraps outbound GETs with the identifying user-agent, redirect
// following and a bounded timeout, so one slow origin can't stall a
// refresh batch.
type Fetcher struct {
	transport http.RoundTripper
	timeout   time.Duration
}

func NewFetcher(transport http.RoundTripper, timeout time.Duration) *Fetcher {
	return &Fetcher{transport: transport, timeout: timeout}
}

// Response is the subset of an HTTP response the discovery and parsing
// paths care about. Non-2xx statuses are not errors here; callers decide.
type Response struct {
	Body        string
	FinalURL    string
	ContentType string
	StatusCode  int
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (f *Fetcher) Get(ctx context.Context, url string) (*Response, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	out := &Response{}
	err := requests.URL(url).
		UserAgent(UserAgent).
		Transport(f.transport).
		AddValidator(nil).
		Handle(func(resp *http.Response) error {
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			out.Body = string(body)
			out.FinalURL = resp.Request.URL.String()
			out.ContentType = mimeType(resp.Header.Get("Content-Type"))
			out.StatusCode = resp.StatusCode
			return nil
		}).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func mimeType(contentType string) string {
	mime, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mime)
}
