package app

import (
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"quill/config"
	"quill/lib/feeds"
)

func NewTransport(lc fx.Lifecycle, log *zap.Logger) http.RoundTripper {
	return http.DefaultTransport
}

func NewFetcher(cfg *config.Config, transport http.RoundTripper) *feeds.Fetcher {
	return feeds.NewFetcher(transport, cfg.FetchTimeout)
}
