// Package senders delivers notifications to users. The only platform today
// is email via Mailgun, used for the post-refresh new-items digest.
package senders

import (
	"context"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"quill/config"
)

type Sender interface {
	Send(ctx context.Context, subject, body, recipient string) (string, error)
}

type Registry map[string]Sender

func NewSenderRegistry(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}
	return map[string]Sender{
		"email": &mailgunSender{base},
	}
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}
