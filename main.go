package main

import (
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quill/app"
	"quill/config"
	"quill/lib"
	"quill/lib/feeds"
	"quill/lib/refresher"
	"quill/senders"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(senders.NewSenderRegistry),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewBlobStore),
		fx.Provide(app.NewTransport),
		fx.Provide(app.NewFetcher),
		fx.Provide(feeds.NewDiscoverer),
		fx.Provide(feeds.NewParser),
		fx.Provide(lib.NewService),
		fx.Provide(refresher.NewRefresher),
		fx.Provide(app.NewAPI),

		fx.Invoke(func(*http.Server) {}),
	).Run()
}
