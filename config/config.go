package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env        string `env:"ENVIRONMENT"`
	ServerPort int    `env:"PORT" envDefault:"8080"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"quill.sqlite"`
	BlobRoot     string `env:"BLOB_ROOT" envDefault:"blobs"`

	// RefreshLimit bounds each scheduled batch; RefreshInterval is how
	// often the refresher wakes up. FetchTimeout bounds every outbound
	// fetch so one slow origin can't stall a batch.
	RefreshLimit    int           `env:"REFRESH_LIMIT" envDefault:"50"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"15m"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"20s"`

	// BasicAuthCreds is comma-separated user:pass pairs. When empty, auth
	// is disabled and every request acts as DevUserEmail.
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`
	DevUserEmail   string `env:"DEV_USER_EMAIL" envDefault:"dev@localhost"`

	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		SenderFrom  string `env:"MAILGUN_SENDER_FROM"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) *Config {
	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		log.Sugar().Panic(err)
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		// Misconfigured credentials are a startup failure, not something
		// to discover per-request.
		cfg.log.Sugar().Panic(err)
	}
	cfg.creds = creds

	return cfg
}

// GetCreds returns the basic-auth credential map; empty means auth is
// disabled.
func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

// DigestEnabled reports whether the mailgun sender is configured for
// new-item digests.
func (cfg *Config) DigestEnabled() bool {
	return cfg.Mailgun.Domain != "" && cfg.Mailgun.APIKey != ""
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, nil
	}

	result := make(map[string]string)
	for _, cred := range strings.Split(cfg.BasicAuthCreds, ",") {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
