// Package config handles application configuration from environment variables.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// DefaultFeedURLs is the feed rotation used when FEED_URLS is not set.
var DefaultFeedURLs = []string{
	"https://www.theverge.com/rss/index.xml",
	"https://www.windowslatest.com/feed/",
	"https://9to5google.com/feed/",
	"https://9to5mac.com/feed/",
	"https://www.androidcentral.com/feed",
	"https://arstechnica.com/feed/",
	"https://uk.pcmag.com/rss",
	"https://www.bleepingcomputer.com/feed/",
	"https://www.androidauthority.com/news/feed/",
	"https://feeds.feedburner.com/Techcrunch",
}

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN, required"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL, default=https://api.openai.com/v1"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`

	DatabasePath string `env:"DATABASE_PATH, default=./data/bot.db"`
	LogLevel     string `env:"LOG_LEVEL, default=info"`
	LogFormat    string `env:"LOG_FORMAT, default=text"`

	// Webhook mode is used when WebhookURL is set, long polling otherwise.
	ListenAddr string `env:"LISTEN_ADDR, default=:8080"`
	WebhookURL string `env:"WEBHOOK_URL"`

	FeedURLs     []string      `env:"FEED_URLS"`
	PostInterval time.Duration `env:"POST_INTERVAL, default=1h"`
	Autostart    bool          `env:"AUTOSTART, default=false"`
}

// Load reads configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads configuration using the given lookuper.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if len(cfg.FeedURLs) == 0 {
		cfg.FeedURLs = append([]string(nil), DefaultFeedURLs...)
	}
	if cfg.PostInterval <= 0 {
		return nil, fmt.Errorf("POST_INTERVAL must be positive, got %s", cfg.PostInterval)
	}

	return &cfg, nil
}
