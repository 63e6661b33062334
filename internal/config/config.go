package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	// Backend
	APIBaseURL          string        `env:"API_BASE_URL"`
	DjangoURL           string        `env:"DJANGO_URL"`
	ExpoPublicDjangoURL string        `env:"EXPO_PUBLIC_DJANGO_URL"`
	HTTPTimeout         time.Duration `env:"HTTP_TIMEOUT" envDefault:"0s"`

	// Session
	UseRefreshCookie bool          `env:"USE_REFRESH_COOKIE" envDefault:"false"`
	RefreshThreshold time.Duration `env:"REFRESH_THRESHOLD" envDefault:"30s"`
	RefreshTimeout   time.Duration `env:"REFRESH_TIMEOUT" envDefault:"15s"`
	TokenFilePath    string        `env:"TOKEN_FILE_PATH" envDefault:"data/tokens.json"`
	TokenKey         string        `env:"TOKEN_KEY" envDefault:"auth_tokens_v1"`

	// Storage
	InteractionLogPath string `env:"INTERACTION_LOG_PATH" envDefault:"logs/interactions.jsonl"`

	// Telegram front-end
	TelegramBotToken   string        `env:"TELEGRAM_BOT_TOKEN"`
	AdminUserID        int64         `env:"ADMIN_USER"`
	AllowedUsers       []int64       `env:"ALLOWED_USERS" envSeparator:":"`
	SummaryCron        string        `env:"SUMMARY_CRON" envDefault:"0 7 * * *"`
	StreamEditInterval time.Duration `env:"STREAM_EDIT_INTERVAL" envDefault:"700ms"`

	// MCP server; empty address means stdio
	MCPHTTPAddr string `env:"MCP_HTTP_ADDR"`

	// Development backend
	MockAPIAddr   string `env:"MOCK_API_ADDR" envDefault:":8081"`
	MockAPISecret string `env:"MOCK_API_SECRET" envDefault:"dev-secret"`
}

// Load parses the environment. The backend base URL is resolved from
// API_BASE_URL, then DJANGO_URL, then EXPO_PUBLIC_DJANGO_URL.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.RefreshThreshold < 0 {
		return nil, fmt.Errorf("REFRESH_THRESHOLD must not be negative: %s", cfg.RefreshThreshold)
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

// BaseURL returns the backend prefix for every relative API path, without a
// trailing slash. Empty means relative paths are used as-is.
func (c *Config) BaseURL() string {
	for _, u := range []string{c.APIBaseURL, c.DjangoURL, c.ExpoPublicDjangoURL} {
		if u = strings.TrimSpace(u); u != "" {
			return strings.TrimRight(u, "/")
		}
	}
	return ""
}

// IsAllowed reports whether a Telegram user may use the bot. An empty
// allowlist admits everyone.
func (c *Config) IsAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 || userID == c.AdminUserID {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
