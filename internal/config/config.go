// Package config handles application configuration from an optional YAML
// file and environment variables. Environment values override the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variables before they are merged,
// so ADWATCH_DATABASE_PATH sets database_path.
const envPrefix = "ADWATCH_"

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string `koanf:"telegram_bot_token"`
	OperatorChatID   int64  `koanf:"operator_chat_id"`
	DatabasePath     string `koanf:"database_path"`
	SiteBaseURL      string `koanf:"site_base_url"`
	BatchTimeoutSec  int    `koanf:"batch_timeout_sec"`
	RetentionDays    int    `koanf:"retention_days"`
	EnrichWorkers    int    `koanf:"enrich_workers"`
	LogLevel         string `koanf:"log_level"`
}

// BatchTimeout returns the per-run deadline.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutSec) * time.Second
}

// Retention returns the listing retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Load reads configuration from the YAML file at path (skipped when the file
// does not exist) and then from ADWATCH_-prefixed environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Config{
		DatabasePath:    "./data/adwatch.db",
		SiteBaseURL:     "https://www.bazaraki.com",
		BatchTimeoutSec: 600,
		RetentionDays:   14,
		EnrichWorkers:   4,
		LogLevel:        "info",
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("telegram_bot_token is required")
	}
	if cfg.RetentionDays <= 0 {
		return nil, fmt.Errorf("retention_days must be positive, got %d", cfg.RetentionDays)
	}
	if cfg.BatchTimeoutSec <= 0 {
		return nil, fmt.Errorf("batch_timeout_sec must be positive, got %d", cfg.BatchTimeoutSec)
	}

	return &cfg, nil
}
