// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig    `mapstructure:"server"`
	Auth        AuthConfig      `mapstructure:"auth"`
	DB          DBConfig        `mapstructure:"db"`
	Sitemap     SitemapConfig   `mapstructure:"sitemap"`
	Setup       SetupConfig     `mapstructure:"setup"`
	Fetcher     FetcherConfig   `mapstructure:"fetcher"`
	Crawl       CrawlConfig     `mapstructure:"crawl"`
	Embedding   AdapterConfig   `mapstructure:"embedding"`
	Entities    AdapterConfig   `mapstructure:"entities"`
	Screenshots ScreenshotsConf `mapstructure:"screenshots"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the Postgres database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// SitemapConfig governs sitemap resolution retries and recursion.
type SitemapConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	BackoffSeconds int `mapstructure:"backoff_seconds"`
	MaxDepth       int `mapstructure:"max_depth"`
}

// SetupConfig tunes the discovery phase.
type SetupConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// FetcherConfig configures the headless browser pool.
type FetcherConfig struct {
	UserAgent          string             `mapstructure:"user_agent"`
	MaxSessions        int                `mapstructure:"max_sessions"`
	SettleDelayMs      int                `mapstructure:"settle_delay_ms"`
	TimeoutSeconds     int                `mapstructure:"timeout_seconds"`
	TimeoutStepSeconds int                `mapstructure:"timeout_step_seconds"`
	TimeoutMaxSeconds  int                `mapstructure:"timeout_max_seconds"`
	SlowHosts          map[string]float64 `mapstructure:"slow_hosts"`
}

// CrawlConfig tunes the extraction phase.
type CrawlConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// AdapterConfig points one enrichment adapter at its REST backend.
type AdapterConfig struct {
	BaseURL         string  `mapstructure:"base_url"`
	APIKey          string  `mapstructure:"api_key"`
	Model           string  `mapstructure:"model"`
	MaxInputChars   int     `mapstructure:"max_input_chars"`
	CostPer1KTokens float64 `mapstructure:"cost_per_1k_tokens"`
}

// Enabled reports whether the adapter is configured at all. An adapter
// without a base URL is skipped rather than failing runs.
func (a AdapterConfig) Enabled() bool {
	return a.BaseURL != ""
}

// ScreenshotsConf sets where rendered screenshots land on disk.
type ScreenshotsConf struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	// fetcher.slow_hosts is keyed by hostname, so the key delimiter must
	// not be ".". Hence the "::" delimiter throughout.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetEnvPrefix("SITESCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server::port", 8080)
	v.SetDefault("server::timeout_seconds", 60)
	v.SetDefault("db::max_conns", 8)
	v.SetDefault("sitemap::max_retries", 3)
	v.SetDefault("sitemap::backoff_seconds", 2)
	v.SetDefault("sitemap::max_depth", 3)
	v.SetDefault("setup::batch_size", 50)
	v.SetDefault("fetcher::max_sessions", 2)
	v.SetDefault("fetcher::settle_delay_ms", 500)
	v.SetDefault("fetcher::timeout_seconds", 30)
	v.SetDefault("fetcher::timeout_step_seconds", 15)
	v.SetDefault("fetcher::timeout_max_seconds", 120)
	v.SetDefault("crawl::rate_per_second", 1.0)
	v.SetDefault("embedding::max_input_chars", 24000)
	v.SetDefault("entities::max_input_chars", 24000)
	v.SetDefault("screenshots::dir", "screenshots")
	v.SetDefault("logging::development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.TimeoutSeconds <= 0 {
		return fmt.Errorf("server.timeout_seconds must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Setup.BatchSize <= 0 {
		return fmt.Errorf("setup.batch_size must be > 0")
	}
	if c.Fetcher.MaxSessions <= 0 {
		return fmt.Errorf("fetcher.max_sessions must be > 0")
	}
	if c.Crawl.RatePerSecond < 0 {
		return fmt.Errorf("crawl.rate_per_second must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Embedding.Enabled() && c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model must be set when embedding.base_url is set")
	}
	if c.Entities.Enabled() && c.Entities.Model == "" {
		return fmt.Errorf("entities.model must be set when entities.base_url is set")
	}
	return nil
}

// ServerTimeout converts the configured request timeout into a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// SettleDelay converts the configured settle delay into a duration.
func (c FetcherConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}
