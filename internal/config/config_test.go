package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  timeout_seconds: 45
auth:
  enabled: true
  api_key: secret
db:
  dsn: postgres://localhost/sitescope
sitemap:
  max_retries: 5
  backoff_seconds: 1
  max_depth: 2
setup:
  batch_size: 25
fetcher:
  user_agent: sitescope-agent
  max_sessions: 4
  settle_delay_ms: 250
  slow_hosts:
    shopify.com: 2.0
crawl:
  rate_per_second: 0.5
embedding:
  base_url: http://llm.internal:8000/v1
  api_key: token
  model: nomic-embed-text
  cost_per_1k_tokens: 0.02
screenshots:
  dir: /var/lib/sitescope/shots
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Setup.BatchSize != 25 {
		t.Fatalf("expected batch size override to apply, got %d", cfg.Setup.BatchSize)
	}
	if cfg.Fetcher.SlowHosts["shopify.com"] != 2.0 {
		t.Fatalf("expected slow host factor to be loaded: %+v", cfg.Fetcher.SlowHosts)
	}
	if !cfg.Embedding.Enabled() || cfg.Embedding.Model != "nomic-embed-text" {
		t.Fatalf("expected embedding adapter config: %+v", cfg.Embedding)
	}
	if cfg.Entities.Enabled() {
		t.Fatalf("expected entities adapter to stay disabled without base_url")
	}
	if got := cfg.ServerTimeout(); got != 45*time.Second {
		t.Fatalf("expected server timeout 45s, got %v", got)
	}
	if got := cfg.Fetcher.SettleDelay(); got != 250*time.Millisecond {
		t.Fatalf("expected settle delay 250ms, got %v", got)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("db:\n  dsn: postgres://localhost/sitescope\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Setup.BatchSize != 50 {
		t.Fatalf("expected default batch size 50, got %d", cfg.Setup.BatchSize)
	}
	if cfg.Fetcher.MaxSessions != 2 {
		t.Fatalf("expected default max sessions 2, got %d", cfg.Fetcher.MaxSessions)
	}
	if cfg.Embedding.MaxInputChars != 24000 {
		t.Fatalf("expected default max input chars, got %d", cfg.Embedding.MaxInputChars)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080, TimeoutSeconds: 60},
		DB:      DBConfig{DSN: "postgres://localhost/sitescope"},
		Setup:   SetupConfig{BatchSize: 50},
		Fetcher: FetcherConfig{MaxSessions: 2},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing dsn",
			cfg: func() Config {
				c := base
				c.DB.DSN = ""
				return c
			}(),
			want: "db.dsn",
		},
		{
			name: "invalid batch size",
			cfg: func() Config {
				c := base
				c.Setup.BatchSize = 0
				return c
			}(),
			want: "setup.batch_size",
		},
		{
			name: "invalid max sessions",
			cfg: func() Config {
				c := base
				c.Fetcher.MaxSessions = 0
				return c
			}(),
			want: "fetcher.max_sessions",
		},
		{
			name: "negative crawl rate",
			cfg: func() Config {
				c := base
				c.Crawl.RatePerSecond = -1
				return c
			}(),
			want: "crawl.rate_per_second",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "embedding missing model",
			cfg: func() Config {
				c := base
				c.Embedding.BaseURL = "http://llm.internal:8000/v1"
				return c
			}(),
			want: "embedding.model",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
