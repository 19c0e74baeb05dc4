// Package enrich wraps the external AI services that augment extracted
// pages: one adapter for text embeddings and one for named entity
// detection. Both speak the OpenAI-compatible REST dialect so any
// conforming endpoint can back them. Adapters report per-call usage so
// the crawl ledger can account for spend.
package enrich

import (
	"go.uber.org/zap"

	"github.com/sitescope/crawler/internal/pages"
)

// Config carries the connection settings for one adapter endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// MaxInputChars caps how much page text is sent per request. Text
	// beyond the cap is truncated, never split into extra requests.
	MaxInputChars int

	// CostPer1KTokens converts reported token usage into dollars.
	CostPer1KTokens float64
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = 24000
	}
	return c
}

// truncate enforces the adapter input budget on a whole-rune boundary.
func truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}

// usageFor converts a token count into a ledger entry for one request.
func usageFor(tokens int, costPer1K float64) pages.AdapterUsage {
	return pages.AdapterUsage{
		Requests: 1,
		Tokens:   tokens,
		CostUSD:  float64(tokens) / 1000 * costPer1K,
	}
}

func redactKey(log *zap.Logger, cfg Config) *zap.Logger {
	return log.With(
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
	)
}
