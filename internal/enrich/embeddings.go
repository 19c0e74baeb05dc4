package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sitescope/crawler/internal/pages"
)

// Embedder computes a semantic vector for page text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, pages.AdapterUsage, error)
}

// EmbeddingAdapter talks to an OpenAI-compatible /embeddings endpoint.
type EmbeddingAdapter struct {
	client *http.Client
	cfg    Config
	log    *zap.Logger
}

func NewEmbeddingAdapter(cfg Config, log *zap.Logger) (*EmbeddingAdapter, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	cfg = cfg.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &EmbeddingAdapter{
		client: &http.Client{Timeout: 120 * time.Second},
		cfg:    cfg,
		log:    redactKey(log.Named("embeddings"), cfg),
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed sends one truncated input and returns the vector plus the usage
// sample for the crawl ledger. An empty input is an error: callers decide
// beforehand whether a page has enough text to embed.
func (a *EmbeddingAdapter) Embed(ctx context.Context, text string) ([]float32, pages.AdapterUsage, error) {
	var zero pages.AdapterUsage
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, zero, errors.New("embed: input text is empty")
	}
	text = truncate(text, a.cfg.MaxInputChars)

	payload, err := json.Marshal(embeddingRequest{Model: a.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, zero, fmt.Errorf("embed: marshal request: %w", err)
	}

	body, err := a.post(ctx, a.cfg.BaseURL+"/embeddings", payload)
	if err != nil {
		return nil, zero, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, zero, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(resp.Data) != 1 || len(resp.Data[0].Embedding) == 0 {
		return nil, zero, fmt.Errorf("embed: unexpected embeddings count: %d", len(resp.Data))
	}

	usage := usageFor(resp.Usage.TotalTokens, a.cfg.CostPer1KTokens)
	a.log.Debug("embedding computed",
		zap.Int("dimensions", len(resp.Data[0].Embedding)),
		zap.Int("tokens", usage.Tokens))
	return resp.Data[0].Embedding, usage, nil
}

func (a *EmbeddingAdapter) post(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embed: read response: %w", err)
	}
	return body, nil
}
