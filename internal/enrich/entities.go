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

// EntityDetector pulls salient named entities out of page text.
type EntityDetector interface {
	DetectEntities(ctx context.Context, text string) ([]pages.Entity, pages.AdapterUsage, error)
}

// EntityAdapter uses an OpenAI-compatible chat completion endpoint with a
// fixed instruction that forces a JSON array response.
type EntityAdapter struct {
	client *http.Client
	cfg    Config
	log    *zap.Logger
}

const entityPrompt = `Extract the salient named entities from the text below.
Respond with only a JSON array, no prose. Each element must have the keys
"name" (string), "type" (one of PERSON, ORGANIZATION, LOCATION, PRODUCT,
EVENT, OTHER) and "salience" (number between 0 and 1).`

func NewEntityAdapter(cfg Config, log *zap.Logger) (*EntityAdapter, error) {
	if cfg.Model == "" {
		return nil, errors.New("entity model is required")
	}
	cfg = cfg.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &EntityAdapter{
		client: &http.Client{Timeout: 120 * time.Second},
		cfg:    cfg,
		log:    redactKey(log.Named("entities"), cfg),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// DetectEntities sends one truncated input and parses the model's JSON
// array reply. A reply wrapped in a markdown code fence is tolerated.
func (a *EntityAdapter) DetectEntities(ctx context.Context, text string) ([]pages.Entity, pages.AdapterUsage, error) {
	var zero pages.AdapterUsage
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, zero, errors.New("entities: input text is empty")
	}
	text = truncate(text, a.cfg.MaxInputChars)

	payload, err := json.Marshal(chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: entityPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return nil, zero, fmt.Errorf("entities: marshal request: %w", err)
	}

	body, err := a.post(ctx, a.cfg.BaseURL+"/chat/completions", payload)
	if err != nil {
		return nil, zero, err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, zero, fmt.Errorf("entities: decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, zero, errors.New("entities: response has no choices")
	}

	entities, err := parseEntityReply(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, zero, err
	}

	usage := usageFor(resp.Usage.TotalTokens, a.cfg.CostPer1KTokens)
	a.log.Debug("entities detected",
		zap.Int("count", len(entities)),
		zap.Int("tokens", usage.Tokens))
	return entities, usage, nil
}

func parseEntityReply(content string) ([]pages.Entity, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var entities []pages.Entity
	if err := json.Unmarshal([]byte(content), &entities); err != nil {
		return nil, fmt.Errorf("entities: parse reply: %w", err)
	}
	return entities, nil
}

func (a *EntityAdapter) post(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("entities: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("entities: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("entities: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("entities: read response: %w", err)
	}
	return body, nil
}
