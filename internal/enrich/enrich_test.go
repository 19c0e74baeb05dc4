package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmbeddingAdapter_Embed(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotReq embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/embeddings", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
			"usage": map[string]int{"total_tokens": 500},
		})
	}))
	defer srv.Close()

	adapter, err := NewEmbeddingAdapter(Config{
		BaseURL:         srv.URL,
		APIKey:          "sk-test",
		Model:           "text-embedding-3-small",
		CostPer1KTokens: 0.02,
	}, zap.NewNop())
	require.NoError(t, err)

	vec, usage, err := adapter.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	require.Equal(t, 1, usage.Requests)
	require.Equal(t, 500, usage.Tokens)
	require.InDelta(t, 0.01, usage.CostUSD, 1e-9)
	require.Equal(t, "Bearer sk-test", gotAuth)
	require.Equal(t, []string{"hello world"}, gotReq.Input)
	require.Equal(t, "text-embedding-3-small", gotReq.Model)
}

func TestEmbeddingAdapter_TruncatesInput(t *testing.T) {
	t.Parallel()

	var gotReq embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1}}},
		})
	}))
	defer srv.Close()

	adapter, err := NewEmbeddingAdapter(Config{
		BaseURL:       srv.URL,
		Model:         "m",
		MaxInputChars: 10,
	}, zap.NewNop())
	require.NoError(t, err)

	_, _, err = adapter.Embed(context.Background(), strings.Repeat("a", 100))
	require.NoError(t, err)
	require.Len(t, gotReq.Input[0], 10)
}

func TestEmbeddingAdapter_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter, err := NewEmbeddingAdapter(Config{BaseURL: srv.URL, Model: "m"}, zap.NewNop())
	require.NoError(t, err)

	_, usage, err := adapter.Embed(context.Background(), "text")
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
	require.Zero(t, usage.Requests)
}

func TestEmbeddingAdapter_EmptyInput(t *testing.T) {
	t.Parallel()

	adapter, err := NewEmbeddingAdapter(Config{Model: "m"}, zap.NewNop())
	require.NoError(t, err)

	_, _, err = adapter.Embed(context.Background(), "   ")
	require.Error(t, err)
}

func TestNewEmbeddingAdapter_RequiresModel(t *testing.T) {
	t.Parallel()

	_, err := NewEmbeddingAdapter(Config{}, zap.NewNop())
	require.Error(t, err)
}

func TestEntityAdapter_DetectEntities(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]string{
					"content": `[{"name":"Acme Corp","type":"ORGANIZATION","salience":0.9}]`,
				},
			}},
			"usage": map[string]int{"total_tokens": 1200},
		})
	}))
	defer srv.Close()

	adapter, err := NewEntityAdapter(Config{
		BaseURL:         srv.URL,
		Model:           "gpt-4o-mini",
		CostPer1KTokens: 0.15,
	}, zap.NewNop())
	require.NoError(t, err)

	entities, usage, err := adapter.DetectEntities(context.Background(), "Acme Corp makes widgets.")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Equal(t, "Acme Corp", entities[0].Name)
	require.Equal(t, "ORGANIZATION", entities[0].Type)
	require.InDelta(t, 0.9, entities[0].Salience, 1e-9)
	require.Equal(t, 1200, usage.Tokens)
	require.InDelta(t, 0.18, usage.CostUSD, 1e-9)
}

func TestEntityAdapter_CodeFencedReply(t *testing.T) {
	t.Parallel()

	entities, err := parseEntityReply("```json\n[{\"name\":\"Berlin\",\"type\":\"LOCATION\",\"salience\":0.5}]\n```")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Equal(t, "Berlin", entities[0].Name)
}

func TestEntityAdapter_MalformedReply(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]string{"content": "Sure! The entities are Acme and Berlin."},
			}},
		})
	}))
	defer srv.Close()

	adapter, err := NewEntityAdapter(Config{BaseURL: srv.URL, Model: "m"}, zap.NewNop())
	require.NoError(t, err)

	_, _, err = adapter.DetectEntities(context.Background(), "text")
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse reply")
}
