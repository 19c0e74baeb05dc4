package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAdaptiveTimeout_GrowsWithAttempt(t *testing.T) {
	t.Parallel()

	p := &AdaptiveTimeout{Base: 10 * time.Second, Step: 5 * time.Second, Max: 30 * time.Second}

	require.Equal(t, 10*time.Second, p.Timeout("example.com", 1))
	require.Equal(t, 15*time.Second, p.Timeout("example.com", 2))
	require.Equal(t, 20*time.Second, p.Timeout("example.com", 3))
	// Attempt 0 is treated as the first try.
	require.Equal(t, 10*time.Second, p.Timeout("example.com", 0))
	// Growth is capped.
	require.Equal(t, 30*time.Second, p.Timeout("example.com", 10))
}

func TestAdaptiveTimeout_SlowHostMultiplier(t *testing.T) {
	t.Parallel()

	p := &AdaptiveTimeout{
		Base:      10 * time.Second,
		Step:      5 * time.Second,
		Max:       5 * time.Minute,
		SlowHosts: map[string]float64{"slow.example.com": 3},
	}

	require.Equal(t, 30*time.Second, p.Timeout("slow.example.com", 1))
	require.Equal(t, 30*time.Second, p.Timeout("shop.slow.example.com", 1))
	require.Equal(t, 10*time.Second, p.Timeout("fast.example.com", 1))
}

func TestFixedTimeout(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Minute, FixedTimeout(time.Minute).Timeout("any", 7))
}

func TestResponseMeta_CaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 301,
			URL:    "https://example.com/final",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://example.com/", "")
	require.Equal(t, 301, status)
	require.Equal(t, "https://example.com/final", url)

	// Non-document responses are ignored.
	meta = newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://example.com/a.png"},
	})
	status, url = meta.snapshotWithFallbacks("https://example.com/", "https://example.com/loc")
	require.Equal(t, 200, status)
	require.Equal(t, "https://example.com/loc", url)

	// With nothing captured at all, fall back to the request URL.
	status, url = newResponseMeta().snapshotWithFallbacks("https://example.com/req", "")
	require.Equal(t, 200, status)
	require.Equal(t, "https://example.com/req", url)
}

func TestBrowser_SessionSlots(t *testing.T) {
	t.Parallel()

	b := NewBrowser(Config{MaxSessions: 1}, nil, zap.NewNop())
	defer b.Close()

	s1, err := b.NewSession(context.Background())
	require.NoError(t, err)

	// Second session must wait for the slot.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.NewSession(ctx)
	require.Error(t, err)

	s1.Close()
	s1.Close() // idempotent

	s2, err := b.NewSession(context.Background())
	require.NoError(t, err)
	s2.Close()
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, defaultUserAgent, cfg.UserAgent)
	require.Equal(t, 2, cfg.MaxSessions)
	require.Equal(t, 500*time.Millisecond, cfg.SettleDelay)
}
