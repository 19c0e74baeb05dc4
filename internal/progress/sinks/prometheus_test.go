package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sitescope/crawler/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{RunID: "r1", Kind: progress.RunCrawl, Stage: progress.StageRunStart, TS: now, SiteID: "s1"},
		{
			RunID: "r1", Kind: progress.RunCrawl, Stage: progress.StagePageDone,
			TS: now, SiteID: "s1", URL: "https://example.com/a",
			Processed: 1, Total: 2, Dur: 300 * time.Millisecond,
		},
		{
			RunID: "r1", Kind: progress.RunCrawl, Stage: progress.StagePageError,
			TS: now, SiteID: "s1", URL: "https://example.com/b",
			Processed: 2, Total: 2, Note: "no content",
		},
		{
			RunID: "r1", Kind: progress.RunCrawl, Stage: progress.StageRunDone,
			TS: now.Add(10 * time.Second), SiteID: "s1", Dur: 10 * time.Second,
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("crawl")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("crawl", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning.WithLabelValues("crawl")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesProcessed.WithLabelValues("s1", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesProcessed.WithLabelValues("s1", "error")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.pageDuration, "sitescope_page_duration_seconds"))
}

func TestPrometheusSinkCancelledRun(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r2", Kind: progress.RunSetup, Stage: progress.StageRunStart, TS: now},
		{RunID: "r2", Kind: progress.RunSetup, Stage: progress.StageRunCancelled, TS: now},
	}))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("setup", "cancelled")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning.WithLabelValues("setup")))
}

func TestPrometheusSinkReplayedFinishKeepsGaugeExact(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	done := progress.Event{RunID: "r3", Kind: progress.RunCrawl, Stage: progress.StageRunDone, TS: now}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r3", Kind: progress.RunCrawl, Stage: progress.StageRunStart, TS: now},
		done,
		done,
	}))

	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning.WithLabelValues("crawl")))
}
