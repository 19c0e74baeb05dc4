package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sitescope/crawler/internal/progress"
)

// PrometheusSink exports run and page progress as Prometheus metrics. It
// owns all collectors for runs started/completed/running plus per-site
// page outcome counters.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   *prometheus.GaugeVec
	runDuration   *prometheus.HistogramVec

	pagesProcessed *prometheus.CounterVec
	pageDuration   *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided
// registry; a nil registry means the default one.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitescope_runs_started_total",
			Help: "Runs started, partitioned by kind.",
		}, []string{"kind"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitescope_runs_completed_total",
			Help: "Runs finished, partitioned by kind and result.",
		}, []string{"kind", "result"}),
		runsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitescope_runs_running",
			Help: "Currently running runs, partitioned by kind.",
		}, []string{"kind"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitescope_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"kind", "result"}),
		pagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitescope_pages_processed_total",
			Help: "Page completions, partitioned by site and result.",
		}, []string{"site_id", "result"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitescope_page_duration_seconds",
			Help:    "Per-page processing time.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"site_id"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.pagesProcessed,
		s.pageDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	kind := string(evt.Kind)
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(kind).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.WithLabelValues(kind).Inc()
		}
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	case progress.StageRunCancelled:
		s.finishRun(evt, "cancelled")
	case progress.StagePageDone:
		s.observePage(evt, "success")
	case progress.StagePageError:
		s.observePage(evt, "error")
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	kind := string(evt.Kind)
	s.runsCompleted.WithLabelValues(kind, result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(kind, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.WithLabelValues(kind).Dec()
	}
}

func (s *PrometheusSink) observePage(evt progress.Event, result string) {
	site := evt.SiteID
	if site == "" {
		site = "unknown"
	}
	s.pagesProcessed.WithLabelValues(site, result).Inc()
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) Close(context.Context) error { return nil }

// runTracker dedupes start/finish pairs so the running gauge stays exact
// even when events are replayed.
type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
