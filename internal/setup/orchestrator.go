// Package setup runs engine setup: discovering a site's URLs and seeding
// the page inventory with them. Discovery comes from the site's sitemap or
// from a manually supplied URL list; either way the inventory ends up with
// one row per unique URL and the run record tracks live progress.
package setup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitescope/crawler/internal/pages"
	"github.com/sitescope/crawler/internal/progress"
	"github.com/sitescope/crawler/internal/scheduler"
	"github.com/sitescope/crawler/internal/sitemap"
	"github.com/sitescope/crawler/internal/store"
)

// ErrTerminalRun is returned when a cancel targets a finished run.
var ErrTerminalRun = errors.New("cannot cancel terminal run")

// Resolver is the sitemap discovery dependency.
type Resolver interface {
	Resolve(ctx context.Context, sitemapURL string, recursive bool, maxDepth int) (*sitemap.Result, error)
}

// Request starts one setup run.
type Request struct {
	SiteID string
	Kind   pages.SetupKind

	// Sitemap discovery.
	SitemapURL string
	Recursive  bool
	MaxDepth   int

	// Manual discovery.
	ManualURLs []string
}

func (r Request) validate() error {
	if r.SiteID == "" {
		return errors.New("site id is required")
	}
	switch r.Kind {
	case pages.SetupKindSitemap:
		if r.SitemapURL == "" {
			return errors.New("sitemap url is required")
		}
	case pages.SetupKindManual:
		if len(r.ManualURLs) == 0 {
			return errors.New("manual setup requires at least one url")
		}
	default:
		return fmt.Errorf("unknown setup kind %q", r.Kind)
	}
	return nil
}

// Config tunes the orchestrator.
type Config struct {
	// BatchSize is how many URLs go into one inventory insert (default 50).
	BatchSize int
	// MaxDepth bounds recursive sitemap resolution when the request does
	// not set its own depth (default 3).
	MaxDepth int
}

// Orchestrator coordinates setup runs end to end.
type Orchestrator struct {
	resolver Resolver
	pageSt   store.PageStore
	runSt    store.SetupRunStore
	siteSt   store.SiteStore
	sched    scheduler.Scheduler
	emitter  progress.Emitter
	log      *zap.Logger
	batch    int
	maxDepth int

	mu        sync.Mutex
	jobs      map[string]scheduler.JobID
	cancelled map[string]struct{}
}

func New(
	resolver Resolver,
	pageSt store.PageStore,
	runSt store.SetupRunStore,
	siteSt store.SiteStore,
	sched scheduler.Scheduler,
	emitter progress.Emitter,
	cfg Config,
	log *zap.Logger,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	return &Orchestrator{
		resolver:  resolver,
		pageSt:    pageSt,
		runSt:     runSt,
		siteSt:    siteSt,
		sched:     sched,
		emitter:   emitter,
		log:       log.Named("setup"),
		batch:     cfg.BatchSize,
		maxDepth:  cfg.MaxDepth,
		jobs:      make(map[string]scheduler.JobID),
		cancelled: make(map[string]struct{}),
	}
}

// StartSetup validates the request, persists a pending run, and schedules
// the discovery work. It returns immediately with the run record.
func (o *Orchestrator) StartSetup(ctx context.Context, req Request) (pages.SetupRun, error) {
	if err := req.validate(); err != nil {
		return pages.SetupRun{}, err
	}
	exists, err := o.siteSt.Exists(ctx, req.SiteID)
	if err != nil {
		return pages.SetupRun{}, fmt.Errorf("check site: %w", err)
	}
	if !exists {
		return pages.SetupRun{}, fmt.Errorf("site %s: %w", req.SiteID, store.ErrNotFound)
	}

	run := pages.SetupRun{
		SiteID: req.SiteID,
		Kind:   req.Kind,
		Status: pages.SetupPending,
	}
	if err := o.runSt.Create(ctx, &run); err != nil {
		return pages.SetupRun{}, fmt.Errorf("create setup run: %w", err)
	}

	runID := run.ID
	jobID, err := o.sched.Schedule("setup:"+runID, func(jobCtx context.Context) {
		o.execute(jobCtx, runID, req)
	})
	if err != nil {
		return pages.SetupRun{}, fmt.Errorf("schedule setup run: %w", err)
	}

	o.mu.Lock()
	o.jobs[runID] = jobID
	o.mu.Unlock()

	o.log.Info("setup run started",
		zap.String("run_id", runID),
		zap.String("site_id", req.SiteID),
		zap.String("kind", string(req.Kind)))
	return run, nil
}

// GetProgress returns the run's current persisted state.
func (o *Orchestrator) GetProgress(ctx context.Context, runID string) (pages.SetupRun, error) {
	return o.runSt.Get(ctx, runID)
}

// Cancel requests cooperative cancellation of a running setup. Terminal
// runs cannot be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	run, err := o.runSt.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return ErrTerminalRun
	}

	o.mu.Lock()
	o.cancelled[runID] = struct{}{}
	jobID, ok := o.jobs[runID]
	o.mu.Unlock()
	if ok {
		o.sched.Cancel(jobID)
		return nil
	}

	// Pending run with no job (scheduler lost it): fail it directly.
	return o.finishFailed(ctx, run, "cancelled by user")
}

func (o *Orchestrator) wasCancelled(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.cancelled[runID]
	return ok
}

func (o *Orchestrator) forget(runID string) {
	o.mu.Lock()
	delete(o.jobs, runID)
	delete(o.cancelled, runID)
	o.mu.Unlock()
}

// execute is the background body of one setup run.
func (o *Orchestrator) execute(ctx context.Context, runID string, req Request) {
	defer o.forget(runID)

	// Store writes must survive job cancellation.
	storeCtx := context.WithoutCancel(ctx)

	run, err := o.runSt.Get(storeCtx, runID)
	if err != nil {
		o.log.Error("setup run vanished", zap.String("run_id", runID), zap.Error(err))
		return
	}

	start := time.Now().UTC()
	run.Status = pages.SetupInProgress
	run.StartedAt = &start
	if err := o.runSt.Update(storeCtx, run); err != nil {
		o.log.Error("mark setup in progress", zap.String("run_id", runID), zap.Error(err))
		return
	}
	o.emitter.Emit(progress.Event{
		RunID: runID, Kind: progress.RunSetup, Stage: progress.StageRunStart,
		TS: start, SiteID: req.SiteID,
	})

	urls, failed, err := o.discover(ctx, req)
	if err != nil {
		o.finishAfterError(storeCtx, run, err)
		return
	}

	run.TotalURLs = len(urls)
	run.Failed = failed
	if err := o.runSt.Update(storeCtx, run); err != nil {
		o.log.Error("update setup totals", zap.String("run_id", runID), zap.Error(err))
	}

	if err := o.seedInventory(ctx, storeCtx, &run, urls); err != nil {
		o.finishAfterError(storeCtx, run, err)
		return
	}

	now := time.Now().UTC()
	run.Status = pages.SetupCompleted
	run.Progress = 100
	run.CurrentURL = ""
	run.FinishedAt = &now
	if err := o.runSt.Update(storeCtx, run); err != nil {
		o.log.Error("mark setup completed", zap.String("run_id", runID), zap.Error(err))
		return
	}

	if err := o.siteSt.MarkSetupCompleted(storeCtx, run.SiteID, run.Succeeded); err != nil {
		o.log.Error("mark site setup completed", zap.String("site_id", run.SiteID), zap.Error(err))
	}

	o.emitter.Emit(progress.Event{
		RunID: runID, Kind: progress.RunSetup, Stage: progress.StageRunDone,
		TS: now, SiteID: run.SiteID, Processed: run.Succeeded, Total: run.TotalURLs,
		Dur: now.Sub(start),
	})
	o.log.Info("setup run completed",
		zap.String("run_id", runID),
		zap.Int("urls", run.TotalURLs),
		zap.Int("inserted", run.Succeeded),
		zap.Int("skipped", run.Skipped))
}

// discover produces the URL list for the run. Invalid URLs from either
// source are dropped and counted as failures rather than aborting the run.
func (o *Orchestrator) discover(ctx context.Context, req Request) (urls []string, failed int, err error) {
	raw := req.ManualURLs
	if req.Kind == pages.SetupKindSitemap {
		depth := req.MaxDepth
		if depth <= 0 {
			depth = o.maxDepth
		}
		result, err := o.resolver.Resolve(ctx, req.SitemapURL, req.Recursive, depth)
		if err != nil {
			return nil, 0, err
		}
		raw = result.URLs
	}

	for _, u := range raw {
		normalized, err := pages.ValidateURL(u)
		if err != nil {
			o.log.Warn("skipping invalid url", zap.String("url", u), zap.Error(err))
			failed++
			continue
		}
		urls = append(urls, normalized)
	}
	if len(urls) == 0 {
		return nil, failed, errors.New("no valid urls discovered")
	}
	return urls, failed, nil
}

// seedInventory inserts the URLs in batches, updating live progress after
// each batch and honoring cancellation between batches.
func (o *Orchestrator) seedInventory(ctx, storeCtx context.Context, run *pages.SetupRun, urls []string) error {
	processed := 0
	for start := 0; start < len(urls); start += o.batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + o.batch
		if end > len(urls) {
			end = len(urls)
		}
		chunk := urls[start:end]

		inserted, skipped, err := o.pageSt.BulkInsertSkipExisting(storeCtx, run.SiteID, chunk)
		if err != nil {
			return fmt.Errorf("insert inventory batch: %w", err)
		}
		run.Succeeded += inserted
		run.Skipped += skipped
		processed += len(chunk)
		run.Progress = processed * 100 / len(urls)
		run.CurrentURL = chunk[len(chunk)-1]
		if err := o.runSt.Update(storeCtx, *run); err != nil {
			o.log.Error("update setup progress", zap.String("run_id", run.ID), zap.Error(err))
		}
		o.emitter.Emit(progress.Event{
			RunID: run.ID, Kind: progress.RunSetup, Stage: progress.StagePageDone,
			TS: time.Now().UTC(), SiteID: run.SiteID, URL: run.CurrentURL,
			Processed: processed, Total: len(urls),
		})
	}
	return nil
}

// finishAfterError decides between the cancelled and failed outcomes.
func (o *Orchestrator) finishAfterError(storeCtx context.Context, run pages.SetupRun, cause error) {
	if errors.Is(cause, context.Canceled) || o.wasCancelled(run.ID) {
		if err := o.finishFailed(storeCtx, run, "cancelled by user"); err != nil {
			o.log.Error("mark setup cancelled", zap.String("run_id", run.ID), zap.Error(err))
		}
		o.emitter.Emit(progress.Event{
			RunID: run.ID, Kind: progress.RunSetup, Stage: progress.StageRunCancelled,
			TS: time.Now().UTC(), SiteID: run.SiteID,
		})
		return
	}

	msg := cause.Error()
	if resolveErr, ok := sitemap.AsResolveError(cause); ok {
		msg = fmt.Sprintf("%s: %s", resolveErr.Error(), resolveErr.Suggestion)
	}
	if err := o.finishFailed(storeCtx, run, msg); err != nil {
		o.log.Error("mark setup failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	o.emitter.Emit(progress.Event{
		RunID: run.ID, Kind: progress.RunSetup, Stage: progress.StageRunError,
		TS: time.Now().UTC(), SiteID: run.SiteID, Note: msg,
	})
}

func (o *Orchestrator) finishFailed(ctx context.Context, run pages.SetupRun, msg string) error {
	if !run.Status.CanTransition(pages.SetupFailed) {
		return &pages.ErrIllegalTransition{From: string(run.Status), To: string(pages.SetupFailed)}
	}
	now := time.Now().UTC()
	run.Status = pages.SetupFailed
	run.ErrorText = msg
	run.FinishedAt = &now
	return o.runSt.Update(ctx, run)
}
