// Package crawlrun executes extraction runs: rendering each target page,
// extracting its SEO signals, enriching it with embeddings and entities,
// and persisting the result. A run processes its pages sequentially under
// a per-site rate limit and survives individual page failures.
package crawlrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sitescope/crawler/internal/enrich"
	"github.com/sitescope/crawler/internal/fetcher"
	"github.com/sitescope/crawler/internal/pages"
	"github.com/sitescope/crawler/internal/progress"
	"github.com/sitescope/crawler/internal/scheduler"
	"github.com/sitescope/crawler/internal/store"
)

// ErrTerminalRun is returned when a cancel targets a finished run.
var ErrTerminalRun = errors.New("cannot cancel terminal run")

// PageSession is one run's browser handle.
type PageSession interface {
	Fetch(ctx context.Context, pageURL string, opts fetcher.Options) (*fetcher.Page, error)
	Close()
}

// SessionFactory opens browser sessions. Each run gets exactly one.
type SessionFactory interface {
	NewSession(ctx context.Context) (PageSession, error)
}

// NewBrowserFactory adapts the concrete chromedp browser to the factory
// interface.
func NewBrowserFactory(b *fetcher.Browser) SessionFactory {
	return browserFactory{b}
}

type browserFactory struct{ b *fetcher.Browser }

func (f browserFactory) NewSession(ctx context.Context) (PageSession, error) {
	return f.b.NewSession(ctx)
}

// Request starts one crawl run.
type Request struct {
	SiteID string
	Kind   pages.CrawlKind

	// PageIDs selects the subset for selective runs.
	PageIDs []string
	// ManualURLs are crawled after being added to the inventory.
	ManualURLs []string

	// Screenshots captures a rendered screenshot per page.
	Screenshots bool
	// RatePerSecond throttles page fetches; zero means unlimited.
	RatePerSecond float64
}

func (r Request) validate() error {
	if r.SiteID == "" {
		return errors.New("site id is required")
	}
	switch r.Kind {
	case pages.CrawlKindFull:
	case pages.CrawlKindSelective:
		if len(r.PageIDs) == 0 {
			return errors.New("selective crawl requires page ids")
		}
	case pages.CrawlKindManual:
		if len(r.ManualURLs) == 0 {
			return errors.New("manual crawl requires urls")
		}
	default:
		return fmt.Errorf("unknown crawl kind %q", r.Kind)
	}
	return nil
}

// Orchestrator coordinates crawl runs end to end.
type Orchestrator struct {
	sessions SessionFactory
	embedder enrich.Embedder
	entities enrich.EntityDetector
	shots    ScreenshotStore
	pageSt   store.PageStore
	runSt    store.CrawlRunStore
	siteSt   store.SiteStore
	sched    scheduler.Scheduler
	emitter  progress.Emitter
	log      *zap.Logger

	mu        sync.Mutex
	jobs      map[string]scheduler.JobID
	cancelled map[string]struct{}
}

// Deps bundles the orchestrator's collaborators. Embedder, EntityDetector
// and ScreenshotStore may be nil; the corresponding step is then skipped.
type Deps struct {
	Sessions    SessionFactory
	Embedder    enrich.Embedder
	Entities    enrich.EntityDetector
	Screenshots ScreenshotStore
	PageStore   store.PageStore
	RunStore    store.CrawlRunStore
	SiteStore   store.SiteStore
	Scheduler   scheduler.Scheduler
	Emitter     progress.Emitter
}

func New(deps Deps, log *zap.Logger) *Orchestrator {
	emitter := deps.Emitter
	if emitter == nil {
		emitter = progress.Nop{}
	}
	return &Orchestrator{
		sessions:  deps.Sessions,
		embedder:  deps.Embedder,
		entities:  deps.Entities,
		shots:     deps.Screenshots,
		pageSt:    deps.PageStore,
		runSt:     deps.RunStore,
		siteSt:    deps.SiteStore,
		sched:     deps.Scheduler,
		emitter:   emitter,
		log:       log.Named("crawlrun"),
		jobs:      make(map[string]scheduler.JobID),
		cancelled: make(map[string]struct{}),
	}
}

// StartRun validates the request, resolves the target pages, persists a
// pending run, and schedules the crawl. It returns immediately.
func (o *Orchestrator) StartRun(ctx context.Context, req Request) (pages.CrawlRun, error) {
	if err := req.validate(); err != nil {
		return pages.CrawlRun{}, err
	}
	exists, err := o.siteSt.Exists(ctx, req.SiteID)
	if err != nil {
		return pages.CrawlRun{}, fmt.Errorf("check site: %w", err)
	}
	if !exists {
		return pages.CrawlRun{}, fmt.Errorf("site %s: %w", req.SiteID, store.ErrNotFound)
	}

	targets, err := o.resolveTargets(ctx, req)
	if err != nil {
		return pages.CrawlRun{}, err
	}
	if len(targets) == 0 {
		return pages.CrawlRun{}, errors.New("no pages to crawl")
	}

	run := pages.CrawlRun{
		SiteID:     req.SiteID,
		Kind:       req.Kind,
		Status:     pages.CrawlPending,
		TotalPages: len(targets),
	}
	if err := o.runSt.Create(ctx, &run); err != nil {
		return pages.CrawlRun{}, fmt.Errorf("create crawl run: %w", err)
	}

	runID := run.ID
	jobID, err := o.sched.Schedule("crawl:"+runID, func(jobCtx context.Context) {
		o.execute(jobCtx, runID, req, targets)
	})
	if err != nil {
		return pages.CrawlRun{}, fmt.Errorf("schedule crawl run: %w", err)
	}

	o.mu.Lock()
	o.jobs[runID] = jobID
	o.mu.Unlock()

	o.log.Info("crawl run started",
		zap.String("run_id", runID),
		zap.String("site_id", req.SiteID),
		zap.String("kind", string(req.Kind)),
		zap.Int("pages", len(targets)))
	return run, nil
}

// GetProgress returns the run's current persisted state.
func (o *Orchestrator) GetProgress(ctx context.Context, runID string) (pages.CrawlRun, error) {
	return o.runSt.Get(ctx, runID)
}

// Cancel requests cooperative cancellation. Terminal runs are rejected.
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
	return o.finishFailed(ctx, run, "cancelled by user")
}

// resolveTargets maps the request onto concrete inventory rows. Manual
// URLs are first added to the inventory so every crawled page has a row.
func (o *Orchestrator) resolveTargets(ctx context.Context, req Request) ([]pages.PageRecord, error) {
	switch req.Kind {
	case pages.CrawlKindFull:
		records, err := o.pageSt.ListBySite(ctx, req.SiteID, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("list site pages: %w", err)
		}
		return records, nil
	case pages.CrawlKindSelective:
		records, err := o.pageSt.ListByIDs(ctx, req.PageIDs)
		if err != nil {
			return nil, fmt.Errorf("list pages by id: %w", err)
		}
		for _, rec := range records {
			if rec.SiteID != req.SiteID {
				return nil, fmt.Errorf("page %s does not belong to site %s", rec.ID, req.SiteID)
			}
		}
		if len(records) != len(req.PageIDs) {
			return nil, fmt.Errorf("requested %d pages, found %d", len(req.PageIDs), len(records))
		}
		return records, nil
	default: // manual
		var records []pages.PageRecord
		for _, raw := range req.ManualURLs {
			normalized, err := pages.ValidateURL(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid url %q: %w", raw, err)
			}
			rec, err := o.pageSt.Create(ctx, req.SiteID, normalized)
			if err != nil {
				return nil, fmt.Errorf("add manual url: %w", err)
			}
			records = append(records, rec)
		}
		return records, nil
	}
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

// execute is the background body of one crawl run.
func (o *Orchestrator) execute(ctx context.Context, runID string, req Request, targets []pages.PageRecord) {
	defer o.forget(runID)
	storeCtx := context.WithoutCancel(ctx)

	run, err := o.runSt.Get(storeCtx, runID)
	if err != nil {
		o.log.Error("crawl run vanished", zap.String("run_id", runID), zap.Error(err))
		return
	}

	start := time.Now().UTC()
	run.Status = pages.CrawlInProgress
	run.StartedAt = &start
	if err := o.runSt.Update(storeCtx, run); err != nil {
		o.log.Error("mark crawl in progress", zap.String("run_id", runID), zap.Error(err))
		return
	}
	o.emitter.Emit(progress.Event{
		RunID: runID, Kind: progress.RunCrawl, Stage: progress.StageRunStart,
		TS: start, SiteID: run.SiteID,
	})

	session, err := o.sessions.NewSession(ctx)
	if err != nil {
		o.finishAfterError(storeCtx, run, start, fmt.Errorf("open browser session: %w", err))
		return
	}
	defer session.Close()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if req.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(req.RatePerSecond), 1)
	}

	for i, target := range targets {
		if err := limiter.Wait(ctx); err != nil {
			o.finishAfterError(storeCtx, run, start, err)
			return
		}

		run.CurrentURL = target.URL
		pageStart := time.Now()
		outcome := o.processPage(ctx, session, req, target)
		dur := time.Since(pageStart)

		if outcome.err != nil {
			if ctx.Err() != nil {
				o.finishAfterError(storeCtx, run, start, ctx.Err())
				return
			}
			run.Failed++
			run.ErrorLog = append(run.ErrorLog, pages.CrawlError{
				URL:       target.URL,
				Error:     outcome.err.Error(),
				Timestamp: time.Now().UTC(),
			})
			o.emitter.Emit(progress.Event{
				RunID: runID, Kind: progress.RunCrawl, Stage: progress.StagePageError,
				TS: time.Now().UTC(), SiteID: run.SiteID, URL: target.URL,
				Processed: i + 1, Total: run.TotalPages, Note: outcome.err.Error(), Dur: dur,
			})
			o.log.Warn("page crawl failed",
				zap.String("run_id", runID),
				zap.String("url", target.URL),
				zap.Error(outcome.err))
		} else {
			run.Succeeded++
			run.Ledger.Embedding.Add(outcome.embedUsage)
			run.Ledger.Entities.Add(outcome.entityUsage)
			o.emitter.Emit(progress.Event{
				RunID: runID, Kind: progress.RunCrawl, Stage: progress.StagePageDone,
				TS: time.Now().UTC(), SiteID: run.SiteID, URL: target.URL,
				Processed: i + 1, Total: run.TotalPages, Dur: dur,
			})
		}

		run.Progress = (i + 1) * 100 / run.TotalPages
		if err := o.runSt.Update(storeCtx, run); err != nil {
			o.log.Error("update crawl progress", zap.String("run_id", runID), zap.Error(err))
		}
	}

	o.finishCompleted(storeCtx, run, start)
}

type pageOutcome struct {
	err         error
	embedUsage  pages.AdapterUsage
	entityUsage pages.AdapterUsage
}

// processPage renders, extracts, enriches, and persists one page. Adapter
// failures degrade the record rather than failing the page; only fetch,
// empty content, and persistence problems count as page failures.
func (o *Orchestrator) processPage(ctx context.Context, session PageSession, req Request, target pages.PageRecord) pageOutcome {
	page, err := session.Fetch(ctx, target.URL, fetcher.Options{
		Attempt:    target.RetryCount + 1,
		Screenshot: req.Screenshots && o.shots != nil,
	})
	if err != nil {
		err = fmt.Errorf("fetch: %w", err)
		o.markPageFailed(ctx, target, err.Error())
		return pageOutcome{err: err}
	}
	if page.HTML == "" {
		o.markPageFailed(ctx, target, "no content")
		return pageOutcome{err: errors.New("no content")}
	}

	rec := applySignals(target, page)

	var out pageOutcome
	if o.embedder != nil && rec.BodyText != "" {
		vec, usage, err := o.embedder.Embed(ctx, rec.BodyText)
		if err != nil {
			o.log.Warn("embedding failed", zap.String("url", target.URL), zap.Error(err))
		} else {
			rec.Embedding = vec
			out.embedUsage = usage
		}
	}
	if o.entities != nil && rec.BodyText != "" {
		ents, usage, err := o.entities.DetectEntities(ctx, rec.BodyText)
		if err != nil {
			o.log.Warn("entity detection failed", zap.String("url", target.URL), zap.Error(err))
		} else {
			rec.Entities = ents
			out.entityUsage = usage
		}
	}
	if len(page.Screenshot) > 0 && o.shots != nil {
		ref, err := o.shots.Save(ctx, rec.SiteID, rec.ID, page.Screenshot)
		if err != nil {
			o.log.Warn("screenshot save failed", zap.String("url", target.URL), zap.Error(err))
		} else {
			rec.Screenshot = ref
		}
	}

	if err := o.pageSt.Update(context.WithoutCancel(ctx), rec); err != nil {
		return pageOutcome{err: fmt.Errorf("persist page: %w", err)}
	}
	return out
}

// markPageFailed records a failed crawl attempt on the inventory row so the
// failure survives past the run's error log.
func (o *Orchestrator) markPageFailed(ctx context.Context, rec pages.PageRecord, reason string) {
	now := time.Now().UTC()
	rec.IsFailed = true
	rec.FailureReason = reason
	rec.RetryCount++
	rec.LastCheckedAt = &now
	if err := o.pageSt.Update(context.WithoutCancel(ctx), rec); err != nil {
		o.log.Error("persist page failure", zap.String("url", rec.URL), zap.Error(err))
	}
}

func (o *Orchestrator) finishCompleted(storeCtx context.Context, run pages.CrawlRun, start time.Time) {
	now := time.Now().UTC()
	elapsed := now.Sub(start)
	run.Status = pages.CrawlCompleted
	run.CurrentURL = ""
	run.Progress = 100
	run.FinishedAt = &now
	run.ElapsedMs = elapsed.Milliseconds()
	if mins := elapsed.Minutes(); mins > 0 {
		run.PagesPerMin = float64(run.Succeeded+run.Failed) / mins
	}
	if run.Failed > 0 {
		run.StatusMessage = fmt.Sprintf("completed with %d of %d pages failed", run.Failed, run.TotalPages)
	}
	if err := o.runSt.Update(storeCtx, run); err != nil {
		o.log.Error("mark crawl completed", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	o.emitter.Emit(progress.Event{
		RunID: run.ID, Kind: progress.RunCrawl, Stage: progress.StageRunDone,
		TS: now, SiteID: run.SiteID, Processed: run.Succeeded + run.Failed,
		Total: run.TotalPages, Dur: elapsed,
	})
	o.log.Info("crawl run completed",
		zap.String("run_id", run.ID),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Int64("elapsed_ms", run.ElapsedMs))
}

func (o *Orchestrator) finishAfterError(storeCtx context.Context, run pages.CrawlRun, start time.Time, cause error) {
	now := time.Now().UTC()
	run.ElapsedMs = now.Sub(start).Milliseconds()

	if errors.Is(cause, context.Canceled) || o.wasCancelled(run.ID) {
		if err := o.finishFailed(storeCtx, run, "cancelled by user"); err != nil {
			o.log.Error("mark crawl cancelled", zap.String("run_id", run.ID), zap.Error(err))
		}
		o.emitter.Emit(progress.Event{
			RunID: run.ID, Kind: progress.RunCrawl, Stage: progress.StageRunCancelled,
			TS: now, SiteID: run.SiteID, Dur: now.Sub(start),
		})
		return
	}

	if err := o.finishFailed(storeCtx, run, cause.Error()); err != nil {
		o.log.Error("mark crawl failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	o.emitter.Emit(progress.Event{
		RunID: run.ID, Kind: progress.RunCrawl, Stage: progress.StageRunError,
		TS: now, SiteID: run.SiteID, Note: cause.Error(), Dur: now.Sub(start),
	})
}

func (o *Orchestrator) finishFailed(ctx context.Context, run pages.CrawlRun, msg string) error {
	if !run.Status.CanTransition(pages.CrawlFailed) {
		return &pages.ErrIllegalTransition{From: string(run.Status), To: string(pages.CrawlFailed)}
	}
	now := time.Now().UTC()
	run.Status = pages.CrawlFailed
	run.StatusMessage = msg
	run.FinishedAt = &now
	return o.runSt.Update(ctx, run)
}
