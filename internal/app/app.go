// Package app initializes and holds the long-lived services: the database
// pool, the browser allocator, the progress hub, the run orchestrators, and
// the HTTP server. It is built once at startup and torn down in reverse
// order on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sitescope/crawler/internal/api"
	"github.com/sitescope/crawler/internal/config"
	"github.com/sitescope/crawler/internal/crawlrun"
	"github.com/sitescope/crawler/internal/enrich"
	"github.com/sitescope/crawler/internal/fetcher"
	"github.com/sitescope/crawler/internal/progress"
	"github.com/sitescope/crawler/internal/progress/sinks"
	"github.com/sitescope/crawler/internal/scheduler"
	"github.com/sitescope/crawler/internal/setup"
	"github.com/sitescope/crawler/internal/sitemap"
	"github.com/sitescope/crawler/internal/store/postgres"
)

// App holds the shared, long-lived services for the crawler.
type App struct {
	cfg     config.Config
	log     *zap.Logger
	pool    *pgxpool.Pool
	browser *fetcher.Browser
	hub     *progress.Hub
	sched   *scheduler.Async
	server  *http.Server
}

// New wires every service from configuration. It fails fast: a bad DSN or
// adapter config surfaces here, not on the first run.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	pageStore := postgres.NewPageStore(pool)
	setupRuns := postgres.NewSetupRunStore(pool)
	crawlRuns := postgres.NewCrawlRunStore(pool)
	siteStore := postgres.NewSiteStore(pool)

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init metrics sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{}, log, sinks.NewLogSink(log), promSink)

	resolver := sitemap.NewResolver(
		sitemap.NewCollyFetcher(sitemap.FetchConfig{UserAgent: cfg.Fetcher.UserAgent}),
		sitemap.Config{
			MaxRetries: cfg.Sitemap.MaxRetries,
			Backoff:    float64(cfg.Sitemap.BackoffSeconds),
			MaxDepth:   cfg.Sitemap.MaxDepth,
		},
		log,
	)

	sched := scheduler.NewAsync(log)

	setupOrc := setup.New(resolver, pageStore, setupRuns, siteStore, sched, hub,
		setup.Config{BatchSize: cfg.Setup.BatchSize, MaxDepth: cfg.Sitemap.MaxDepth}, log)

	browser := fetcher.NewBrowser(
		fetcher.Config{
			UserAgent:   cfg.Fetcher.UserAgent,
			MaxSessions: cfg.Fetcher.MaxSessions,
			SettleDelay: cfg.Fetcher.SettleDelay(),
		},
		&fetcher.AdaptiveTimeout{
			Base:      time.Duration(cfg.Fetcher.TimeoutSeconds) * time.Second,
			Step:      time.Duration(cfg.Fetcher.TimeoutStepSeconds) * time.Second,
			Max:       time.Duration(cfg.Fetcher.TimeoutMaxSeconds) * time.Second,
			SlowHosts: cfg.Fetcher.SlowHosts,
		},
		log,
	)

	crawlDeps := crawlrun.Deps{
		Sessions:  crawlrun.NewBrowserFactory(browser),
		PageStore: pageStore,
		RunStore:  crawlRuns,
		SiteStore: siteStore,
		Scheduler: sched,
		Emitter:   hub,
	}
	if cfg.Embedding.Enabled() {
		embedder, err := enrich.NewEmbeddingAdapter(adapterConfig(cfg.Embedding), log)
		if err != nil {
			browser.Close()
			pool.Close()
			return nil, fmt.Errorf("init embedding adapter: %w", err)
		}
		crawlDeps.Embedder = embedder
	}
	if cfg.Entities.Enabled() {
		detector, err := enrich.NewEntityAdapter(adapterConfig(cfg.Entities), log)
		if err != nil {
			browser.Close()
			pool.Close()
			return nil, fmt.Errorf("init entity adapter: %w", err)
		}
		crawlDeps.Entities = detector
	}
	if cfg.Screenshots.Dir != "" {
		shots, err := crawlrun.NewDirScreenshotStore(cfg.Screenshots.Dir)
		if err != nil {
			browser.Close()
			pool.Close()
			return nil, fmt.Errorf("init screenshot store: %w", err)
		}
		crawlDeps.Screenshots = shots
	}
	crawlOrc := crawlrun.New(crawlDeps, log)

	srv := api.NewServer(api.Deps{
		Setup:     setupOrc,
		Crawl:     crawlOrc,
		Sitemaps:  resolver,
		PageStore: pageStore,
		SetupRuns: setupRuns,
		CrawlRuns: crawlRuns,
		Pinger:    pool,
		Registry:  registry,
	}, api.Config{
		RequestTimeout: cfg.ServerTimeout(),
		APIKey:         apiKey(cfg),
	}, log)

	return &App{
		cfg:     cfg,
		log:     log,
		pool:    pool,
		browser: browser,
		hub:     hub,
		sched:   sched,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func adapterConfig(a config.AdapterConfig) enrich.Config {
	return enrich.Config{
		BaseURL:         a.BaseURL,
		APIKey:          a.APIKey,
		Model:           a.Model,
		MaxInputChars:   a.MaxInputChars,
		CostPer1KTokens: a.CostPer1KTokens,
	}
}

func apiKey(cfg config.Config) string {
	if !cfg.Auth.Enabled {
		return ""
	}
	return cfg.Auth.APIKey
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown failed", zap.Error(err))
	}
	a.Close()
	return nil
}

// Close tears down services in reverse dependency order. Running jobs get a
// bounded grace period; the progress hub drains after they stop emitting.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.sched.Shutdown(ctx); err != nil {
		a.log.Warn("scheduler shutdown incomplete", zap.Error(err))
	}
	a.browser.Close()
	if err := a.hub.Close(ctx); err != nil {
		a.log.Warn("progress hub close failed", zap.Error(err))
	}
	a.pool.Close()
}
