// Package api exposes the HTTP interface for the crawler pipeline: run
// control for setup and crawl, sitemap validation, and the page inventory
// endpoints.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sitescope/crawler/internal/crawlrun"
	"github.com/sitescope/crawler/internal/pages"
	"github.com/sitescope/crawler/internal/setup"
	"github.com/sitescope/crawler/internal/sitemap"
	"github.com/sitescope/crawler/internal/store"
)

// SetupService starts and controls discovery runs.
type SetupService interface {
	StartSetup(ctx context.Context, req setup.Request) (pages.SetupRun, error)
	GetProgress(ctx context.Context, runID string) (pages.SetupRun, error)
	Cancel(ctx context.Context, runID string) error
}

// CrawlService starts and controls extraction runs.
type CrawlService interface {
	StartRun(ctx context.Context, req crawlrun.Request) (pages.CrawlRun, error)
	GetProgress(ctx context.Context, runID string) (pages.CrawlRun, error)
	Cancel(ctx context.Context, runID string) error
}

// SitemapValidator answers the pre-flight sitemap check without touching
// the inventory.
type SitemapValidator interface {
	Validate(ctx context.Context, url string) sitemap.Validation
}

// Pinger reports reachability of the backing database for readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles the collaborators the handlers call.
type Deps struct {
	Setup     SetupService
	Crawl     CrawlService
	Sitemaps  SitemapValidator
	PageStore store.PageStore
	SetupRuns store.SetupRunStore
	CrawlRuns store.CrawlRunStore
	Pinger    Pinger
	Registry  *prometheus.Registry
}

// Config carries the server's own settings.
type Config struct {
	RequestTimeout time.Duration
	APIKey         string
}

// Server wires HTTP handlers to the pipeline services and stores.
type Server struct {
	router chi.Router
	deps   Deps
	log    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps: deps,
		log:  logger.Named("api"),
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	if deps.Registry != nil {
		r.Use(newHTTPMetrics(deps.Registry).middleware)
	}
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metricsHandler(deps.Registry))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sitemap/validate", s.validateSitemap)

		r.Route("/sites/{site_id}", func(r chi.Router) {
			r.Post("/setup", s.startSetup)
			r.Get("/setup", s.listSetupRuns)
			r.Post("/crawl", s.startCrawl)
			r.Get("/crawl", s.listCrawlRuns)
			r.Get("/pages", s.listPages)
			r.Post("/pages", s.createPage)
			r.Get("/pages/export", s.exportPages)
			r.Delete("/pages", s.deleteSitePages)
		})

		r.Route("/setup-runs/{run_id}", func(r chi.Router) {
			r.Get("/", s.setupProgress)
			r.Post("/cancel", s.cancelSetup)
		})
		r.Route("/crawl-runs/{run_id}", func(r chi.Router) {
			r.Get("/", s.crawlProgress)
			r.Post("/cancel", s.cancelCrawl)
		})

		r.Route("/pages/{page_id}", func(r chi.Router) {
			r.Get("/", s.getPage)
			r.Put("/tags", s.updateTags)
			r.Delete("/", s.deletePage)
			r.Get("/similar", s.similarPages)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	if reg != nil {
		return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Pinger.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.log.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
