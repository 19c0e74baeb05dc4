package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitescope/crawler/internal/crawlrun"
	"github.com/sitescope/crawler/internal/pages"
	"github.com/sitescope/crawler/internal/setup"
	"github.com/sitescope/crawler/internal/sitemap"
	"github.com/sitescope/crawler/internal/store/memory"
)

type stubSetupService struct {
	run       pages.SetupRun
	startErr  error
	getErr    error
	cancelErr error
	gotReq    setup.Request
}

func (s *stubSetupService) StartSetup(_ context.Context, req setup.Request) (pages.SetupRun, error) {
	s.gotReq = req
	return s.run, s.startErr
}

func (s *stubSetupService) GetProgress(_ context.Context, _ string) (pages.SetupRun, error) {
	return s.run, s.getErr
}

func (s *stubSetupService) Cancel(_ context.Context, _ string) error {
	return s.cancelErr
}

type stubCrawlService struct {
	run       pages.CrawlRun
	startErr  error
	getErr    error
	cancelErr error
	gotReq    crawlrun.Request
}

func (s *stubCrawlService) StartRun(_ context.Context, req crawlrun.Request) (pages.CrawlRun, error) {
	s.gotReq = req
	return s.run, s.startErr
}

func (s *stubCrawlService) GetProgress(_ context.Context, _ string) (pages.CrawlRun, error) {
	return s.run, s.getErr
}

func (s *stubCrawlService) Cancel(_ context.Context, _ string) error {
	return s.cancelErr
}

type stubValidator struct {
	result sitemap.Validation
	gotURL string
}

func (s *stubValidator) Validate(_ context.Context, url string) sitemap.Validation {
	s.gotURL = url
	return s.result
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, deps Deps, cfg Config) *Server {
	t.Helper()
	if deps.Setup == nil {
		deps.Setup = &stubSetupService{}
	}
	if deps.Crawl == nil {
		deps.Crawl = &stubCrawlService{}
	}
	if deps.Sitemaps == nil {
		deps.Sitemaps = &stubValidator{}
	}
	if deps.PageStore == nil {
		deps.PageStore = memory.NewPageStore()
	}
	if deps.SetupRuns == nil {
		deps.SetupRuns = memory.NewSetupRunStore()
	}
	if deps.CrawlRuns == nil {
		deps.CrawlRuns = memory.NewCrawlRunStore()
	}
	return NewServer(deps, cfg, zap.NewNop())
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Deps{}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzChecksDatabase(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Deps{Pinger: stubPinger{err: errors.New("conn refused")}}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyzHealthyDatabase(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Deps{Pinger: stubPinger{}}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Deps{}, Config{APIKey: "secret"})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?api_key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestMetricsRecorded(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s := newTestServer(t, Deps{Registry: reg}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Contains(t, names, "sitescope_http_requests_total")
	require.Contains(t, names, "sitescope_http_request_duration_seconds")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Deps{}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
