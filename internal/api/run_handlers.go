package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sitescope/crawler/internal/crawlrun"
	"github.com/sitescope/crawler/internal/pages"
	"github.com/sitescope/crawler/internal/setup"
	"github.com/sitescope/crawler/internal/store"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

type setupRequest struct {
	Kind       string   `json:"kind"`
	SitemapURL string   `json:"sitemap_url"`
	Recursive  *bool    `json:"recursive"`
	MaxDepth   int      `json:"max_depth"`
	ManualURLs []string `json:"manual_urls"`
}

// startSetup handles POST /v1/sites/{site_id}/setup. It returns 202 with the
// pending run, 400 for invalid requests, and 404 for unknown sites.
func (s *Server) startSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	// Sitemap indexes only yield page URLs when followed, so recursion is
	// on unless the caller turns it off.
	recursive := true
	if req.Recursive != nil {
		recursive = *req.Recursive
	}
	run, err := s.deps.Setup.StartSetup(r.Context(), setup.Request{
		SiteID:     chi.URLParam(r, "site_id"),
		Kind:       pages.SetupKind(req.Kind),
		SitemapURL: req.SitemapURL,
		Recursive:  recursive,
		MaxDepth:   req.MaxDepth,
		ManualURLs: req.ManualURLs,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "site not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run": run})
}

func (s *Server) setupProgress(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Setup.GetProgress(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.log.Error("setup progress failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) cancelSetup(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if err := s.deps.Setup.Cancel(r.Context(), runID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, setup.ErrTerminalRun):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.log.Error("cancel setup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to cancel run")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": "cancelling"})
}

func (s *Server) listSetupRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.deps.SetupRuns.ListBySite(r.Context(), chi.URLParam(r, "site_id"), limit, offset)
	if err != nil {
		s.log.Error("list setup runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type crawlRequest struct {
	Kind          string   `json:"kind"`
	PageIDs       []string `json:"page_ids"`
	ManualURLs    []string `json:"manual_urls"`
	Screenshots   bool     `json:"screenshots"`
	RatePerSecond float64  `json:"rate_per_second"`
}

// startCrawl handles POST /v1/sites/{site_id}/crawl. The run executes
// asynchronously; poll GET /v1/crawl/{run_id} for progress.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	run, err := s.deps.Crawl.StartRun(r.Context(), crawlrun.Request{
		SiteID:        chi.URLParam(r, "site_id"),
		Kind:          pages.CrawlKind(req.Kind),
		PageIDs:       req.PageIDs,
		ManualURLs:    req.ManualURLs,
		Screenshots:   req.Screenshots,
		RatePerSecond: req.RatePerSecond,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "site not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run": run})
}

func (s *Server) crawlProgress(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Crawl.GetProgress(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.log.Error("crawl progress failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if err := s.deps.Crawl.Cancel(r.Context(), runID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, crawlrun.ErrTerminalRun):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.log.Error("cancel crawl failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to cancel run")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": "cancelling"})
}

func (s *Server) listCrawlRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.deps.CrawlRuns.ListBySite(r.Context(), chi.URLParam(r, "site_id"), limit, offset)
	if err != nil {
		s.log.Error("list crawl runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type validateRequest struct {
	URL string `json:"url"`
}

// validateSitemap handles POST /v1/sitemap/validate. Validation never maps
// to an error status: unreachable or malformed sitemaps come back 200 with
// valid=false and a suggestion.
func (s *Server) validateSitemap(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sitemaps.Validate(r.Context(), req.URL))
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
