package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sitescope/crawler/internal/pages"
	"github.com/sitescope/crawler/internal/store"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	defaultSimilar   = 10
	maxSimilar       = 50
)

// listPages handles GET /v1/sites/{site_id}/pages?limit=&offset=. Rows come
// back in inventory order.
func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	siteID := chi.URLParam(r, "site_id")
	recs, err := s.deps.PageStore.ListBySite(r.Context(), siteID, limit, offset)
	if err != nil {
		s.log.Error("list pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	total, err := s.deps.PageStore.CountBySite(r.Context(), siteID)
	if err != nil {
		s.log.Error("count pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count pages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pages": recs,
		"total": total,
	})
}

type createPageRequest struct {
	URL string `json:"url"`
}

// createPage handles POST /v1/sites/{site_id}/pages. Inserting a URL the
// site already has returns the existing row rather than a conflict.
func (s *Server) createPage(w http.ResponseWriter, r *http.Request) {
	var req createPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	normalized, err := pages.ValidateURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.deps.PageStore.Create(r.Context(), chi.URLParam(r, "site_id"), normalized)
	if err != nil {
		s.log.Error("create page failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create page")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"page": rec})
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.PageStore.Get(r.Context(), chi.URLParam(r, "page_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		s.log.Error("get page failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load page")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": rec})
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

// updateTags handles PUT /v1/pages/{page_id}/tags and replaces the tag set
// wholesale.
func (s *Server) updateTags(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pageID := chi.URLParam(r, "page_id")
	if err := s.deps.PageStore.UpdateTags(r.Context(), pageID, req.Tags); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		s.log.Error("update tags failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update tags")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page_id": pageID, "tags": req.Tags})
}

func (s *Server) deletePage(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "page_id")
	if err := s.deps.PageStore.Delete(r.Context(), pageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		s.log.Error("delete page failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete page")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"page_id": pageID, "status": "deleted"})
}

// deleteSitePages handles DELETE /v1/sites/{site_id}/pages, the explicit
// bulk site-reset. Requires confirm=true to guard against accidents.
func (s *Server) deleteSitePages(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "confirm=true is required")
		return
	}
	siteID := chi.URLParam(r, "site_id")
	deleted, err := s.deps.PageStore.DeleteBySite(r.Context(), siteID)
	if err != nil {
		s.log.Error("delete site pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete pages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"site_id": siteID, "deleted": deleted})
}

func (s *Server) similarPages(w http.ResponseWriter, r *http.Request) {
	limit := defaultSimilar
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if val > maxSimilar {
			val = maxSimilar
		}
		limit = val
	}
	similar, err := s.deps.PageStore.SimilarPages(r.Context(), chi.URLParam(r, "page_id"), limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		s.log.Error("similar pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to rank pages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": similar})
}

// exportPages handles GET /v1/sites/{site_id}/pages/export?format=json|csv.
// The export streams every row for the site.
func (s *Server) exportPages(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")
	recs, err := s.deps.PageStore.ListBySite(r.Context(), siteID, 0, 0)
	if err != nil {
		s.log.Error("export pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export pages")
		return
	}
	switch r.URL.Query().Get("format") {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", siteID+"-pages.json"))
		if err := json.NewEncoder(w).Encode(recs); err != nil {
			s.log.Error("write export failed", zap.Error(err))
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", siteID+"-pages.csv"))
		if err := writeCSV(w, recs); err != nil {
			s.log.Error("write export failed", zap.Error(err))
		}
	default:
		writeError(w, http.StatusBadRequest, "format must be json or csv")
	}
}

var csvHeader = []string{
	"id", "url", "slug", "status_code", "is_failed", "failure_reason",
	"title", "meta_title", "meta_description", "h1", "canonical_url",
	"robots", "viewport", "mobile_responsive", "word_count",
	"internal_links", "external_links", "image_count", "tags", "last_crawled_at",
}

func writeCSV(w http.ResponseWriter, recs []pages.PageRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range recs {
		crawledAt := ""
		if rec.LastCrawledAt != nil {
			crawledAt = rec.LastCrawledAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		row := []string{
			rec.ID,
			rec.URL,
			rec.Slug,
			strconv.Itoa(rec.StatusCode),
			strconv.FormatBool(rec.IsFailed),
			rec.FailureReason,
			rec.Title,
			rec.MetaTitle,
			rec.MetaDescription,
			rec.H1,
			rec.CanonicalURL,
			rec.Robots,
			rec.Viewport,
			strconv.FormatBool(rec.MobileResponsive),
			strconv.Itoa(rec.WordCount),
			strconv.Itoa(len(rec.InternalLinks)),
			strconv.Itoa(len(rec.ExternalLinks)),
			strconv.Itoa(rec.ImageCount),
			strings.Join(rec.Tags, ";"),
			crawledAt,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
