package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitescope/crawler/internal/pages"
	"github.com/sitescope/crawler/internal/store"
	"github.com/sitescope/crawler/internal/store/memory"
)

func seedPageStore(t *testing.T, n int) (*memory.PageStore, []pages.PageRecord) {
	t.Helper()
	st := memory.NewPageStore()
	recs := make([]pages.PageRecord, 0, n)
	for i := range n {
		rec, err := st.Create(t.Context(), "site-1", fmt.Sprintf("https://acme.com/p%d", i))
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return st, recs
}

func TestListPagesWithPagination(t *testing.T) {
	t.Parallel()
	st, _ := seedPageStore(t, 5)
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sites/site-1/pages?limit=2&offset=4", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Pages []pages.PageRecord `json:"pages"`
		Total int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Pages, 1)
	require.Equal(t, 5, resp.Total)
	require.Equal(t, "https://acme.com/p4", resp.Pages[0].URL)
}

func TestCreatePageNormalizesURL(t *testing.T) {
	t.Parallel()
	st := memory.NewPageStore()
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sites/site-1/pages", strings.NewReader(`{"url":"HTTPS://Acme.com:443/About#team"}`))
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Page pages.PageRecord `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "https://acme.com/About", resp.Page.URL)

	count, err := st.CountBySite(t.Context(), "site-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestCreatePageRejectsInvalidURL(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Deps{}, Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sites/site-1/pages", strings.NewReader(`{"url":"ftp://acme.com/file"}`))
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPageNotFound(t *testing.T) {
	t.Parallel()
	st, _ := seedPageStore(t, 1)
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pages/missing", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPage(t *testing.T) {
	t.Parallel()
	st, recs := seedPageStore(t, 1)
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pages/"+recs[0].ID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Page pages.PageRecord `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, recs[0].URL, resp.Page.URL)
}

func TestUpdateTagsReplacesSet(t *testing.T) {
	t.Parallel()
	st, recs := seedPageStore(t, 1)
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/pages/"+recs[0].ID+"/tags", strings.NewReader(`{"tags":["blog","priority"]}`))
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	updated, err := st.Get(t.Context(), recs[0].ID)
	require.NoError(t, err)
	require.Equal(t, []string{"blog", "priority"}, updated.Tags)
}

func TestDeletePage(t *testing.T) {
	t.Parallel()
	st, recs := seedPageStore(t, 2)
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/pages/"+recs[0].ID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	_, err := st.Get(t.Context(), recs[0].ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	count, err := st.CountBySite(t.Context(), "site-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDeleteSitePagesRequiresConfirm(t *testing.T) {
	t.Parallel()
	st, _ := seedPageStore(t, 3)
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sites/site-1/pages", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	count, err := st.CountBySite(t.Context(), "site-1")
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestDeleteSitePages(t *testing.T) {
	t.Parallel()
	st, _ := seedPageStore(t, 3)
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sites/site-1/pages?confirm=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"deleted":3`)
	count, err := st.CountBySite(t.Context(), "site-1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSimilarPages(t *testing.T) {
	t.Parallel()
	st, recs := seedPageStore(t, 3)
	for i, emb := range [][]float32{{1, 0}, {0.9, 0.1}, {0, 1}} {
		rec := recs[i]
		rec.Embedding = emb
		require.NoError(t, st.Update(t.Context(), rec))
	}
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pages/"+recs[0].ID+"/similar?limit=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Pages []store.SimilarPage `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Pages, 1)
	require.Equal(t, recs[1].ID, resp.Pages[0].ID)
}

func TestSimilarPagesUnknownPage(t *testing.T) {
	t.Parallel()
	st, _ := seedPageStore(t, 1)
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pages/missing/similar", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportPagesJSON(t *testing.T) {
	t.Parallel()
	st, _ := seedPageStore(t, 2)
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sites/site-1/pages/export", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "site-1-pages.json")
	var recs []pages.PageRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
}

func TestExportPagesCSV(t *testing.T) {
	t.Parallel()
	st, recs := seedPageStore(t, 2)
	first := recs[0]
	first.Title = "Home"
	first.StatusCode = 200
	first.Tags = []string{"blog", "en"}
	require.NoError(t, st.Update(t.Context(), first))
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sites/site-1/pages/export?format=csv", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, csvHeader, rows[0])
	require.Equal(t, first.URL, rows[1][1])
	require.Equal(t, "Home", rows[1][6])
	require.Equal(t, "200", rows[1][3])
	require.Equal(t, "blog;en", rows[1][18])
}

func TestExportPagesUnknownFormat(t *testing.T) {
	t.Parallel()
	st, _ := seedPageStore(t, 1)
	s := newTestServer(t, Deps{PageStore: st}, Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sites/site-1/pages/export?format=xml", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
