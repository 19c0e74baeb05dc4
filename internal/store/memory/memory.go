// Package memory provides in-memory store implementations for tests and
// local development.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitescope/crawler/internal/pages"
	"github.com/sitescope/crawler/internal/store"
)

// PageStore is an in-memory store.PageStore keyed by (site, URL).
type PageStore struct {
	mu    sync.Mutex
	seq   int
	rows  map[string]*pages.PageRecord
	order map[string]int
}

// NewPageStore builds an empty inventory.
func NewPageStore() *PageStore {
	return &PageStore{
		rows:  make(map[string]*pages.PageRecord),
		order: make(map[string]int),
	}
}

func (s *PageStore) findLocked(siteID, url string) *pages.PageRecord {
	for _, rec := range s.rows {
		if rec.SiteID == siteID && rec.URL == url {
			return rec
		}
	}
	return nil
}

func (s *PageStore) insertLocked(siteID, url string) *pages.PageRecord {
	rec := &pages.PageRecord{
		ID:        uuid.NewString(),
		SiteID:    siteID,
		URL:       url,
		Slug:      pages.SlugFromURL(url),
		CreatedAt: time.Now().UTC(),
	}
	s.rows[rec.ID] = rec
	s.order[rec.ID] = s.seq
	s.seq++
	return rec
}

// BulkInsertSkipExisting inserts rows, skipping URLs the site already has.
func (s *PageStore) BulkInsertSkipExisting(_ context.Context, siteID string, urls []string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, u := range urls {
		if s.findLocked(siteID, u) != nil {
			continue
		}
		s.insertLocked(siteID, u)
		inserted++
	}
	return inserted, len(urls) - inserted, nil
}

// Create inserts one row, returning the existing one on duplicate.
func (s *PageStore) Create(_ context.Context, siteID, url string) (pages.PageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.findLocked(siteID, url); rec != nil {
		return *rec, nil
	}
	return *s.insertLocked(siteID, url), nil
}

// Get returns one row by ID.
func (s *PageStore) Get(_ context.Context, id string) (pages.PageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return pages.PageRecord{}, store.ErrNotFound
	}
	return *rec, nil
}

func (s *PageStore) sortedSiteRowsLocked(siteID string) []*pages.PageRecord {
	var out []*pages.PageRecord
	for _, rec := range s.rows {
		if siteID == "" || rec.SiteID == siteID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	return out
}

// ListBySite returns rows in insertion order.
func (s *PageStore) ListBySite(_ context.Context, siteID string, limit, offset int) ([]pages.PageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.sortedSiteRowsLocked(siteID)
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	out := make([]pages.PageRecord, len(rows))
	for i, rec := range rows {
		out[i] = *rec
	}
	return out, nil
}

// ListByIDs returns the requested rows in insertion order.
func (s *PageStore) ListByIDs(_ context.Context, ids []string) ([]pages.PageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pages.PageRecord
	for _, rec := range s.sortedSiteRowsLocked("") {
		for _, id := range ids {
			if rec.ID == id {
				out = append(out, *rec)
				break
			}
		}
	}
	return out, nil
}

// CountBySite counts rows for the site.
func (s *PageStore) CountBySite(_ context.Context, siteID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.rows {
		if rec.SiteID == siteID {
			n++
		}
	}
	return n, nil
}

// Update replaces the stored row.
func (s *PageStore) Update(_ context.Context, rec pages.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[rec.ID]; !ok {
		return store.ErrNotFound
	}
	clone := rec
	s.rows[rec.ID] = &clone
	return nil
}

// UpdateTags replaces the tag array.
func (s *PageStore) UpdateTags(_ context.Context, id string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.Tags = append([]string(nil), tags...)
	return nil
}

// Delete removes one row.
func (s *PageStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.rows, id)
	delete(s.order, id)
	return nil
}

// DeleteBySite removes every row for the site.
func (s *PageStore) DeleteBySite(_ context.Context, siteID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.rows {
		if rec.SiteID == siteID {
			delete(s.rows, id)
			delete(s.order, id)
			n++
		}
	}
	return n, nil
}

// SimilarPages ranks by cosine similarity of stored embeddings.
func (s *PageStore) SimilarPages(_ context.Context, pageID string, limit int) ([]store.SimilarPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.rows[pageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if len(ref.Embedding) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	var out []store.SimilarPage
	for _, rec := range s.rows {
		if rec.ID == pageID || rec.SiteID != ref.SiteID || len(rec.Embedding) == 0 {
			continue
		}
		out = append(out, store.SimilarPage{
			ID:         rec.ID,
			URL:        rec.URL,
			Title:      rec.Title,
			Similarity: cosine(ref.Embedding, rec.Embedding),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SetupRunStore is an in-memory store.SetupRunStore.
type SetupRunStore struct {
	mu   sync.Mutex
	runs map[string]pages.SetupRun
}

// NewSetupRunStore builds an empty run store.
func NewSetupRunStore() *SetupRunStore {
	return &SetupRunStore{runs: make(map[string]pages.SetupRun)}
}

// Create assigns an ID and stores the run.
func (s *SetupRunStore) Create(_ context.Context, run *pages.SetupRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = uuid.NewString()
	run.CreatedAt = time.Now().UTC()
	s.runs[run.ID] = *run
	return nil
}

// Get returns a run snapshot.
func (s *SetupRunStore) Get(_ context.Context, id string) (pages.SetupRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return pages.SetupRun{}, store.ErrNotFound
	}
	return run, nil
}

// Update replaces the stored run.
func (s *SetupRunStore) Update(_ context.Context, run pages.SetupRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return store.ErrNotFound
	}
	s.runs[run.ID] = run
	return nil
}

// ListBySite returns the site's runs, newest first.
func (s *SetupRunStore) ListBySite(_ context.Context, siteID string, limit, offset int) ([]pages.SetupRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pages.SetupRun
	for _, run := range s.runs {
		if run.SiteID == siteID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

// CrawlRunStore is an in-memory store.CrawlRunStore.
type CrawlRunStore struct {
	mu   sync.Mutex
	runs map[string]pages.CrawlRun
}

// NewCrawlRunStore builds an empty run store.
func NewCrawlRunStore() *CrawlRunStore {
	return &CrawlRunStore{runs: make(map[string]pages.CrawlRun)}
}

// Create assigns an ID and stores the run.
func (s *CrawlRunStore) Create(_ context.Context, run *pages.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = uuid.NewString()
	run.CreatedAt = time.Now().UTC()
	s.runs[run.ID] = *run
	return nil
}

// Get returns a run snapshot.
func (s *CrawlRunStore) Get(_ context.Context, id string) (pages.CrawlRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return pages.CrawlRun{}, store.ErrNotFound
	}
	return run, nil
}

// Update replaces the stored run.
func (s *CrawlRunStore) Update(_ context.Context, run pages.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return store.ErrNotFound
	}
	s.runs[run.ID] = run
	return nil
}

// ListBySite returns the site's runs, newest first.
func (s *CrawlRunStore) ListBySite(_ context.Context, siteID string, limit, offset int) ([]pages.CrawlRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pages.CrawlRun
	for _, run := range s.runs {
		if run.SiteID == siteID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func paginate[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

// SiteStore is an in-memory store.SiteStore.
type SiteStore struct {
	mu    sync.Mutex
	sites map[string]siteRow
}

type siteRow struct {
	setupCompleted bool
	pageCount      int
}

// NewSiteStore builds a store seeded with the given site IDs.
func NewSiteStore(siteIDs ...string) *SiteStore {
	s := &SiteStore{sites: make(map[string]siteRow)}
	for _, id := range siteIDs {
		s.sites[id] = siteRow{}
	}
	return s
}

// Exists reports whether the site is known.
func (s *SiteStore) Exists(_ context.Context, siteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sites[siteID]
	return ok, nil
}

// MarkSetupCompleted stamps the site row.
func (s *SiteStore) MarkSetupCompleted(_ context.Context, siteID string, pageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[siteID]; !ok {
		return store.ErrNotFound
	}
	s.sites[siteID] = siteRow{setupCompleted: true, pageCount: pageCount}
	return nil
}

// SetupCompleted reports the stamped state, for tests.
func (s *SiteStore) SetupCompleted(siteID string) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.sites[siteID]
	return row.setupCompleted, row.pageCount
}
