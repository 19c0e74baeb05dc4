// Package store defines the persistence interfaces for the page inventory
// and run records. Postgres implementations live in store/postgres; memory
// implementations back tests and local development.
package store

import (
	"context"
	"errors"

	"github.com/sitescope/crawler/internal/pages"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SimilarPage pairs an inventory row with its cosine similarity to a
// reference page's content embedding.
type SimilarPage struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Title      string  `json:"title,omitempty"`
	Similarity float64 `json:"similarity"`
}

// PageStore is CRUD over the page inventory. Uniqueness on (site, URL) is a
// hard invariant: inserting a duplicate is a no-op, not an error.
type PageStore interface {
	// BulkInsertSkipExisting inserts inventory-only rows for the given URLs,
	// silently skipping URLs the site already has. Returns how many rows
	// were inserted and how many were skipped.
	BulkInsertSkipExisting(ctx context.Context, siteID string, urls []string) (inserted, skipped int, err error)
	// Create inserts a single inventory row, skipping silently on duplicate.
	Create(ctx context.Context, siteID, url string) (pages.PageRecord, error)
	Get(ctx context.Context, id string) (pages.PageRecord, error)
	// ListBySite returns rows in inventory (insertion) order.
	ListBySite(ctx context.Context, siteID string, limit, offset int) ([]pages.PageRecord, error)
	ListByIDs(ctx context.Context, ids []string) ([]pages.PageRecord, error)
	CountBySite(ctx context.Context, siteID string) (int, error)
	// Update persists every extraction field of rec in one write.
	Update(ctx context.Context, rec pages.PageRecord) error
	UpdateTags(ctx context.Context, id string, tags []string) error
	Delete(ctx context.Context, id string) error
	// DeleteBySite is the explicit bulk site-reset.
	DeleteBySite(ctx context.Context, siteID string) (int64, error)
	// SimilarPages ranks the site's pages by embedding distance to the
	// given page, nearest first. Pages without an embedding are excluded.
	SimilarPages(ctx context.Context, pageID string, limit int) ([]SimilarPage, error)
}

// SetupRunStore persists discovery runs.
type SetupRunStore interface {
	Create(ctx context.Context, run *pages.SetupRun) error
	Get(ctx context.Context, id string) (pages.SetupRun, error)
	Update(ctx context.Context, run pages.SetupRun) error
	ListBySite(ctx context.Context, siteID string, limit, offset int) ([]pages.SetupRun, error)
}

// CrawlRunStore persists extraction runs.
type CrawlRunStore interface {
	Create(ctx context.Context, run *pages.CrawlRun) error
	Get(ctx context.Context, id string) (pages.CrawlRun, error)
	Update(ctx context.Context, run pages.CrawlRun) error
	ListBySite(ctx context.Context, siteID string, limit, offset int) ([]pages.CrawlRun, error)
}

// SiteStore is the boundary to the externally owned sites table. Only the
// fields the pipeline stamps are exposed.
type SiteStore interface {
	Exists(ctx context.Context, siteID string) (bool, error)
	MarkSetupCompleted(ctx context.Context, siteID string, pageCount int) error
}
