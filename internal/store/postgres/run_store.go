package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sitescope/crawler/internal/pages"
	"github.com/sitescope/crawler/internal/store"
)

// SetupRunStore implements store.SetupRunStore on Postgres.
type SetupRunStore struct {
	pool Querier
}

// NewSetupRunStore wraps an existing pool.
func NewSetupRunStore(pool Querier) *SetupRunStore {
	return &SetupRunStore{pool: pool}
}

// Create inserts a new run row and fills in the generated ID.
func (s *SetupRunStore) Create(ctx context.Context, run *pages.SetupRun) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO setup_runs (site_id, kind, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		run.SiteID, run.Kind, run.Status,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert setup run: %w", err)
	}
	return nil
}

const selectSetupRunSQL = `
	SELECT id, site_id, kind, status, total_urls, succeeded, failed, skipped,
		current_url, progress_percentage, error_text, started_at, finished_at,
		created_at
	FROM setup_runs`

func scanSetupRun(row rowScanner, run *pages.SetupRun) error {
	err := row.Scan(
		&run.ID, &run.SiteID, &run.Kind, &run.Status, &run.TotalURLs,
		&run.Succeeded, &run.Failed, &run.Skipped, &run.CurrentURL,
		&run.Progress, &run.ErrorText, &run.StartedAt, &run.FinishedAt,
		&run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("scan setup run: %w", err)
	}
	return nil
}

// Get returns one run snapshot.
func (s *SetupRunStore) Get(ctx context.Context, id string) (pages.SetupRun, error) {
	var run pages.SetupRun
	if err := scanSetupRun(s.pool.QueryRow(ctx, selectSetupRunSQL+` WHERE id = $1`, id), &run); err != nil {
		return pages.SetupRun{}, err
	}
	return run, nil
}

// Update writes the full run snapshot.
func (s *SetupRunStore) Update(ctx context.Context, run pages.SetupRun) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE setup_runs SET
			status = $2, total_urls = $3, succeeded = $4, failed = $5,
			skipped = $6, current_url = $7, progress_percentage = $8,
			error_text = $9, started_at = $10, finished_at = $11
		WHERE id = $1`,
		run.ID, run.Status, run.TotalURLs, run.Succeeded, run.Failed,
		run.Skipped, run.CurrentURL, run.Progress, run.ErrorText,
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update setup run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListBySite returns runs newest first.
func (s *SetupRunStore) ListBySite(ctx context.Context, siteID string, limit, offset int) ([]pages.SetupRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		selectSetupRunSQL+` WHERE site_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		siteID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list setup runs: %w", err)
	}
	defer rows.Close()

	var out []pages.SetupRun
	for rows.Next() {
		var run pages.SetupRun
		if err := scanSetupRun(rows, &run); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate setup runs: %w", err)
	}
	return out, nil
}

// CrawlRunStore implements store.CrawlRunStore on Postgres. The error log
// and cost ledger are JSONB columns.
type CrawlRunStore struct {
	pool Querier
}

// NewCrawlRunStore wraps an existing pool.
func NewCrawlRunStore(pool Querier) *CrawlRunStore {
	return &CrawlRunStore{pool: pool}
}

// Create inserts a new run row and fills in the generated ID.
func (s *CrawlRunStore) Create(ctx context.Context, run *pages.CrawlRun) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO crawl_runs (site_id, kind, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		run.SiteID, run.Kind, run.Status,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert crawl run: %w", err)
	}
	return nil
}

const selectCrawlRunSQL = `
	SELECT id, site_id, kind, status, total_pages, succeeded, failed,
		current_url, progress_percentage, status_message, error_log,
		cost_ledger, elapsed_ms, pages_per_minute, started_at, finished_at,
		created_at
	FROM crawl_runs`

func scanCrawlRun(row rowScanner, run *pages.CrawlRun) error {
	var errorLog, ledger []byte
	err := row.Scan(
		&run.ID, &run.SiteID, &run.Kind, &run.Status, &run.TotalPages,
		&run.Succeeded, &run.Failed, &run.CurrentURL, &run.Progress,
		&run.StatusMessage, &errorLog, &ledger, &run.ElapsedMs,
		&run.PagesPerMin, &run.StartedAt, &run.FinishedAt, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("scan crawl run: %w", err)
	}
	if len(errorLog) > 0 {
		_ = json.Unmarshal(errorLog, &run.ErrorLog)
	}
	if len(ledger) > 0 {
		_ = json.Unmarshal(ledger, &run.Ledger)
	}
	return nil
}

// Get returns one run snapshot.
func (s *CrawlRunStore) Get(ctx context.Context, id string) (pages.CrawlRun, error) {
	var run pages.CrawlRun
	if err := scanCrawlRun(s.pool.QueryRow(ctx, selectCrawlRunSQL+` WHERE id = $1`, id), &run); err != nil {
		return pages.CrawlRun{}, err
	}
	return run, nil
}

// Update writes the full run snapshot.
func (s *CrawlRunStore) Update(ctx context.Context, run pages.CrawlRun) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_runs SET
			status = $2, total_pages = $3, succeeded = $4, failed = $5,
			current_url = $6, progress_percentage = $7, status_message = $8,
			error_log = $9, cost_ledger = $10, elapsed_ms = $11,
			pages_per_minute = $12, started_at = $13, finished_at = $14
		WHERE id = $1`,
		run.ID, run.Status, run.TotalPages, run.Succeeded, run.Failed,
		run.CurrentURL, run.Progress, run.StatusMessage,
		mustJSON(run.ErrorLog), mustJSON(run.Ledger), run.ElapsedMs,
		run.PagesPerMin, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update crawl run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListBySite returns runs newest first.
func (s *CrawlRunStore) ListBySite(ctx context.Context, siteID string, limit, offset int) ([]pages.CrawlRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		selectCrawlRunSQL+` WHERE site_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		siteID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list crawl runs: %w", err)
	}
	defer rows.Close()

	var out []pages.CrawlRun
	for rows.Next() {
		var run pages.CrawlRun
		if err := scanCrawlRun(rows, &run); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl runs: %w", err)
	}
	return out, nil
}

// SiteStore implements the boundary to the externally owned sites table.
type SiteStore struct {
	pool Querier
}

// NewSiteStore wraps an existing pool.
func NewSiteStore(pool Querier) *SiteStore {
	return &SiteStore{pool: pool}
}

// Exists reports whether the site row is present.
func (s *SiteStore) Exists(ctx context.Context, siteID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sites WHERE id = $1)`, siteID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check site exists: %w", err)
	}
	return ok, nil
}

// MarkSetupCompleted stamps the site after a successful setup run.
func (s *SiteStore) MarkSetupCompleted(ctx context.Context, siteID string, pageCount int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sites SET engine_setup_completed = TRUE, page_count = $2
		WHERE id = $1`, siteID, pageCount)
	if err != nil {
		return fmt.Errorf("mark site setup completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
