package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/sitescope/crawler/internal/pages"
	"github.com/sitescope/crawler/internal/store"
)

// PageStore implements store.PageStore on Postgres. The page_records table
// carries a UNIQUE (site_id, url) constraint and a pgvector column for the
// content embedding.
type PageStore struct {
	pool Querier
}

// NewPageStore wraps an existing pool.
func NewPageStore(pool Querier) *PageStore {
	return &PageStore{pool: pool}
}

const insertPageSQL = `
	INSERT INTO page_records (site_id, url, slug)
	VALUES ($1, $2, $3)
	ON CONFLICT (site_id, url) DO NOTHING`

// BulkInsertSkipExisting inserts inventory rows in one round trip per batch.
// Duplicate (site, URL) pairs are skipped by the conflict clause.
func (s *PageStore) BulkInsertSkipExisting(ctx context.Context, siteID string, urls []string) (int, int, error) {
	if len(urls) == 0 {
		return 0, 0, nil
	}
	batch := &pgx.Batch{}
	for _, u := range urls {
		batch.Queue(insertPageSQL, siteID, u, pages.SlugFromURL(u))
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range urls {
		tag, err := results.Exec()
		if err != nil {
			return inserted, 0, fmt.Errorf("bulk insert pages: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, len(urls) - inserted, nil
}

// Create inserts one inventory row and returns the stored record. A
// duplicate insert returns the existing row unchanged.
func (s *PageStore) Create(ctx context.Context, siteID, url string) (pages.PageRecord, error) {
	if _, err := s.pool.Exec(ctx, insertPageSQL, siteID, url, pages.SlugFromURL(url)); err != nil {
		return pages.PageRecord{}, fmt.Errorf("insert page: %w", err)
	}
	var rec pages.PageRecord
	row := s.pool.QueryRow(ctx,
		selectPageSQL+` WHERE site_id = $1 AND url = $2`, siteID, url)
	if err := scanPage(row, &rec); err != nil {
		return pages.PageRecord{}, err
	}
	return rec, nil
}

const selectPageSQL = `
	SELECT id, site_id, url, slug, status_code, is_failed, failure_reason,
		retry_count, title, meta_title, meta_description, h1, canonical_url,
		hreflang, social, robots, viewport, mobile_responsive, word_count,
		body_text, headings, schemas, internal_links, external_links,
		image_count, screenshot_ref, entities, tags, last_crawled_at,
		last_checked_at, created_at
	FROM page_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner, rec *pages.PageRecord) error {
	var (
		hreflang, social, headings   []byte
		schemas                      []byte
		internalLinks, externalLinks []byte
		entities, tags               []byte
	)
	err := row.Scan(
		&rec.ID, &rec.SiteID, &rec.URL, &rec.Slug, &rec.StatusCode,
		&rec.IsFailed, &rec.FailureReason, &rec.RetryCount, &rec.Title,
		&rec.MetaTitle, &rec.MetaDescription, &rec.H1, &rec.CanonicalURL,
		&hreflang, &social, &rec.Robots, &rec.Viewport, &rec.MobileResponsive,
		&rec.WordCount, &rec.BodyText, &headings, &schemas, &internalLinks,
		&externalLinks, &rec.ImageCount, &rec.Screenshot, &entities, &tags,
		&rec.LastCrawledAt, &rec.LastCheckedAt, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("scan page row: %w", err)
	}
	unmarshalInto(hreflang, &rec.Hreflang)
	unmarshalInto(social, &rec.Social)
	unmarshalInto(headings, &rec.Headings)
	unmarshalInto(schemas, &rec.Schemas)
	unmarshalInto(internalLinks, &rec.InternalLinks)
	unmarshalInto(externalLinks, &rec.ExternalLinks)
	unmarshalInto(entities, &rec.Entities)
	unmarshalInto(tags, &rec.Tags)
	return nil
}

// unmarshalInto tolerates NULL json columns.
func unmarshalInto(raw []byte, dest any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dest)
}

// Get returns one page row by ID. The raw embedding vector is not read back;
// similarity queries run against it in place.
func (s *PageStore) Get(ctx context.Context, id string) (pages.PageRecord, error) {
	var rec pages.PageRecord
	row := s.pool.QueryRow(ctx, selectPageSQL+` WHERE id = $1`, id)
	if err := scanPage(row, &rec); err != nil {
		return pages.PageRecord{}, err
	}
	return rec, nil
}

// ListBySite returns rows in insertion order, which is the inventory order
// crawl runs process pages in.
func (s *PageStore) ListBySite(ctx context.Context, siteID string, limit, offset int) ([]pages.PageRecord, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.pool.Query(ctx,
		selectPageSQL+` WHERE site_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		siteID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

// ListByIDs returns the requested rows in insertion order.
func (s *PageStore) ListByIDs(ctx context.Context, ids []string) ([]pages.PageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		selectPageSQL+` WHERE id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list pages by ids: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

func collectPages(rows pgx.Rows) ([]pages.PageRecord, error) {
	var out []pages.PageRecord
	for rows.Next() {
		var rec pages.PageRecord
		if err := scanPage(rows, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page rows: %w", err)
	}
	return out, nil
}

// CountBySite counts inventory rows for a site.
func (s *PageStore) CountBySite(ctx context.Context, siteID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM page_records WHERE site_id = $1`, siteID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

// Update persists every extraction field in one write. The embedding column
// is written via pgvector; a nil embedding leaves the column NULL.
func (s *PageStore) Update(ctx context.Context, rec pages.PageRecord) error {
	var embedding any
	if len(rec.Embedding) > 0 {
		embedding = pgvector.NewVector(rec.Embedding)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE page_records SET
			slug = $2, status_code = $3, is_failed = $4, failure_reason = $5,
			retry_count = $6, title = $7, meta_title = $8,
			meta_description = $9, h1 = $10, canonical_url = $11,
			hreflang = $12, social = $13, robots = $14, viewport = $15,
			mobile_responsive = $16, word_count = $17, body_text = $18,
			headings = $19, schemas = $20, internal_links = $21,
			external_links = $22, image_count = $23, screenshot_ref = $24,
			embedding = $25, entities = $26, tags = $27,
			last_crawled_at = $28, last_checked_at = $29
		WHERE id = $1`,
		rec.ID, rec.Slug, rec.StatusCode, rec.IsFailed, rec.FailureReason,
		rec.RetryCount, rec.Title, rec.MetaTitle, rec.MetaDescription,
		rec.H1, rec.CanonicalURL, mustJSON(rec.Hreflang), mustJSON(rec.Social),
		rec.Robots, rec.Viewport, rec.MobileResponsive, rec.WordCount,
		rec.BodyText, mustJSON(rec.Headings), mustJSON(rec.Schemas),
		mustJSON(rec.InternalLinks), mustJSON(rec.ExternalLinks),
		rec.ImageCount, rec.Screenshot, embedding, mustJSON(rec.Entities),
		mustJSON(rec.Tags), rec.LastCrawledAt, rec.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("update page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return raw
}

// UpdateTags replaces the free-form tag array.
func (s *PageStore) UpdateTags(ctx context.Context, id string, tags []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE page_records SET tags = $2 WHERE id = $1`, id, mustJSON(tags))
	if err != nil {
		return fmt.Errorf("update page tags: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes one page row.
func (s *PageStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM page_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteBySite is the explicit bulk site-reset.
func (s *PageStore) DeleteBySite(ctx context.Context, siteID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM page_records WHERE site_id = $1`, siteID)
	if err != nil {
		return 0, fmt.Errorf("delete site pages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SimilarPages orders the site's embedded pages by cosine distance to the
// reference page, nearest first. Useful for spotting near-duplicate content.
func (s *PageStore) SimilarPages(ctx context.Context, pageID string, limit int) ([]store.SimilarPage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.url, p.title,
			1 - (p.embedding <=> ref.embedding) AS similarity
		FROM page_records p,
			(SELECT site_id, embedding FROM page_records WHERE id = $1) ref
		WHERE p.site_id = ref.site_id
			AND p.id <> $1
			AND p.embedding IS NOT NULL
			AND ref.embedding IS NOT NULL
		ORDER BY p.embedding <=> ref.embedding
		LIMIT $2`, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("similar pages: %w", err)
	}
	defer rows.Close()

	var out []store.SimilarPage
	for rows.Next() {
		var sp store.SimilarPage
		if err := rows.Scan(&sp.ID, &sp.URL, &sp.Title, &sp.Similarity); err != nil {
			return nil, fmt.Errorf("scan similar page: %w", err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar pages: %w", err)
	}
	return out, nil
}
