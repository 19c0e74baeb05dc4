// Package pages defines the domain types shared across the discovery and
// extraction pipeline: run records, page records, and their status machines.
package pages

import (
	"fmt"
	"time"
)

// SetupStatus is the lifecycle state of a SetupRun.
type SetupStatus string

// Setup run status values persisted in the setup_runs table.
const (
	SetupPending    SetupStatus = "pending"
	SetupInProgress SetupStatus = "in_progress"
	SetupCompleted  SetupStatus = "completed"
	SetupFailed     SetupStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s SetupStatus) Terminal() bool {
	return s == SetupCompleted || s == SetupFailed
}

// CanTransition reports whether moving to next is a legal state change.
// Statuses are monotonic: a terminal run never re-enters in_progress.
func (s SetupStatus) CanTransition(next SetupStatus) bool {
	switch s {
	case SetupPending:
		return next == SetupInProgress || next == SetupFailed
	case SetupInProgress:
		return next == SetupCompleted || next == SetupFailed
	default:
		return false
	}
}

// CrawlStatus is the lifecycle state of a CrawlRun.
type CrawlStatus string

// Crawl run status values persisted in the crawl_runs table.
const (
	CrawlPending    CrawlStatus = "pending"
	CrawlInProgress CrawlStatus = "in_progress"
	CrawlCompleted  CrawlStatus = "completed"
	CrawlFailed     CrawlStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s CrawlStatus) Terminal() bool {
	return s == CrawlCompleted || s == CrawlFailed
}

// CanTransition reports whether moving to next is a legal state change.
func (s CrawlStatus) CanTransition(next CrawlStatus) bool {
	switch s {
	case CrawlPending:
		return next == CrawlInProgress || next == CrawlFailed
	case CrawlInProgress:
		return next == CrawlCompleted || next == CrawlFailed
	default:
		return false
	}
}

// SetupKind distinguishes how a SetupRun discovered its URLs.
type SetupKind string

// Setup kinds.
const (
	SetupKindSitemap SetupKind = "sitemap"
	SetupKindManual  SetupKind = "manual"
)

// CrawlKind selects which inventory subset a CrawlRun covers.
type CrawlKind string

// Crawl kinds.
const (
	CrawlKindFull      CrawlKind = "full"
	CrawlKindSelective CrawlKind = "selective"
	CrawlKindManual    CrawlKind = "manual"
)

// SetupRun records one discovery attempt that populates the page inventory.
type SetupRun struct {
	ID         string      `json:"id"`
	SiteID     string      `json:"site_id"`
	Kind       SetupKind   `json:"kind"`
	Status     SetupStatus `json:"status"`
	TotalURLs  int         `json:"total_urls"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	Skipped    int         `json:"skipped"`
	CurrentURL string      `json:"current_url,omitempty"`
	Progress   int         `json:"progress_percentage"`
	ErrorText  string      `json:"error_text,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// CrawlError is one entry in a crawl run's structured error log.
type CrawlError struct {
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// AdapterUsage accumulates the cost ledger for one enrichment adapter.
type AdapterUsage struct {
	Requests int     `json:"requests"`
	Tokens   int     `json:"tokens"`
	CostUSD  float64 `json:"cost_usd"`
}

// Add folds another usage sample into the ledger.
func (u *AdapterUsage) Add(other AdapterUsage) {
	u.Requests += other.Requests
	u.Tokens += other.Tokens
	u.CostUSD += other.CostUSD
}

// CostLedger tracks per-adapter API spend for a crawl run.
type CostLedger struct {
	Embedding AdapterUsage `json:"embedding"`
	Entities  AdapterUsage `json:"entities"`
}

// CrawlRun records one extraction pass over a subset of PageRecords.
type CrawlRun struct {
	ID            string       `json:"id"`
	SiteID        string       `json:"site_id"`
	Kind          CrawlKind    `json:"kind"`
	Status        CrawlStatus  `json:"status"`
	TotalPages    int          `json:"total_pages"`
	Succeeded     int          `json:"successful_pages"`
	Failed        int          `json:"failed_pages"`
	CurrentURL    string       `json:"current_url,omitempty"`
	Progress      int          `json:"progress_percentage"`
	StatusMessage string       `json:"status_message,omitempty"`
	ErrorLog      []CrawlError `json:"error_log,omitempty"`
	Ledger        CostLedger   `json:"cost_ledger"`
	ElapsedMs     int64        `json:"elapsed_ms"`
	PagesPerMin   float64      `json:"pages_per_minute"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Heading is one node of the ordered heading hierarchy (H1..H6).
type Heading struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

// Entity is a salient named entity derived from page text.
type Entity struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Salience float64 `json:"salience"`
}

// PageRecord is the per-URL row holding both inventory status and
// extracted content. Uniqueness on (SiteID, URL) is a hard invariant.
type PageRecord struct {
	ID            string `json:"id"`
	SiteID        string `json:"site_id"`
	URL           string `json:"url"`
	Slug          string `json:"slug,omitempty"`
	StatusCode    int    `json:"status_code,omitempty"`
	IsFailed      bool   `json:"is_failed"`
	FailureReason string `json:"failure_reason,omitempty"`
	RetryCount    int    `json:"retry_count"`

	Title           string            `json:"title,omitempty"`
	MetaTitle       string            `json:"meta_title,omitempty"`
	MetaDescription string            `json:"meta_description,omitempty"`
	H1              string            `json:"h1,omitempty"`
	CanonicalURL    string            `json:"canonical_url,omitempty"`
	Hreflang        map[string]string `json:"hreflang,omitempty"`
	// Social holds the og:* and twitter:* card tags keyed by property name.
	Social           map[string]string `json:"social,omitempty"`
	Robots           string            `json:"robots,omitempty"`
	Viewport         string            `json:"viewport,omitempty"`
	MobileResponsive bool              `json:"mobile_responsive"`
	WordCount        int               `json:"word_count"`
	BodyText         string            `json:"body_text,omitempty"`
	Headings         []Heading         `json:"headings,omitempty"`
	Schemas          []map[string]any  `json:"schemas,omitempty"`
	InternalLinks    []string          `json:"internal_links,omitempty"`
	ExternalLinks    []string          `json:"external_links,omitempty"`
	ImageCount       int               `json:"image_count"`
	Screenshot       string            `json:"screenshot_ref,omitempty"`
	Embedding        []float32         `json:"embedding,omitempty"`
	Entities         []Entity          `json:"entities,omitempty"`
	Tags             []string          `json:"tags,omitempty"`

	LastCrawledAt *time.Time `json:"last_crawled_at,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ErrIllegalTransition signals an attempted status change the state machine
// forbids.
type ErrIllegalTransition struct {
	From, To string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}
