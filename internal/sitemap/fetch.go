package sitemap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Document is the raw result of one sitemap fetch.
type Document struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
}

// Fetcher retrieves one sitemap document. Implementations classify failures
// as *ResolveError so the resolver can apply its retry policy.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// FetchConfig controls the colly-backed fetcher.
type FetchConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyFetcher fetches sitemap documents through a colly collector with
// browser-like request headers. Challenge pages from bot-protection vendors
// key off missing Accept/Accept-Language more often than the UA string, so
// the full set is always sent.
type CollyFetcher struct {
	cfg           FetchConfig
	baseCollector *colly.Collector
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// NewCollyFetcher builds a fetcher for one-shot sitemap requests.
func NewCollyFetcher(cfg FetchConfig) *CollyFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(cfg.Timeout)
	return &CollyFetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single GET and returns the body, classifying any failure
// into the resolver error taxonomy.
func (f *CollyFetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewResolveError(ErrNetwork, "fetch aborted", err)
	}

	doc := &Document{URL: url, FinalURL: url}
	var fetchErr error

	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/xml,text/xml,application/rss+xml,text/html;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Accept-Encoding", "gzip, deflate")
		r.Headers.Set("Cache-Control", "no-cache")
	})
	collector.OnResponse(func(r *colly.Response) {
		doc.StatusCode = r.StatusCode
		doc.Body = append(doc.Body[:0], r.Body...)
		if r.Request != nil && r.Request.URL != nil {
			doc.FinalURL = r.Request.URL.String()
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			doc.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := collector.Visit(url); err != nil && fetchErr == nil {
		fetchErr = err
	}
	collector.Wait()

	if fetchErr != nil || doc.StatusCode >= 400 {
		return nil, classifyFetch(url, doc.StatusCode, fetchErr)
	}
	return doc, nil
}

// classifyFetch maps an HTTP status and/or transport error to the taxonomy.
func classifyFetch(url string, status int, err error) *ResolveError {
	switch {
	case status == http.StatusNotFound:
		e := NewResolveError(ErrNotFound, fmt.Sprintf("sitemap not found at %s", url), err)
		e.StatusCode = status
		return e
	case status == http.StatusForbidden:
		e := NewResolveError(ErrBotProtection, fmt.Sprintf("access to %s was forbidden", url), err)
		e.StatusCode = status
		return e
	case status == http.StatusTooManyRequests:
		e := NewResolveError(ErrRateLimit, fmt.Sprintf("rate limited fetching %s", url), err)
		e.StatusCode = status
		return e
	case status >= 500:
		e := NewResolveError(ErrServerError, fmt.Sprintf("server error %d fetching %s", status, url), err)
		e.StatusCode = status
		return e
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewResolveError(ErrTimeout, fmt.Sprintf("timed out fetching %s", url), err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return NewResolveError(ErrTimeout, fmt.Sprintf("timed out fetching %s", url), err)
		}
		return NewResolveError(ErrNetwork, fmt.Sprintf("network error fetching %s", url), err)
	}
	return NewResolveError(ErrNetwork, fmt.Sprintf("fetch of %s failed with status %d", url, status), nil)
}
