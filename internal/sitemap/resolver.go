package sitemap

import (
	"context"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
)

// Result is the flattened outcome of resolving one sitemap URL.
type Result struct {
	URLs           []string
	Kind           Kind
	NestedSitemaps []string
}

// Validation is the side-effect-free dry-run answer for an operator-supplied
// sitemap URL.
type Validation struct {
	Valid      bool      `json:"valid"`
	URLCount   int       `json:"url_count"`
	Kind       Kind      `json:"sitemap_kind,omitempty"`
	ErrorType  ErrorType `json:"error_type,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// Config tunes resolver retry behavior.
type Config struct {
	// MaxRetries bounds retry attempts for retryable failures.
	MaxRetries int
	// Backoff is the exponential base: attempt n waits Backoff^n seconds.
	Backoff float64
	// MaxDepth bounds sitemap-index recursion.
	MaxDepth int
}

// DefaultConfig returns the resolver defaults.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, Backoff: 2.0, MaxDepth: 3}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.Backoff <= 1 {
		c.Backoff = d.Backoff
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	return c
}

// Resolver fetches and parses sitemap documents, recursively expanding
// sitemap indexes. Duplicate URLs are returned as-is: suppression is the
// inventory layer's responsibility.
type Resolver struct {
	fetcher Fetcher
	cfg     Config
	logger  *zap.Logger

	// backoffUnit scales Backoff^attempt into a delay; one second in
	// production, shrunk in tests.
	backoffUnit time.Duration
}

// NewResolver builds a Resolver around the given fetcher.
func NewResolver(fetcher Fetcher, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher:     fetcher,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		backoffUnit: time.Second,
	}
}

// Resolve fetches url and returns every page URL it declares. When the
// document is a sitemap index and recursive is true, nested sitemaps are
// fetched concurrently up to maxDepth levels; individual nested failures are
// logged and dropped. An index that cannot recurse within maxDepth is a
// PARSE_ERROR with no partial URLs.
func (r *Resolver) Resolve(ctx context.Context, url string, recursive bool, maxDepth int) (*Result, error) {
	return r.resolve(ctx, url, recursive, 0, maxDepth)
}

// Validate performs a dry run of Resolve with no side effects, shaping the
// outcome for the operator-facing validation endpoint. The suggestion string
// is passed through verbatim.
func (r *Resolver) Validate(ctx context.Context, url string) Validation {
	res, err := r.Resolve(ctx, url, true, r.cfg.MaxDepth)
	if err != nil {
		v := Validation{Valid: false}
		if re, ok := AsResolveError(err); ok {
			v.ErrorType = re.Type
			v.Suggestion = re.Suggestion
		} else {
			v.ErrorType = ErrNetwork
			v.Suggestion = ErrNetwork.Suggestion()
		}
		return v
	}
	return Validation{Valid: true, URLCount: len(res.URLs), Kind: res.Kind}
}

func (r *Resolver) resolve(ctx context.Context, url string, recursive bool, depth, maxDepth int) (*Result, error) {
	doc, err := r.fetchWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}

	urls, kind, err := parseDocument(doc.URL, doc.Body)
	if err != nil {
		return nil, err
	}

	if kind != KindIndex || !recursive {
		return &Result{URLs: urls, Kind: kind}, nil
	}

	if depth+1 > maxDepth {
		return nil, NewResolveError(ErrParse, "sitemap recursion exceeded max depth", nil)
	}

	return r.expandIndex(ctx, urls, depth, maxDepth), nil
}

// expandIndex fans out one goroutine per nested sitemap and joins them all
// before returning. Breadth is naturally small for sitemap indexes, so no
// semaphore bounds the fan-out; recursion is bounded by maxDepth alone.
func (r *Resolver) expandIndex(ctx context.Context, nested []string, depth, maxDepth int) *Result {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		gathered []string
	)
	for _, nestedURL := range nested {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			sub, err := r.resolve(ctx, u, true, depth+1, maxDepth)
			if err != nil {
				r.logger.Warn("nested sitemap dropped",
					zap.String("url", u),
					zap.Int("depth", depth+1),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			gathered = append(gathered, sub.URLs...)
			mu.Unlock()
		}(nestedURL)
	}
	wg.Wait()

	return &Result{
		URLs:           gathered,
		Kind:           KindIndex,
		NestedSitemaps: nested,
	}
}

// fetchWithRetry wraps the fetcher in an exponential-backoff retry policy.
// Terminal classifications (404, 403, parse) are surfaced on the first
// attempt; retryable ones are re-fetched with strictly increasing delays.
func (r *Resolver) fetchWithRetry(ctx context.Context, url string) (*Document, error) {
	base := time.Duration(r.cfg.Backoff * float64(r.backoffUnit))
	maxDelay := time.Duration(float64(base) * r.cfg.Backoff * r.cfg.Backoff)

	policy := retrypolicy.NewBuilder[*Document]().
		WithMaxRetries(r.cfg.MaxRetries).
		WithBackoffFactor(base, maxDelay, r.cfg.Backoff).
		HandleIf(func(_ *Document, err error) bool {
			re, ok := AsResolveError(err)
			return ok && re.Type.Retryable()
		}).
		OnRetry(func(e failsafe.ExecutionEvent[*Document]) {
			r.logger.Debug("retrying sitemap fetch",
				zap.String("url", url),
				zap.Int("attempt", e.Attempts()),
				zap.Error(e.LastError()),
			)
		}).
		Build()

	doc, err := failsafe.With(policy).WithContext(ctx).Get(func() (*Document, error) {
		return r.fetcher.Fetch(ctx, url)
	})
	if err != nil {
		if re, ok := AsResolveError(err); ok {
			return nil, re
		}
		return nil, NewResolveError(ErrNetwork, "sitemap fetch failed", err)
	}
	return doc, nil
}
