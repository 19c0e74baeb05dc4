// Package sitemap resolves sitemap URLs into flat page URL lists, expanding
// sitemap indexes recursively and classifying fetch failures so operators
// get actionable remediation text.
package sitemap

import (
	"errors"
	"fmt"
)

// ErrorType classifies resolver failures for the operator-facing surface.
type ErrorType string

// Resolver error taxonomy. NOT_FOUND and BOT_PROTECTION are terminal and
// never retried; RATE_LIMIT, SERVER_ERROR, TIMEOUT and NETWORK_ERROR are
// retryable up to the configured attempt budget.
const (
	ErrNotFound      ErrorType = "NOT_FOUND"
	ErrBotProtection ErrorType = "BOT_PROTECTION"
	ErrRateLimit     ErrorType = "RATE_LIMIT"
	ErrServerError   ErrorType = "SERVER_ERROR"
	ErrTimeout       ErrorType = "TIMEOUT"
	ErrNetwork       ErrorType = "NETWORK_ERROR"
	ErrParse         ErrorType = "PARSE_ERROR"
)

// suggestions is the operator remediation text per error type. The strings
// are preserved verbatim through every wrapping layer.
var suggestions = map[ErrorType]string{
	ErrNotFound:      "The sitemap was not found at this URL. Check the path (commonly /sitemap.xml or /sitemap_index.xml) or consult robots.txt for the declared sitemap location.",
	ErrBotProtection: "The server rejected the request, likely due to bot protection. Try submitting the page URLs manually, or whitelist the crawler's user agent with the site's protection provider.",
	ErrRateLimit:     "The server is rate limiting requests. Wait a few minutes before retrying, or reduce the crawl frequency for this site.",
	ErrServerError:   "The server returned an error. This is usually temporary; retry later or contact the site administrator if it persists.",
	ErrTimeout:       "The request timed out. The server may be slow or unreachable; retry later or increase the fetch timeout for this site.",
	ErrNetwork:       "A network error occurred while fetching the sitemap. Verify the host resolves and is reachable, then retry.",
	ErrParse:         "The document could not be parsed as a sitemap. Verify the URL returns valid sitemap XML (urlset, sitemap index, or RSS).",
}

// Suggestion returns the remediation text for the error type.
func (t ErrorType) Suggestion() string {
	return suggestions[t]
}

// Retryable reports whether a fetch failure of this type warrants a retry.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrRateLimit, ErrServerError, ErrTimeout, ErrNetwork:
		return true
	default:
		return false
	}
}

// ResolveError is the typed failure surfaced by the resolver. It carries the
// taxonomy classification, the verbatim operator suggestion, and the cause.
type ResolveError struct {
	Type       ErrorType
	Suggestion string
	StatusCode int
	msg        string
	cause      error
}

// NewResolveError builds a classified error with the type's canonical
// suggestion attached.
func NewResolveError(t ErrorType, msg string, cause error) *ResolveError {
	return &ResolveError{
		Type:       t,
		Suggestion: t.Suggestion(),
		msg:        msg,
		cause:      cause,
	}
}

func (e *ResolveError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.msg)
}

func (e *ResolveError) Unwrap() error { return e.cause }

// AsResolveError unwraps err to a *ResolveError if one is in the chain.
func AsResolveError(err error) (*ResolveError, bool) {
	var re *ResolveError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
