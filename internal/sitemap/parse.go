package sitemap

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Kind identifies the document shape the parser matched.
type Kind string

// Supported sitemap document shapes.
const (
	KindURLSet  Kind = "urlset"
	KindIndex   Kind = "sitemap_index"
	KindRSS     Kind = "rss"
	KindUnknown Kind = "unknown"
)

// xpathPattern pairs an XPath query with the kind it implies. Patterns are
// tried in order and the first one yielding results wins: namespaced urlset,
// namespaced sitemap index, RSS items, then the non-namespaced variants.
type xpathPattern struct {
	query string
	kind  Kind
}

var parsePatterns = []xpathPattern{
	{"//*[local-name()='urlset']/*[local-name()='url']/*[local-name()='loc']", KindURLSet},
	{"//*[local-name()='sitemapindex']/*[local-name()='sitemap']/*[local-name()='loc']", KindIndex},
	{"//item/link", KindRSS},
	{"//urlset/url/loc", KindURLSet},
	{"//sitemapindex/sitemap/loc", KindIndex},
}

// gzipMagic is the two-byte header of every gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

// maybeGunzip transparently decompresses gzipped sitemap bodies, whether
// signalled by the URL extension or by the payload itself.
func maybeGunzip(url string, body []byte) ([]byte, error) {
	compressed := strings.HasSuffix(strings.ToLower(url), ".gz") || bytes.HasPrefix(body, gzipMagic)
	if !compressed {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, NewResolveError(ErrParse, "failed to decompress sitemap", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, NewResolveError(ErrParse, "failed to decompress sitemap", err)
	}
	return plain, nil
}

// parseDocument extracts URL entries from a sitemap body. It returns the
// matched kind alongside the entries; an unparsable or empty document is a
// PARSE_ERROR.
func parseDocument(url string, body []byte) ([]string, Kind, error) {
	body, err := maybeGunzip(url, body)
	if err != nil {
		return nil, KindUnknown, err
	}

	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, KindUnknown, NewResolveError(ErrParse, "invalid XML document", err)
	}

	for _, pattern := range parsePatterns {
		nodes, qerr := xmlquery.QueryAll(doc, pattern.query)
		if qerr != nil || len(nodes) == 0 {
			continue
		}
		urls := make([]string, 0, len(nodes))
		for _, n := range nodes {
			loc := strings.TrimSpace(n.InnerText())
			if loc != "" {
				urls = append(urls, loc)
			}
		}
		if len(urls) > 0 {
			return urls, pattern.kind, nil
		}
	}

	return nil, KindUnknown, NewResolveError(ErrParse, "no URLs found in sitemap", nil)
}
