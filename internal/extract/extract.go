// Package extract turns rendered HTML into a structured record of
// SEO-relevant signals. It performs no I/O: every function is pure over the
// HTML string and page URL, and every extractor is individually best-effort
// so one malformed fragment never aborts the rest.
package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sitescope/crawler/internal/pages"
)

// Signals is the structured output of one extraction pass.
type Signals struct {
	Title           string
	MetaTitle       string
	MetaDescription string

	OGTitle       string
	OGDescription string
	OGImage       string
	OGType        string
	TwitterCard   string
	TwitterTitle  string
	TwitterDesc   string

	H1           string
	CanonicalURL string
	Hreflang     map[string]string
	Robots       string
	Viewport     string

	Headings []pages.Heading
	Schemas  []map[string]any

	InternalLinks []string
	ExternalLinks []string
	ImageCount    int

	BodyText  string
	WordCount int

	MobileResponsive bool
	Slug             string
}

// Extract parses html and gathers every signal it can. A document that
// cannot be parsed at all yields an empty Signals value, never an error:
// partial pages are the norm, not the exception.
func Extract(html, pageURL string) *Signals {
	s := &Signals{Slug: pages.SlugFromURL(pageURL)}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return s
	}

	s.extractMeta(doc)
	s.extractHeadings(doc)
	s.Schemas = extractJSONLD(doc)
	s.extractLinks(doc, pageURL)
	s.ImageCount = doc.Find("img").Length()
	s.extractBodyText(doc)
	s.MobileResponsive = detectResponsive(doc)

	return s
}

func (s *Signals) extractMeta(doc *goquery.Document) {
	s.Title = strings.TrimSpace(doc.Find("title").First().Text())

	metas := map[string]*string{
		"title":               &s.MetaTitle,
		"description":         &s.MetaDescription,
		"robots":              &s.Robots,
		"viewport":            &s.Viewport,
		"twitter:card":        &s.TwitterCard,
		"twitter:title":       &s.TwitterTitle,
		"twitter:description": &s.TwitterDesc,
	}
	doc.Find("meta[name]").Each(func(_ int, sel *goquery.Selection) {
		name := strings.ToLower(sel.AttrOr("name", ""))
		if dest, ok := metas[name]; ok && *dest == "" {
			*dest = strings.TrimSpace(sel.AttrOr("content", ""))
		}
	})

	ogs := map[string]*string{
		"og:title":       &s.OGTitle,
		"og:description": &s.OGDescription,
		"og:image":       &s.OGImage,
		"og:type":        &s.OGType,
	}
	doc.Find("meta[property]").Each(func(_ int, sel *goquery.Selection) {
		prop := strings.ToLower(sel.AttrOr("property", ""))
		if dest, ok := ogs[prop]; ok && *dest == "" {
			*dest = strings.TrimSpace(sel.AttrOr("content", ""))
		}
	})

	// Open Graph fallbacks for the primary fields.
	if s.Title == "" {
		s.Title = s.OGTitle
	}
	if s.MetaDescription == "" {
		s.MetaDescription = s.OGDescription
	}

	s.H1 = strings.TrimSpace(doc.Find("h1").First().Text())
	s.CanonicalURL = strings.TrimSpace(doc.Find(`link[rel="canonical"]`).First().AttrOr("href", ""))

	doc.Find(`link[rel="alternate"][hreflang]`).Each(func(_ int, sel *goquery.Selection) {
		lang := strings.TrimSpace(sel.AttrOr("hreflang", ""))
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if lang == "" || href == "" {
			return
		}
		if s.Hreflang == nil {
			s.Hreflang = make(map[string]string)
		}
		if _, exists := s.Hreflang[lang]; !exists {
			s.Hreflang[lang] = href
		}
	})
}

// extractHeadings walks H1..H6 in document order.
func (s *Signals) extractHeadings(doc *goquery.Document) {
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		s.Headings = append(s.Headings, pages.Heading{
			Tag:  goquery.NodeName(sel),
			Text: collapseWhitespace(text),
		})
	})
}

// extractLinks splits anchors into internal and external against the page
// host. Relative links resolve against pageURL; anchors without a usable
// href (mailto, javascript, fragments) are skipped.
func (s *Signals) extractLinks(doc *goquery.Document, pageURL string) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		if sameSite(base.Hostname(), abs.Hostname()) {
			s.InternalLinks = append(s.InternalLinks, link)
		} else {
			s.ExternalLinks = append(s.ExternalLinks, link)
		}
	})
}

// sameSite treats www.example.com and example.com as one property.
func sameSite(a, b string) bool {
	trim := func(h string) string {
		return strings.TrimPrefix(strings.ToLower(h), "www.")
	}
	return trim(a) == trim(b)
}

// extractBodyText strips non-content elements and collapses whitespace.
func (s *Signals) extractBodyText(doc *goquery.Document) {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, iframe, svg").Remove()
	text := collapseWhitespace(body.Text())
	s.BodyText = text
	if text != "" {
		s.WordCount = len(strings.Fields(text))
	}
}

func collapseWhitespace(in string) string {
	return strings.Join(strings.Fields(in), " ")
}
