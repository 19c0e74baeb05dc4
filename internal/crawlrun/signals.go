package crawlrun

import (
	"time"

	"github.com/sitescope/crawler/internal/extract"
	"github.com/sitescope/crawler/internal/fetcher"
	"github.com/sitescope/crawler/internal/pages"
)

// applySignals merges one rendered fetch into the inventory record. Every
// extraction field is replaced, not merged: a recrawl fully supersedes the
// previous pass.
func applySignals(rec pages.PageRecord, page *fetcher.Page) pages.PageRecord {
	s := extract.Extract(page.HTML, page.FinalURL)

	now := time.Now().UTC()
	rec.StatusCode = page.StatusCode
	rec.IsFailed = false
	rec.FailureReason = ""
	rec.Slug = s.Slug
	rec.Title = s.Title
	rec.MetaTitle = s.MetaTitle
	rec.MetaDescription = s.MetaDescription
	rec.H1 = s.H1
	rec.CanonicalURL = s.CanonicalURL
	rec.Hreflang = s.Hreflang
	rec.Social = socialTags(s)
	rec.Robots = s.Robots
	rec.Viewport = s.Viewport
	rec.MobileResponsive = s.MobileResponsive
	rec.WordCount = s.WordCount
	rec.BodyText = s.BodyText
	rec.Headings = s.Headings
	rec.Schemas = s.Schemas
	rec.InternalLinks = s.InternalLinks
	rec.ExternalLinks = s.ExternalLinks
	rec.ImageCount = s.ImageCount
	rec.LastCrawledAt = &now
	rec.LastCheckedAt = &now
	return rec
}

func socialTags(s *extract.Signals) map[string]string {
	tags := make(map[string]string)
	put := func(key, val string) {
		if val != "" {
			tags[key] = val
		}
	}
	put("og:title", s.OGTitle)
	put("og:description", s.OGDescription)
	put("og:image", s.OGImage)
	put("og:type", s.OGType)
	put("twitter:card", s.TwitterCard)
	put("twitter:title", s.TwitterTitle)
	put("twitter:description", s.TwitterDesc)
	if len(tags) == 0 {
		return nil
	}
	return tags
}
