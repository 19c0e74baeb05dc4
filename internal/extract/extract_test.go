package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
	<title>  Acme Widgets | Home  </title>
	<meta name="description" content="Widgets for every occasion.">
	<meta name="robots" content="index, follow">
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<meta property="og:title" content="Acme Widgets">
	<meta property="og:image" content="https://cdn.acme.com/hero.png">
	<meta name="twitter:card" content="summary_large_image">
	<link rel="canonical" href="https://acme.com/">
	<link rel="alternate" hreflang="en" href="https://acme.com/">
	<link rel="alternate" hreflang="de" href="https://acme.com/de/">
</head>
<body>
	<h1>Welcome to Acme</h1>
	<h2>Our Products</h2>
	<h3>Widgets</h3>
	<h2>Contact</h2>
	<p>We make the finest widgets in the world. Call us today.</p>
	<a href="/products">Products</a>
	<a href="https://www.acme.com/about">About</a>
	<a href="https://partner.example.net/deal">Partner</a>
	<a href="mailto:sales@acme.com">Email</a>
	<a href="#top">Top</a>
	<img src="/a.png"><img src="/b.png">
	<script>var tracking = true;</script>
</body>
</html>`

func TestExtract_Metadata(t *testing.T) {
	t.Parallel()

	s := Extract(samplePage, "https://acme.com/")

	require.Equal(t, "Acme Widgets | Home", s.Title)
	require.Equal(t, "Widgets for every occasion.", s.MetaDescription)
	require.Equal(t, "index, follow", s.Robots)
	require.Equal(t, "Acme Widgets", s.OGTitle)
	require.Equal(t, "https://cdn.acme.com/hero.png", s.OGImage)
	require.Equal(t, "summary_large_image", s.TwitterCard)
	require.Equal(t, "https://acme.com/", s.CanonicalURL)
	require.Equal(t, "Welcome to Acme", s.H1)
	require.Equal(t, map[string]string{
		"en": "https://acme.com/",
		"de": "https://acme.com/de/",
	}, s.Hreflang)
	require.True(t, s.MobileResponsive)
}

func TestExtract_TitleFallsBackToOpenGraph(t *testing.T) {
	t.Parallel()

	html := `<html><head>
		<meta property="og:title" content="OG Only">
		<meta property="og:description" content="From OG">
	</head><body></body></html>`
	s := Extract(html, "https://acme.com/x")

	require.Equal(t, "OG Only", s.Title)
	require.Equal(t, "From OG", s.MetaDescription)
}

func TestExtract_HeadingHierarchy(t *testing.T) {
	t.Parallel()

	s := Extract(samplePage, "https://acme.com/")

	require.Len(t, s.Headings, 4)
	require.Equal(t, "h1", s.Headings[0].Tag)
	require.Equal(t, "Welcome to Acme", s.Headings[0].Text)
	require.Equal(t, "h2", s.Headings[1].Tag)
	require.Equal(t, "h3", s.Headings[2].Tag)
	require.Equal(t, "h2", s.Headings[3].Tag)
	require.Equal(t, "Contact", s.Headings[3].Text)
}

func TestExtract_LinkClassification(t *testing.T) {
	t.Parallel()

	s := Extract(samplePage, "https://acme.com/")

	require.Equal(t, []string{
		"https://acme.com/products",
		"https://www.acme.com/about",
	}, s.InternalLinks)
	require.Equal(t, []string{"https://partner.example.net/deal"}, s.ExternalLinks)
	require.Equal(t, 2, s.ImageCount)
}

func TestExtract_BodyTextSkipsScripts(t *testing.T) {
	t.Parallel()

	s := Extract(samplePage, "https://acme.com/")

	require.NotContains(t, s.BodyText, "tracking")
	require.Contains(t, s.BodyText, "finest widgets")
	require.Positive(t, s.WordCount)
}

func TestExtract_JSONLD_SkipsMalformedBlocks(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>Foo</title>
		<script type="application/ld+json">{not valid json</script>
		<script type="application/ld+json">{"@type":"Organization","name":"Acme"}</script>
	</head><body></body></html>`
	s := Extract(html, "https://acme.com/")

	require.Equal(t, "Foo", s.Title)
	require.Len(t, s.Schemas, 1)
	require.Equal(t, "Organization", s.Schemas[0]["@type"])
}

func TestExtract_JSONLD_FlattensArraysAndGraphs(t *testing.T) {
	t.Parallel()

	html := `<html><head>
		<script type="application/ld+json">[{"@type":"Product"},{"@type":"Review"}]</script>
		<script type="application/ld+json">{"@context":"https://schema.org","@graph":[{"@type":"WebSite"}]}</script>
	</head><body></body></html>`
	s := Extract(html, "https://acme.com/")

	require.Len(t, s.Schemas, 3)
	require.Equal(t, "Product", s.Schemas[0]["@type"])
	require.Equal(t, "WebSite", s.Schemas[2]["@type"])
}

func TestExtract_EmptyDocument(t *testing.T) {
	t.Parallel()

	s := Extract("", "https://acme.com/blog/post-1")

	require.Empty(t, s.Title)
	require.Zero(t, s.WordCount)
	require.Equal(t, "post-1", s.Slug)
	require.False(t, s.MobileResponsive)
}

func TestExtract_ResponsiveViaMediaQuery(t *testing.T) {
	t.Parallel()

	html := `<html><head><style>@media (max-width: 600px) { body { font-size: 12px; } }</style></head><body></body></html>`
	require.True(t, Extract(html, "https://acme.com/").MobileResponsive)
}

func TestExtract_ResponsiveViaFrameworkClasses(t *testing.T) {
	t.Parallel()

	html := `<html><body><div class="row"><div class="col-md-6">x</div></div></body></html>`
	require.True(t, Extract(html, "https://acme.com/").MobileResponsive)
}
