package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// frameworkClasses are grid/layout class prefixes from the common CSS
// frameworks. Presence of any of them on an element counts as evidence
// of a responsive layout.
var frameworkClasses = []string{
	"container-fluid", "col-sm", "col-md", "col-lg", "col-xl",
	"grid-x", "cell small-", "cell medium-",
	"sm:", "md:", "lg:",
}

// detectResponsive applies a layered heuristic: a viewport meta tag is the
// strongest signal, then media queries in inline styles, then framework
// grid classes on elements.
func detectResponsive(doc *goquery.Document) bool {
	viewport := doc.Find(`meta[name="viewport"]`).First().AttrOr("content", "")
	if strings.Contains(strings.ToLower(viewport), "width=device-width") {
		return true
	}

	mediaQuery := false
	doc.Find("style").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.Contains(sel.Text(), "@media") {
			mediaQuery = true
			return false
		}
		return true
	})
	if mediaQuery {
		return true
	}

	framework := false
	doc.Find("[class]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		classes := strings.ToLower(sel.AttrOr("class", ""))
		for _, cls := range frameworkClasses {
			if strings.Contains(classes, cls) {
				framework = true
				return false
			}
		}
		return true
	})
	return framework
}
