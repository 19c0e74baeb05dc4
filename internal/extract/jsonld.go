package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractJSONLD collects structured data from ld+json script blocks.
// Each block parses independently; a malformed block is skipped so one
// broken snippet does not discard valid markup elsewhere on the page.
// Top-level arrays and @graph containers are flattened into the result.
func extractJSONLD(doc *goquery.Document) []map[string]any {
	var schemas []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}
		var payload any
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return
		}
		schemas = append(schemas, flattenSchema(payload)...)
	})
	return schemas
}

func flattenSchema(payload any) []map[string]any {
	switch v := payload.(type) {
	case []any:
		var out []map[string]any
		for _, item := range v {
			out = append(out, flattenSchema(item)...)
		}
		return out
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok && len(v) <= 2 {
			// {"@context": ..., "@graph": [...]} wrapper
			var out []map[string]any
			for _, item := range graph {
				out = append(out, flattenSchema(item)...)
			}
			return out
		}
		return []map[string]any{v}
	default:
		return nil
	}
}
