package render

import (
	"html/template"
	"strings"

	"notehub/internal/cssscope"
)

// ArticleStyle scopes an article's own CSS to scopeSelector so one
// note's styling can never leak into the page chrome or another note.
// Empty input produces no style block.
func ArticleStyle(css, scopeSelector string) template.CSS {
	css = strings.TrimSpace(css)
	if css == "" {
		return ""
	}
	return template.CSS(cssscope.Scope(css, scopeSelector))
}
