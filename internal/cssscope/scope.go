package cssscope

import "strings"

// Scope prefixes every selector in css with scopeSelector so the
// stylesheet only applies inside that element. @keyframes and
// @font-face bodies pass through untouched, nested at-rules like
// @media are scoped recursively, and malformed input degrades to
// verbatim copy instead of failing. The brace nesting of the output is
// always identical to the input.
func Scope(css, scopeSelector string) string {
	// 防止内嵌到 <style> 里时提前闭合
	css = strings.ReplaceAll(css, "</style", `<\/style`)
	return scopeBlock(css, scopeSelector)
}

func scopeBlock(css, scope string) string {
	var b strings.Builder
	i := 0
	n := len(css)

	for i < n {
		// copy inter-rule whitespace as-is
		start := i
		for i < n && isSpace(css[i]) {
			i++
		}
		b.WriteString(css[start:i])
		if i >= n {
			break
		}

		if css[i] == '@' {
			i = copyAtRule(&b, css, i, scope)
			continue
		}

		brace := indexAt(css, i, '{')
		if brace < 0 {
			// 没有规则体了，剩余部分原样拷贝
			b.WriteString(css[i:])
			break
		}
		end := matchBrace(css, brace)
		if end < 0 {
			b.WriteString(css[i:])
			break
		}

		b.WriteString(scopeSelectorList(css[i:brace], scope))
		b.WriteString(css[brace : end+1])
		i = end + 1
	}
	return b.String()
}

// copyAtRule handles one at-rule starting at css[i] == '@' and returns
// the index after it.
func copyAtRule(b *strings.Builder, css string, i int, scope string) int {
	n := len(css)

	j := i
	for j < n && css[j] != '{' && css[j] != ';' {
		j++
	}
	if j >= n {
		b.WriteString(css[i:])
		return n
	}
	if css[j] == ';' {
		// e.g. @import "x";
		b.WriteString(css[i : j+1])
		return j + 1
	}

	end := matchBrace(css, j)
	if end < 0 {
		b.WriteString(css[i:])
		return n
	}

	name := atRuleName(css[i:j])
	body := css[j+1 : end]

	b.WriteString(css[i : j+1])
	if strings.Contains(name, "keyframes") || name == "font-face" {
		// keyframe percentage/from/to selectors must never be scoped
		b.WriteString(body)
	} else {
		b.WriteString(scopeBlock(body, scope))
	}
	b.WriteByte('}')
	return end + 1
}

// atRuleName extracts the lowercased rule name from "@-webkit-keyframes
// spin", stripping vendor handling to the caller.
func atRuleName(prelude string) string {
	s := strings.TrimPrefix(strings.TrimSpace(prelude), "@")
	for i := 0; i < len(s); i++ {
		if isSpace(s[i]) {
			s = s[:i]
			break
		}
	}
	return strings.ToLower(s)
}

// matchBrace returns the index of the '}' matching the '{' at open, or
// -1 when the input is truncated.
func matchBrace(css string, open int) int {
	depth := 0
	for i := open; i < len(css); i++ {
		switch css[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func scopeSelectorList(list, scope string) string {
	parts := splitTopLevel(list)
	for k, sel := range parts {
		sel = strings.TrimSpace(sel)
		switch {
		case strings.HasPrefix(sel, scope):
			// already scoped
		case sel == ":root":
			sel = scope
		default:
			sel = scope + " " + sel
		}
		parts[k] = sel
	}
	return strings.Join(parts, ", ")
}

// splitTopLevel splits a selector list on commas that are not inside
// parentheses or brackets, e.g. :is(a, b) stays together.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

func indexAt(s string, from int, c byte) int {
	idx := strings.IndexByte(s[from:], c)
	if idx < 0 {
		return -1
	}
	return from + idx
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
