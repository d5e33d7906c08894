package mdmath

import (
	"strings"
)

// Normalize rewrites bracket / fence delimited LaTeX blocks and
// parenthesized inline math into standard $...$ / $$...$$ delimiters.
// Code fences (other than latex/math ones), inline code spans, list
// markers and links are never touched. Malformed input passes through
// verbatim; this runs on editor-authored content and must not fail.
func Normalize(text string) string {
	// 统一换行符
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := blockPass(strings.Split(text, "\n"))
	lines = inlinePass(lines)
	return strings.TrimRight(strings.Join(lines, "\n"), " \t\n")
}

const (
	stateNormal = iota
	stateFence
	stateBracket
)

func blockPass(lines []string) []string {
	var out []string
	state := stateNormal

	var (
		fenceOpen string
		fenceChar byte
		fenceLen  int
		fenceMath bool
		body      []string

		bracketOpen string
		bracketEsc  bool
	)

	emitMath := func(inner []string) {
		inner = trimBlankEdges(inner)
		if len(out) > 0 && out[len(out)-1] != "" {
			out = append(out, "")
		}
		out = append(out, "$$")
		out = append(out, inner...)
		out = append(out, "$$", "")
	}

	for _, line := range lines {
		switch state {
		case stateFence:
			if isFenceClose(line, fenceChar, fenceLen) {
				if fenceMath {
					emitMath(body)
				} else {
					out = append(out, fenceOpen)
					out = append(out, body...)
					out = append(out, line)
				}
				state = stateNormal
				body = nil
				continue
			}
			body = append(body, line)

		case stateBracket:
			trimmed := strings.TrimSpace(line)
			if trimmed == "]" || trimmed == `\]` {
				if bracketEsc || trimmed == `\]` || looksLikeLatexMath(body) {
					emitMath(body)
				} else {
					// 普通的方括号段落，保持原样
					out = append(out, bracketOpen)
					out = append(out, body...)
					out = append(out, line)
				}
				state = stateNormal
				body = nil
				continue
			}
			body = append(body, line)

		default:
			if ch, n, lang, ok := parseFenceOpen(line); ok {
				state = stateFence
				fenceOpen = line
				fenceChar, fenceLen = ch, n
				lang = strings.ToLower(strings.TrimSpace(lang))
				fenceMath = lang == "latex" || lang == "math"
				body = nil
				continue
			}
			trimmed := strings.TrimSpace(line)
			if trimmed == "[" || trimmed == `\[` {
				state = stateBracket
				bracketOpen = line
				bracketEsc = trimmed == `\[`
				body = nil
				continue
			}
			out = append(out, line)
		}
	}

	// 未闭合的块整体原样吐回，不能静默丢掉
	switch state {
	case stateFence:
		out = append(out, fenceOpen)
		out = append(out, body...)
	case stateBracket:
		out = append(out, bracketOpen)
		out = append(out, body...)
	}
	return out
}

// parseFenceOpen reports whether line opens a fenced code block: a run
// of 3+ backticks or tildes with an optional info string.
func parseFenceOpen(line string) (ch byte, n int, lang string, ok bool) {
	t := strings.TrimLeft(line, " \t")
	if t == "" {
		return 0, 0, "", false
	}
	c := t[0]
	if c != '`' && c != '~' {
		return 0, 0, "", false
	}
	i := 0
	for i < len(t) && t[i] == c {
		i++
	}
	if i < 3 {
		return 0, 0, "", false
	}
	rest := strings.TrimSpace(t[i:])
	if strings.ContainsRune(rest, rune(c)) {
		return 0, 0, "", false
	}
	if fields := strings.Fields(rest); len(fields) > 0 {
		rest = fields[0]
	}
	return c, i, rest, true
}

// isFenceClose: a run of only the opening character, at least as long
// as the opening run.
func isFenceClose(line string, ch byte, openLen int) bool {
	t := strings.TrimSpace(line)
	if len(t) < openLen {
		return false
	}
	for i := 0; i < len(t); i++ {
		if t[i] != ch {
			return false
		}
	}
	return true
}

func trimBlankEdges(lines []string) []string {
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	end := len(lines)
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}
