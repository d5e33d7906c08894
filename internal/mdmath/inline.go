package mdmath

import "strings"

// inlinePass converts inline math on each line. Lines inside a fence
// and lines containing a backtick are left alone so code is never
// rewritten.
func inlinePass(lines []string) []string {
	out := make([]string, 0, len(lines))

	var (
		inFence  bool
		fenceCh  byte
		fenceLen int
	)
	for _, line := range lines {
		if inFence {
			out = append(out, line)
			if isFenceClose(line, fenceCh, fenceLen) {
				inFence = false
			}
			continue
		}
		if ch, n, _, ok := parseFenceOpen(line); ok {
			inFence, fenceCh, fenceLen = true, ch, n
			out = append(out, line)
			continue
		}
		if strings.Contains(line, "`") {
			out = append(out, line)
			continue
		}
		out = append(out, convertBareParens(convertEscapedParens(line)))
	}
	return out
}

// convertEscapedParens rewrites \(...\) to $...$ when the content
// looks like math; otherwise the delimiters stay as written.
func convertEscapedParens(line string) string {
	var b strings.Builder
	for {
		i := strings.Index(line, `\(`)
		if i < 0 {
			break
		}
		j := strings.Index(line[i+2:], `\)`)
		if j < 0 {
			break
		}
		inner := line[i+2 : i+2+j]
		b.WriteString(line[:i])
		if looksLikeLatexInlineMath(inner) {
			b.WriteString("$")
			b.WriteString(inner)
			b.WriteString("$")
		} else {
			b.WriteString(line[i : i+2+j+2])
		}
		line = line[i+2+j+2:]
	}
	b.WriteString(line)
	return b.String()
}

// convertBareParens rewrites a plain (...) group into
// $\left(...\right)$ when it contains a backslash and looks like math.
// Groups with nested parens, prose parentheticals (no backslash) and
// already-converted \left(...\right) groups are left alone.
func convertBareParens(line string) string {
	var b strings.Builder
	i := 0
	for i < len(line) {
		c := line[i]
		if c != '(' || (i > 0 && line[i-1] == '\\') {
			b.WriteByte(c)
			i++
			continue
		}
		j := strings.IndexAny(line[i+1:], "()")
		if j < 0 || line[i+1+j] == '(' {
			b.WriteByte(c)
			i++
			continue
		}
		inner := line[i+1 : i+1+j]
		end := i + 1 + j + 1

		convertible := len(inner) <= inlineMaxLen &&
			strings.Contains(inner, `\`) &&
			!strings.HasSuffix(line[:i], `\left`) &&
			!strings.Contains(inner, `\left`) &&
			!strings.Contains(inner, `\right`) &&
			looksLikeLatexInlineMath(inner)

		if convertible {
			b.WriteString(`$\left(`)
			b.WriteString(inner)
			b.WriteString(`\right)$`)
		} else {
			b.WriteString(line[i:end])
		}
		i = end
	}
	return b.String()
}
