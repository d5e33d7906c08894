package mdmath

import (
	"regexp"
	"strings"
)

// Deliberately fuzzy pattern matching, not a LaTeX grammar. False
// positives/negatives on ambiguous prose are accepted behavior.
var (
	reCommand = regexp.MustCompile(`\\[A-Za-z]+`)
	reEnv     = regexp.MustCompile(`\\(begin|end)\{`)
	reMacro   = regexp.MustCompile(`\b(frac|sqrt|sum|prod|int|lim|left|right|cdot|times|le|ge|neq|approx|sim)\b`)
	reSupSub  = regexp.MustCompile(`[A-Za-z0-9)\]}][\^_](\{[^{}]*\}|[A-Za-z0-9]+)`)
	reOp      = regexp.MustCompile(`[=<>+\-*/]`)
	reAlnum   = regexp.MustCompile(`[A-Za-z0-9]`)
	reRel     = regexp.MustCompile(`[=<>]`)
	reLetter  = regexp.MustCompile(`[A-Za-z]`)
	reDigit   = regexp.MustCompile(`[0-9]`)
)

func looksLikeLatexMath(lines []string) bool {
	return hasMathSignal(strings.TrimSpace(strings.Join(lines, "\n")))
}

const inlineMaxLen = 200

func looksLikeLatexInlineMath(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) > inlineMaxLen {
		return false
	}
	return hasMathSignal(s)
}

func hasMathSignal(s string) bool {
	if s == "" {
		return false
	}
	if reCommand.MatchString(s) || reEnv.MatchString(s) || reMacro.MatchString(s) {
		return true
	}
	if reSupSub.MatchString(s) && reOp.MatchString(s) && reAlnum.MatchString(s) {
		return true
	}
	return reRel.MatchString(s) && reLetter.MatchString(s) && reDigit.MatchString(s)
}
