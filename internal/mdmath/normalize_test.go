package mdmath

import (
	"strings"
	"testing"
)

func TestNormalizeBlocks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"bracket block with latex body",
			"before\n[\n\\frac{a}{b}\n]\nafter",
			"before\n\n$$\n\\frac{a}{b}\n$$\n\nafter",
		},
		{
			"escaped bracket always converts",
			"\\[\nx\n\\]",
			"$$\nx\n$$",
		},
		{
			"escaped closer alone converts",
			"[\nx\n\\]",
			"$$\nx\n$$",
		},
		{
			"latex fence becomes display math",
			"```latex\n\\sum_{n=0}^{\\infty}\n```",
			"$$\n\\sum_{n=0}^{\\infty}\n$$",
		},
		{
			"math fence case-insensitive",
			"```MATH\na = b + 1\n```",
			"$$\na = b + 1\n$$",
		},
		{
			"plain bracket prose untouched",
			"[\nshopping list\nno math here\n]",
			"[\nshopping list\nno math here\n]",
		},
		{
			"task list untouched",
			"- [ ] 未完成\n- [x] 已完成",
			"- [ ] 未完成\n- [x] 已完成",
		},
		{
			"links untouched",
			"see [docs](https://example.com) for more",
			"see [docs](https://example.com) for more",
		},
		{
			"unclosed bracket flushed verbatim",
			"[\n\\frac{a}{b}",
			"[\n\\frac{a}{b}",
		},
		{
			"unclosed fence flushed verbatim",
			"```go\nfmt.Println(1)",
			"```go\nfmt.Println(1)",
		},
		{
			"blank edges trimmed inside math block",
			"[\n\n\\alpha\n\n]",
			"$$\n\\alpha\n$$",
		},
		{
			"tilde fence passes through",
			"~~~python\nx = [1]\n~~~",
			"~~~python\nx = [1]\n~~~",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeInline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"escaped parens with macro",
			"\\(\\frac{N}{k}\\)",
			"$\\frac{N}{k}$",
		},
		{
			"escaped parens mid-sentence",
			"ratio \\(\\frac{N}{k}\\) holds",
			"ratio $\\frac{N}{k}$ holds",
		},
		{
			"escaped parens around prose stay",
			"\\(just words\\)",
			"\\(just words\\)",
		},
		{
			"relational signal converts",
			"\\(a=1\\)",
			"$a=1$",
		},
		{
			"bare parens with backslash",
			"bound (\\frac{N}{k}) tight",
			"bound $\\left(\\frac{N}{k}\\right)$ tight",
		},
		{
			"bare parens without backslash stay",
			"a prose (x = 1) aside",
			"a prose (x = 1) aside",
		},
		{
			"nested parens stay",
			"(a (\\frac{1}{2}) b)",
			"(a $\\left(\\frac{1}{2}\\right)$ b)",
		},
		{
			"backtick line skipped",
			"code `\\(\\frac{N}{k}\\)` here",
			"code `\\(\\frac{N}{k}\\)` here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeFenceProtection(t *testing.T) {
	t.Parallel()

	in := "```\n[\n\\frac{a}{b}\n]\n```"
	if got := Normalize(in); got != in {
		t.Fatalf("fenced content changed:\n%q", got)
	}

	in = "~~~text\n\\(\\frac{N}{k}\\)\n~~~"
	if got := Normalize(in); got != in {
		t.Fatalf("fenced inline changed:\n%q", got)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"before\n[\n\\frac{a}{b}\n]\nafter",
		"```latex\n\\sum_{n=0}^{\\infty}\n```",
		"\\(\\frac{N}{k}\\)",
		"bound (\\frac{N}{k}) tight",
		"[\nshopping list\n]",
		"text with (plain parens) and `\\(code\\)`",
		"\\[\n\\begin{aligned}\na &= b \\\\\n\\end{aligned}\n\\]",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("not idempotent for %q:\nonce:  %q\ntwice: %q", in, once, twice)
		}
	}
}

func TestLooksLikeLatexMath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want bool
	}{
		{"empty", "", false},
		{"whitespace only", "  \n\t", false},
		{"backslash command", "\\alpha", true},
		{"environment", "\\begin{matrix}1\\end{matrix}", true},
		{"macro word", "frac 1 2", true},
		{"supsub with op", "x^2 + 1", true},
		{"relational with letter and digit", "x < 10", true},
		{"relational without digit", "a < b", false},
		{"plain prose", "shopping list", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := looksLikeLatexMath(strings.Split(tt.body, "\n"))
			if got != tt.want {
				t.Errorf("looksLikeLatexMath(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}
