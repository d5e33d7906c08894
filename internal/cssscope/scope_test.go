package cssscope

import (
	"strings"
	"testing"
)

func TestScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		css   string
		scope string
		want  string
	}{
		{
			"plain rule",
			".a{color:red}",
			"#root",
			"#root .a{color:red}",
		},
		{
			"selector list",
			".a, .b{color:red}",
			"#root",
			"#root .a, #root .b{color:red}",
		},
		{
			"root substitution",
			":root{--x:1}",
			"#root",
			"#root{--x:1}",
		},
		{
			"already scoped untouched",
			"#root .a{color:red}",
			"#root",
			"#root .a{color:red}",
		},
		{
			"keyframes body untouched",
			"@keyframes spin{from{x:0}to{x:1}}",
			"#root",
			"@keyframes spin{from{x:0}to{x:1}}",
		},
		{
			"vendor keyframes untouched",
			"@-webkit-keyframes spin{0%{x:0}100%{x:1}}",
			"#root",
			"@-webkit-keyframes spin{0%{x:0}100%{x:1}}",
		},
		{
			"font-face untouched",
			"@font-face{font-family:X;src:url(x.woff)}",
			"#root",
			"@font-face{font-family:X;src:url(x.woff)}",
		},
		{
			"blockless at-rule verbatim",
			`@import "x";.a{color:red}`,
			"#root",
			`@import "x";#root .a{color:red}`,
		},
		{
			"media recursion",
			"@media (max-width:600px){.a{color:red}}",
			"#root",
			"@media (max-width:600px){#root .a{color:red}}",
		},
		{
			"comma inside :is stays together",
			":is(h1, h2){margin:0}",
			"#root",
			"#root :is(h1, h2){margin:0}",
		},
		{
			"style closer escaped",
			".a{content:'</style>'}",
			"#root",
			`#root .a{content:'<\/style>'}`,
		},
		{
			"truncated input copied verbatim",
			".a{color:red",
			"#root",
			".a{color:red",
		},
		{
			"multiple rules with whitespace",
			".a{x:1}\n\n.b{y:2}",
			"#root",
			"#root .a{x:1}\n\n#root .b{y:2}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scope(tt.css, tt.scope)
			if got != tt.want {
				t.Errorf("Scope() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScopeBraceBalance(t *testing.T) {
	t.Parallel()

	inputs := []string{
		".a{x:1}",
		"@media screen{@media (min-width:1px){.a{x:1}}}",
		"@keyframes k{from{x:0}to{x:1}}",
		".a{x:1}.b{y:2}",
	}
	for _, in := range inputs {
		out := Scope(in, ".note")
		if strings.Count(out, "{") != strings.Count(in, "{") ||
			strings.Count(out, "}") != strings.Count(in, "}") {
			t.Errorf("brace structure changed for %q: %q", in, out)
		}
	}
}
