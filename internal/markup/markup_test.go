package markup_test

import (
	"strings"
	"testing"

	"storyline/internal/markup"
)

func TestToMarkdown(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"heading", "== Section ==", "## Section"},
		{"deep heading", "=== Sub", "### Sub"},
		{"bullet", "* item", "- item"},
		{"nested bullet", "  * item", "  - item"},
		{"numbered", "# first", "1. first"},
		{"wiki link", "see [[https://x.test|the docs]]", "see [the docs](https://x.test)"},
		{"bare link", "see [[https://x.test]]", "see [https://x.test](https://x.test)"},
		{"bold", "a *strong* word", "a **strong** word"},
		{"italic", "an _em_ word", "an *em* word"},
		{"plain", "nothing here", "nothing here"},
	}
	for _, tc := range cases {
		if got := markup.ToMarkdown(tc.in); got != tc.want {
			t.Fatalf("%s: ToMarkdown(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestToMarkdownCodeBlockPassthrough(t *testing.T) {
	in := strings.Join([]string{
		"before *bold*",
		"{{{go",
		"x := ptr // *not bold*",
		"= not a heading",
		"}}}",
		"after",
	}, "\n")
	want := strings.Join([]string{
		"before **bold**",
		"```go",
		"x := ptr // *not bold*",
		"= not a heading",
		"```",
		"after",
	}, "\n")
	if got := markup.ToMarkdown(in); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}
