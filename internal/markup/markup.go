// Package markup converts the editing surface's wiki-style rich text into
// the tracker's markdown dialect. The conversion is one-way; saved
// descriptions are already markdown and never pass back through it.
package markup

import (
	"regexp"
	"strings"
)

var (
	headingRe  = regexp.MustCompile(`^(=+)\s*(.*?)\s*=*\s*$`)
	boldRe     = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicRe   = regexp.MustCompile(`\b_([^_\n]+)_\b`)
	wikiLinkRe = regexp.MustCompile(`\[\[([^\]|]+)\|([^\]]+)\]\]`)
	bareLinkRe = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
	bulletRe   = regexp.MustCompile(`^(\s*)\*\s+`)
	numberedRe = regexp.MustCompile(`^(\s*)#\s+`)
)

// ToMarkdown rewrites wiki markup line by line. Fenced code blocks opened
// with {{{ and closed with }}} pass through untouched.
func ToMarkdown(text string) string {
	var out []string
	inCode := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inCode && strings.HasPrefix(trimmed, "{{{"):
			inCode = true
			lang := strings.TrimPrefix(trimmed, "{{{")
			out = append(out, "```"+strings.TrimSpace(lang))
			continue
		case inCode && trimmed == "}}}":
			inCode = false
			out = append(out, "```")
			continue
		case inCode:
			out = append(out, line)
			continue
		}
		out = append(out, convertLine(line))
	}
	return strings.Join(out, "\n")
}

func convertLine(line string) string {
	if m := headingRe.FindStringSubmatch(line); m != nil && m[2] != "" {
		return strings.Repeat("#", len(m[1])) + " " + m[2]
	}
	line = numberedRe.ReplaceAllString(line, "${1}1. ")
	line = bulletRe.ReplaceAllString(line, "${1}- ")
	line = wikiLinkRe.ReplaceAllString(line, "[$2]($1)")
	line = bareLinkRe.ReplaceAllString(line, "[$1]($1)")
	line = boldRe.ReplaceAllString(line, "**$1**")
	line = italicRe.ReplaceAllString(line, "*$1*")
	return line
}
