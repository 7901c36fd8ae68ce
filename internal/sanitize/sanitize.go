// Package sanitize flattens model output into plain text. The prompt asks
// the model for plain text, but Markdown and LaTeX markup still leak
// through; stripping it here keeps the clients free of display-side fixups.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	reFencedCode  = regexp.MustCompile("(?s)```.*?```")
	reInlineCode  = regexp.MustCompile("`([^`]+)`")
	reDollars     = regexp.MustCompile(`\$+`)
	reTexDelims   = regexp.MustCompile(`\\\(|\\\)|\\\[|\\\]`)
	reHeading     = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	reDashDigit   = regexp.MustCompile(`(?m)^\s*-\s+(\d)`)
	rePlusDigit   = regexp.MustCompile(`(?m)^\s*\+\s+(\d)`)
	reListMarker  = regexp.MustCompile(`(?m)^\s{0,3}(?:[-*+]\s+|\d+\.)\s+`)
	reBlockquote  = regexp.MustCompile(`(?m)^\s*>\s?`)
	reBold        = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reItalic      = regexp.MustCompile(`\*([^*]+)\*`)
	reUnderline2  = regexp.MustCompile(`__([^_]+)__`)
	reUnderline1  = regexp.MustCompile(`_([^_]+)_`)
	reFrac        = regexp.MustCompile(`\\frac\s*\{([^}]*)\}\s*\{([^}]*)\}`)
	reSqrt        = regexp.MustCompile(`\\sqrt\s*\{([^}]*)\}`)
	reCircSup     = regexp.MustCompile(`\^\\circ`)
	reCirc        = regexp.MustCompile(`\\circ`)
	reTexCommand  = regexp.MustCompile(`\\([A-Za-z]+)`)
	reBraces      = regexp.MustCompile(`[{}]`)
	reManyNewline = regexp.MustCompile(`\n{3,}`)
	reManySpace   = regexp.MustCompile(`[ \t]{2,}`)
)

// Plain strips Markdown and LaTeX markup from text, keeping the enclosed
// content. It is total and idempotent; empty input yields an empty string.
func Plain(input string) string {
	if input == "" {
		return ""
	}
	s := input

	// Common wrappers and delimiters first.
	s = reFencedCode.ReplaceAllString(s, " ")
	s = reInlineCode.ReplaceAllString(s, "$1")
	s = reDollars.ReplaceAllString(s, "")
	s = reTexDelims.ReplaceAllString(s, "")

	// Markdown decorations. "- 3" is squeezed to "-3" before bullet
	// removal so a leading minus sign is not mistaken for a list marker.
	s = reHeading.ReplaceAllString(s, "")
	s = reDashDigit.ReplaceAllString(s, "-$1")
	s = rePlusDigit.ReplaceAllString(s, "+$1")
	s = reListMarker.ReplaceAllString(s, "")
	s = reBlockquote.ReplaceAllString(s, "")
	s = reBold.ReplaceAllString(s, "$1")
	s = reItalic.ReplaceAllString(s, "$1")
	s = reUnderline2.ReplaceAllString(s, "$1")
	s = reUnderline1.ReplaceAllString(s, "$1")

	// Break down the common LaTeX constructs without losing meaning.
	s = reFrac.ReplaceAllString(s, "($1)/($2)")
	s = reSqrt.ReplaceAllString(s, "sqrt($1)")
	s = reCircSup.ReplaceAllString(s, "°")
	s = reCirc.ReplaceAllString(s, "°")

	// Leftover backslash commands keep their word (\pi -> pi); leftover
	// braces are TeX residue.
	s = reTexCommand.ReplaceAllString(s, "$1")
	s = reBraces.ReplaceAllString(s, "")

	// Whitespace normalization.
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = reManyNewline.ReplaceAllString(s, "\n\n")
	s = reManySpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
