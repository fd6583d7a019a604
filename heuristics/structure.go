// Package heuristics holds the line-level pattern library shared by the
// plain-text, PDF and log parsers: heading styles, list markers, table
// delimiters and column inference, log levels and addresses.
package heuristics

import (
	"regexp"
	"strings"
	"unicode"
)

// ---------------------------------------------------------------------------
// Heading pattern detection
// ---------------------------------------------------------------------------

// Heading styles reported by DetectHeading.
const (
	StyleMarkdown  = "markdown"
	StyleUnderline = "underline"
	StyleCaps      = "caps"
	StyleNumbered  = "numbered"
)

var (
	markdownHeading = regexp.MustCompile(`^(#{1,6})\s+(.*?)(?:\s+#+)?\s*$`)
	underlinePat    = regexp.MustCompile(`^\s*([=-])[=-]{2,}\s*$`)
	// Multi-level numbering only; "1. Item" is a list item.
	numberedSection = regexp.MustCompile(`^\s*(\d+(?:\.\d+)+)\.?\s+([A-Z].*)$`)
	separatorLine   = regexp.MustCompile(`^\s*(?:[=-]{3,}|\*{3,}|_{3,})\s*$`)
	wideGap         = regexp.MustCompile(`\S\s{2,}\S`)
)

// Heading is a line recognised as a heading.
type Heading struct {
	Text  string
	Level int
	Style string
	// Lines is how many input lines the heading occupies (2 for the
	// underline style).
	Lines int
}

// DetectHeading classifies line as a heading. next is the following line,
// or "" at end of input, and is consulted for the underline style.
func DetectHeading(line, next string) (Heading, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || separatorLine.MatchString(trimmed) {
		return Heading{}, false
	}

	if m := markdownHeading.FindStringSubmatch(trimmed); m != nil && m[2] != "" && strings.HasPrefix(line, "#") {
		return Heading{Text: m[2], Level: len(m[1]), Style: StyleMarkdown, Lines: 1}, true
	}

	if m := underlinePat.FindStringSubmatch(next); m != nil && !isListLine(line) {
		level := 1
		if m[1] == "-" {
			level = 2
		}
		return Heading{Text: trimmed, Level: level, Style: StyleUnderline, Lines: 2}, true
	}

	if IsCapsHeading(trimmed) {
		return Heading{Text: trimmed, Level: 1, Style: StyleCaps, Lines: 1}, true
	}

	if m := numberedSection.FindStringSubmatch(line); m != nil {
		return Heading{Text: trimmed, Level: NumberingLevel(m[1]), Style: StyleNumbered, Lines: 1}, true
	}

	return Heading{}, false
}

// IsCapsHeading reports whether s is a short, fully upper-case line.
// Aligned or delimited rows are left to the table detector.
func IsCapsHeading(s string) bool {
	if len(s) > 50 || len(strings.Fields(s)) > 8 {
		return false
	}
	if wideGap.MatchString(s) || strings.ContainsAny(s, "|,;\t") || isListLine(s) {
		return false
	}
	letters := 0
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 2
}

// IsSeparator reports whether line is a horizontal rule such as "----".
func IsSeparator(line string) bool {
	return separatorLine.MatchString(line)
}

// ---------------------------------------------------------------------------
// Section numbering
// ---------------------------------------------------------------------------

// numberingPattern matches hierarchical numbering such as "1.", "1.2",
// "1.2.3", etc.
var numberingPattern = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s`)

// DetectNumbering extracts the hierarchical number prefix from a line.
// It returns the matched number string (e.g. "1.2.3") and true, or
// an empty string and false if none was found.
func DetectNumbering(line string) (string, bool) {
	line = strings.TrimSpace(line)
	m := numberingPattern.FindStringSubmatch(line)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// NumberingLevel returns the depth implied by a hierarchical number
// string.  "1" is level 1, "1.2" is level 2, "1.2.3" is level 3, etc.
func NumberingLevel(numbering string) int {
	if numbering == "" {
		return 0
	}
	return strings.Count(numbering, ".") + 1
}

// ---------------------------------------------------------------------------
// Key-value lines
// ---------------------------------------------------------------------------

var keyValuePat = regexp.MustCompile(`^\s*([^:\s][^:\n]{0,39}?)\s*:\s+(\S.*?)\s*$`)

// ParseKeyValue splits a "key: value" line. Keys are short labels of at
// most five words; prose that happens to contain a colon is rejected.
func ParseKeyValue(line string) (key, value string, ok bool) {
	m := keyValuePat.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	key = m[1]
	if len(strings.Fields(key)) > 5 || strings.ContainsAny(key, ".!?\"") {
		return "", "", false
	}
	return key, m[2], true
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// Indent returns the width of line's leading whitespace, counting a tab as
// four columns.
func Indent(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// allChar reports whether every character in s is c.
func allChar(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != c {
			return false
		}
	}
	return len(s) > 0
}
