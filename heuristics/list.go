package heuristics

import (
	"regexp"
	"sort"
)

// List kinds reported by ParseListItem.
const (
	ListBulleted = "bulleted"
	ListNumbered = "numbered"
)

var (
	bulletItem  = regexp.MustCompile(`^(\s*)([-*+•·▪◦‣])\s+(\S.*?)\s*$`)
	orderedItem = regexp.MustCompile(`^(\s*)(\d+[.)]|[a-zA-Z][.)]|(?i:[ivxlcdm]+)[.)]|\([a-zA-Z0-9]+\))\s+(\S.*?)\s*$`)
)

// ListLine is one parsed list item line.
type ListLine struct {
	Indent int
	Marker string
	Text   string
	Kind   string
}

// ParseListItem recognises bullet, numeric, alphabetic, roman and
// parenthesised markers followed by whitespace and text.
func ParseListItem(line string) (ListLine, bool) {
	if m := bulletItem.FindStringSubmatch(line); m != nil {
		return ListLine{Indent: Indent(m[1]), Marker: m[2], Text: m[3], Kind: ListBulleted}, true
	}
	if m := orderedItem.FindStringSubmatch(line); m != nil {
		return ListLine{Indent: Indent(m[1]), Marker: m[2], Text: m[3], Kind: ListNumbered}, true
	}
	return ListLine{}, false
}

func isListLine(line string) bool {
	_, ok := ParseListItem(line)
	return ok
}

// MaxNestingDepth is the deepest level NestingLevels assigns (grandchild).
const MaxNestingDepth = 2

// NestingLevels maps each item's indent to a relative depth: the distinct
// indent widths in the group are ranked, so 0/2/4 and 0/4/8 both become
// 0/1/2. Depths beyond MaxNestingDepth are clamped.
func NestingLevels(items []ListLine) []int {
	seen := make(map[int]bool)
	var widths []int
	for _, it := range items {
		if !seen[it.Indent] {
			seen[it.Indent] = true
			widths = append(widths, it.Indent)
		}
	}
	sort.Ints(widths)

	rank := make(map[int]int, len(widths))
	for i, w := range widths {
		if i > MaxNestingDepth {
			i = MaxNestingDepth
		}
		rank[w] = i
	}

	levels := make([]int, len(items))
	for i, it := range items {
		levels[i] = rank[it.Indent]
	}
	return levels
}
