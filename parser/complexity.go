package parser

import (
	"strings"

	"github.com/ledongthuc/pdf"
)

// LayoutComplexity summarises how far a PDF departs from single-column
// flowing text.
type LayoutComplexity struct {
	HasTables   bool    `json:"has_tables"`
	HasImages   bool    `json:"has_images"`
	MultiColumn bool    `json:"multi_column"`
	FontVariety int     `json:"font_variety"` // distinct fonts across pages
	Score       float64 `json:"score"`        // 0.0 = simple text, 1.0 = highly complex

	fonts map[string]bool
}

// IsComplex reports whether layout recovery from plain text is unreliable.
func (c *LayoutComplexity) IsComplex() bool {
	return c.Score >= 0.5
}

// addPage folds one page's resources into the score.
func (c *LayoutComplexity) addPage(page pdf.Page) {
	if c.fonts == nil {
		c.fonts = make(map[string]bool)
	}
	for _, name := range page.Fonts() {
		c.fonts[page.Font(name).BaseFont()] = true
	}
	xobjects := page.Resources().Key("XObject")
	for _, key := range xobjects.Keys() {
		if xobjects.Key(key).Key("Subtype").Name() == "Image" {
			c.HasImages = true
		}
	}
	c.FontVariety = len(c.fonts)
}

func (c *LayoutComplexity) finish() {
	s := 0.0
	if c.HasTables {
		s += 0.3
	}
	if c.HasImages {
		s += 0.3
	}
	if c.MultiColumn {
		s += 0.2
	}
	if c.FontVariety > 3 {
		s += 0.2
	}
	c.Score = s
}

func (c *LayoutComplexity) metadata() map[string]any {
	return map[string]any{
		"has_tables":   c.HasTables,
		"has_images":   c.HasImages,
		"multi_column": c.MultiColumn,
		"font_variety": c.FontVariety,
		"score":        c.Score,
		"is_complex":   c.IsComplex(),
	}
}

// analyzePageComplexity looks for grid and column patterns in page text.
// Flags only ever turn on, so it accumulates across pages.
func analyzePageComplexity(text string, c *LayoutComplexity) {
	lines := strings.Split(text, "\n")

	tabCount := 0
	pipeCount := 0
	dashLineCount := 0
	for _, line := range lines {
		tabCount += strings.Count(line, "\t")
		pipeCount += strings.Count(line, "|")
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 3 && (strings.Count(trimmed, "-") > len(trimmed)/2 || strings.Count(trimmed, "_") > len(trimmed)/2) {
			dashLineCount++
		}
	}
	if tabCount > 5 || pipeCount > 5 || dashLineCount > 2 {
		c.HasTables = true
	}

	// Columns show up as a wide run of spaces around the middle of a line.
	gutters := 0
	for _, line := range lines {
		if len(line) <= 40 || !strings.Contains(line, "    ") {
			continue
		}
		mid := len(line) / 2
		start := max(mid-10, 0)
		end := min(mid+10, len(line))
		if strings.Count(line[start:end], " ") > 8 {
			gutters++
		}
	}
	if gutters > 3 {
		c.MultiColumn = true
	}
}
