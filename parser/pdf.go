package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts native page text and runs it through the plain-text
// classifier. There is no OCR: image-only pages yield nothing.
type PDFParser struct {
	text *TextParser
}

func (p *PDFParser) SupportedFormats() []string { return []string{FormatPDF} }

// ElementTypes lists the element types PDFParser emits.
func (p *PDFParser) ElementTypes() []ElementType {
	return p.classifier().ElementTypes()
}

func (p *PDFParser) classifier() *TextParser {
	if p.text == nil {
		return NewTextParser(TextConfig{})
	}
	return p.text
}

// pdfPage is the extracted text of one page.
type pdfPage struct {
	number int
	text   string
}

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return run(ctx, path, FormatPDF, func() (*ParseResult, error) {
		pages, layout, total, err := readPDF(ctx, path)
		if err != nil {
			return nil, err
		}
		res, err := p.fromPages(ctx, path, pages, layout)
		if err != nil {
			return nil, err
		}
		res.Metadata["page_count"] = total
		return res, nil
	})
}

// readPDF extracts the plain text of every page. Pages that fail to
// extract are skipped.
func readPDF(ctx context.Context, path string) ([]pdfPage, *LayoutComplexity, int, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	layout := &LayoutComplexity{}
	total := reader.NumPage()
	var pages []pdfPage
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		layout.addPage(page)

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, pdfPage{number: i, text: text})
	}
	return pages, layout, total, nil
}

// fromPages classifies extracted page text. Every element carries the page
// it came from.
func (p *PDFParser) fromPages(ctx context.Context, path string, pages []pdfPage, layout *LayoutComplexity) (*ParseResult, error) {
	running := runningLines(pages)

	var (
		out      elementList
		texts    []string
		withText int
	)
	for _, pg := range pages {
		analyzePageComplexity(pg.text, layout)

		raw, lines := preprocessText(stripRunningLines(pg.text, running))
		if len(lines) == 0 {
			continue
		}
		withText++
		texts = append(texts, strings.Join(lines, "\n"))
		if err := p.classifier().segment(ctx, raw, lines, &out, map[string]any{"page_number": pg.number}); err != nil {
			return nil, err
		}
	}
	if out.len() == 0 {
		return nil, ErrNoContent
	}
	layout.finish()

	content := strings.Join(texts, "\n\n")
	elements := out.elements()

	md := baseMetadata(path, FormatPDF)
	md["pages_with_text"] = withText
	md["layout"] = layout.metadata()
	if len(running) > 0 {
		md["running_lines_removed"] = len(running)
	}

	return &ParseResult{
		Metadata:           md,
		RawText:            content,
		StructuredElements: elements,
		ConfidenceScore:    textConfidence(elements, content),
	}, nil
}

// ---------------------------------------------------------------------------
// Running headers and footers
// ---------------------------------------------------------------------------

// edgeLines is how many lines at the top and bottom of a page are checked
// for repeated headers and footers.
const edgeLines = 2

var pageDigits = regexp.MustCompile(`\d+`)

// runningKey normalises a line so "Page 3 of 9" matches "Page 4 of 9".
func runningKey(line string) string {
	return pageDigits.ReplaceAllString(strings.TrimSpace(line), "#")
}

// edges returns the non-blank lines at the top and bottom of text.
func edges(text string) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) <= 2*edgeLines {
		return lines
	}
	out := append([]string{}, lines[:edgeLines]...)
	return append(out, lines[len(lines)-edgeLines:]...)
}

// runningLines finds header and footer lines repeated on at least
// max(3, pages/4) pages.
func runningLines(pages []pdfPage) map[string]bool {
	threshold := max(3, len(pages)/4)
	if len(pages) < threshold {
		return nil
	}
	counts := make(map[string]int)
	for _, pg := range pages {
		seen := make(map[string]bool)
		for _, l := range edges(pg.text) {
			k := runningKey(l)
			if !seen[k] {
				seen[k] = true
				counts[k]++
			}
		}
	}
	out := make(map[string]bool)
	for k, n := range counts {
		if n >= threshold {
			out[k] = true
		}
	}
	return out
}

// stripRunningLines drops running lines from the top and bottom of text.
func stripRunningLines(text string, running map[string]bool) string {
	if len(running) == 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	drop := func(i int) bool { return running[runningKey(lines[i])] }

	start, end := 0, len(lines)
	for n := 0; start < end && n < edgeLines; {
		switch {
		case strings.TrimSpace(lines[start]) == "":
			start++
		case drop(start):
			start++
			n++
		default:
			n = edgeLines
		}
	}
	for n := 0; end > start && n < edgeLines; {
		switch {
		case strings.TrimSpace(lines[end-1]) == "":
			end--
		case drop(end - 1):
			end--
			n++
		default:
			n = edgeLines
		}
	}
	return strings.Join(lines[start:end], "\n")
}
