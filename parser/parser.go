package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Format names understood by the registry.
const (
	FormatHTML     = "html"
	FormatJSON     = "json"
	FormatText     = "txt"
	FormatLog      = "log"
	FormatMarkdown = "md"
	FormatPDF      = "pdf"
	FormatXLSX     = "xlsx"
	FormatDOCX     = "docx"
	FormatPPTX     = "pptx"
)

// ElementType tags a StructuredElement.
type ElementType string

const (
	ElementHeading       ElementType = "heading"
	ElementParagraph     ElementType = "paragraph"
	ElementList          ElementType = "list"
	ElementTable         ElementType = "table"
	ElementTableRow      ElementType = "table_row"
	ElementCodeBlock     ElementType = "code_block"
	ElementKeyValuePairs ElementType = "key_value_pairs"
	ElementObject        ElementType = "object"
	ElementLogSummary    ElementType = "log_summary"
	ElementLogEntries    ElementType = "log_entries"
	ElementErrorAnalysis ElementType = "error_analysis"
	ElementIPAnalysis    ElementType = "ip_analysis"
)

// StructuredElement is one typed, ordered unit of recovered structure.
//
// Content holds a string for headings and paragraphs, and otherwise one of
// *Table, *List, *CodeBlock, KeyValues, *ObjectSummary, *LogSummary,
// *LogEntries, *ErrorAnalysis or *IPAnalysis.
type StructuredElement struct {
	Type       ElementType    `json:"element_type"`
	Content    any            `json:"content"`
	Position   int            `json:"position"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Confidence float64        `json:"confidence"`
}

// Text returns the element's content as plain text.
func (e StructuredElement) Text() string {
	return plainText(e.Content)
}

// ParseResult is what every parser produces.
type ParseResult struct {
	Metadata           map[string]any      `json:"metadata"`
	RawText            string              `json:"raw_text"`
	StructuredElements []StructuredElement `json:"structured_elements"`
	ConfidenceScore    float64             `json:"confidence_score"`
}

// Error returns metadata["error"], or "" for a successful parse.
func (r *ParseResult) Error() string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	s, _ := r.Metadata["error"].(string)
	return s
}

// Failed reports whether r is a degraded result.
func (r *ParseResult) Failed() bool { return r.Error() != "" }

// Elements returns the elements of type t in document order.
func (r *ParseResult) Elements(t ElementType) []StructuredElement {
	var out []StructuredElement
	for _, e := range r.StructuredElements {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Parser can parse a specific document format.
//
// Parse returns an error only for programmer errors such as an empty path.
// Missing files, malformed content and cancellation all produce a degraded
// ParseResult carrying metadata["error"].
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}

// Degraded builds the uniform failure result.
func Degraded(path, fileType string, err error) *ParseResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	md := baseMetadata(path, fileType)
	md["error"] = msg
	return &ParseResult{
		Metadata:           md,
		StructuredElements: []StructuredElement{},
		ConfidenceScore:    0,
	}
}

func baseMetadata(path, fileType string) map[string]any {
	return map[string]any{
		"source_file":          filepath.Base(path),
		"file_type":            fileType,
		"extraction_timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

// run wraps a parser body with the shared entry-point contract: argument
// validation, cancellation, panic recovery and conversion of every failure
// into a degraded result.
func run(ctx context.Context, path, fileType string, body func() (*ParseResult, error)) (res *ParseResult, err error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	slog.Debug("parse: start", "file", filepath.Base(path), "format", fileType)

	defer func() {
		if r := recover(); r != nil {
			res, err = Degraded(path, fileType, fmt.Errorf("%w: %v", ErrInternal, r)), nil
		}
		if res == nil {
			return
		}
		if res.Failed() {
			slog.Warn("parse: degraded result", "file", filepath.Base(path), "format", fileType, "error", res.Error())
			return
		}
		slog.Debug("parse: complete",
			"file", filepath.Base(path),
			"format", fileType,
			"elements", len(res.StructuredElements),
			"confidence", res.ConfidenceScore,
			"elapsed", time.Since(start),
		)
	}()

	if err := ctx.Err(); err != nil {
		return Degraded(path, fileType, err), nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Degraded(path, fileType, fmt.Errorf("%w: %s", ErrFileNotFound, path)), nil
		}
		return Degraded(path, fileType, err), nil
	}

	res, err = body()
	if err != nil {
		return Degraded(path, fileType, err), nil
	}
	if err := ctx.Err(); err != nil {
		return Degraded(path, fileType, err), nil
	}
	if res.StructuredElements == nil {
		res.StructuredElements = []StructuredElement{}
	}
	res.ConfidenceScore = clamp01(res.ConfidenceScore)
	return res, nil
}

// elementList assigns strictly increasing positions as elements are added.
type elementList struct {
	items []StructuredElement
	next  int
}

func (l *elementList) add(t ElementType, content any, md map[string]any) *StructuredElement {
	return l.addAt(l.next, t, content, md)
}

// addAt places an element at a fixed position. Skipped positions stay
// unused; pos must not go backwards.
func (l *elementList) addAt(pos int, t ElementType, content any, md map[string]any) *StructuredElement {
	if pos < l.next {
		pos = l.next
	}
	l.items = append(l.items, StructuredElement{
		Type:       t,
		Content:    content,
		Position:   pos,
		Metadata:   md,
		Confidence: 1.0,
	})
	l.next = pos + 1
	return &l.items[len(l.items)-1]
}

func (l *elementList) len() int { return len(l.items) }

func (l *elementList) elements() []StructuredElement {
	if l.items == nil {
		return []StructuredElement{}
	}
	return l.items
}

func clamp01(f float64) float64 {
	switch {
	case f < 0 || f != f:
		return 0
	case f > 1:
		return 1
	}
	return f
}
