package parser

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/ShriniwasAhirrao/MetaStitch/heuristics"
	"github.com/ShriniwasAhirrao/MetaStitch/textenc"
)

// TextConfig configures the plain-text parser.
type TextConfig struct {
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`
}

// DefaultTextConfig returns the default plain-text parser configuration.
func DefaultTextConfig() TextConfig {
	return TextConfig{MaxFileSize: 50 << 20}
}

// TextParser recovers headings, lists, tables, code blocks, key-value
// blocks and paragraphs from unmarked text.
type TextParser struct {
	cfg TextConfig
}

// NewTextParser creates a plain-text parser. Zero fields take their defaults.
func NewTextParser(cfg TextConfig) *TextParser {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultTextConfig().MaxFileSize
	}
	return &TextParser{cfg: cfg}
}

func (p *TextParser) SupportedFormats() []string { return []string{FormatText, "text"} }

// ElementTypes lists the element types TextParser emits.
func (p *TextParser) ElementTypes() []ElementType {
	return []ElementType{
		ElementHeading, ElementParagraph, ElementList, ElementTable,
		ElementCodeBlock, ElementKeyValuePairs,
	}
}

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return run(ctx, path, FormatText, func() (*ParseResult, error) {
		f, err := textenc.ReadFile(path, textenc.ReadOptions{MaxSize: p.cfg.MaxFileSize})
		if err != nil {
			return nil, fmt.Errorf("reading text file: %w", err)
		}
		dec := textenc.Decode(f.Data)

		raw, lines := preprocessText(dec.Text)
		content := strings.Join(lines, "\n")

		md := baseMetadata(path, FormatText)
		md["file_size"] = f.Size
		md["encoding"] = dec.Encoding
		md["statistics"] = textStatistics(content, lines)
		if patterns := textPatterns(lines); len(patterns) > 0 {
			md["detected_patterns"] = patterns
		}
		if dec.Lossy || strings.ContainsRune(content, '\ufffd') ||
			float64(strings.Count(content, "?")) > float64(len(content))*0.01 {
			md["encoding_issues"] = true
		}

		var out elementList
		if err := p.segment(ctx, raw, lines, &out, nil); err != nil {
			return nil, err
		}
		elements := out.elements()

		return &ParseResult{
			Metadata:           md,
			RawText:            content,
			StructuredElements: elements,
			ConfidenceScore:    textConfidence(elements, content),
		}, nil
	})
}

// ---------------------------------------------------------------------------
// Preprocessing
// ---------------------------------------------------------------------------

var blankRun = regexp.MustCompile(`\n{3,}`)

// preprocessText normalises line endings, collapses runs of blank lines and
// trims the document. It returns the lines with tabs intact alongside the
// same lines with tabs expanded to four-column stops.
func preprocessText(s string) (raw, expanded []string) {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimPrefix(s, "\ufeff")
	s = blankRun.ReplaceAllString(s, "\n\n")
	s = strings.Trim(s, "\n")
	s = strings.TrimRight(s, " \t\n")
	if s == "" {
		return nil, nil
	}

	raw = strings.Split(s, "\n")
	expanded = make([]string, len(raw))
	for i, l := range raw {
		expanded[i] = expandTabs(l, 4)
	}
	return raw, expanded
}

func expandTabs(s string, width int) string {
	if !strings.ContainsRune(s, '\t') {
		return s
	}
	var b strings.Builder
	col := 0
	for _, r := range s {
		if r == '\t' {
			n := width - col%width
			b.WriteString(strings.Repeat(" ", n))
			col += n
			continue
		}
		b.WriteRune(r)
		col++
	}
	return b.String()
}

func textStatistics(content string, lines []string) map[string]any {
	paragraphs := 0
	for _, block := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(block) != "" {
			paragraphs++
		}
	}
	total := 0
	for _, l := range lines {
		total += len([]rune(l))
	}
	avg := 0.0
	if len(lines) > 0 {
		avg = float64(total) / float64(len(lines))
	}
	return map[string]any{
		"line_count":          len(lines),
		"word_count":          len(strings.Fields(content)),
		"character_count":     len([]rune(content)),
		"paragraph_count":     paragraphs,
		"average_line_length": avg,
	}
}

// textPatterns counts line-level structural cues across the document.
func textPatterns(lines []string) map[string]int {
	counts := make(map[string]int)
	for i, l := range lines {
		next := ""
		if i+1 < len(lines) {
			next = lines[i+1]
		}
		if _, ok := heuristics.ParseListItem(l); ok {
			counts["lists"]++
		} else if _, ok := heuristics.DetectHeading(l, next); ok {
			counts["headers"]++
		}
		if isFence(l) {
			counts["code_blocks"]++
		}
		if strings.ContainsAny(l, "|,;") {
			counts["delimited_tables"]++
		}
	}
	counts["code_blocks"] /= 2
	for k, v := range counts {
		if v == 0 {
			delete(counts, k)
		}
	}
	return counts
}

// ---------------------------------------------------------------------------
// Line classification
// ---------------------------------------------------------------------------

// textSegmenter runs the single forward classification pass. raw holds the
// lines before tab expansion and is only consulted for table detection.
type textSegmenter struct {
	raw   []string
	lines []string
	out   *elementList
	extra map[string]any
}

// segment classifies lines and appends the resulting elements to out.
// extra is merged into every element's metadata.
func (p *TextParser) segment(ctx context.Context, raw, lines []string, out *elementList, extra map[string]any) error {
	s := &textSegmenter{raw: raw, lines: lines, out: out, extra: extra}

	for i, iter := 0, 0; i < len(lines); iter++ {
		if iter%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := lines[i]
		if strings.TrimSpace(line) == "" || heuristics.IsSeparator(line) {
			i++
			continue
		}

		consumed := 0
		switch {
		case isFence(line):
			consumed = s.fencedCode(i)
		default:
			if consumed = s.heading(i); consumed > 0 {
				break
			}
			if consumed = s.list(i); consumed > 0 {
				break
			}
			if consumed = s.table(i); consumed > 0 {
				break
			}
			if consumed = s.indentedCode(i); consumed > 0 {
				break
			}
			if consumed = s.keyValues(i); consumed > 0 {
				break
			}
			consumed = s.paragraph(i)
		}
		i += max(consumed, 1)
	}
	return nil
}

func (s *textSegmenter) emit(t ElementType, content any, line int, md map[string]any) *StructuredElement {
	md["line_number"] = line + 1
	maps.Copy(md, s.extra)
	return s.out.add(t, content, md)
}

func (s *textSegmenter) next(i int) string {
	if i+1 < len(s.lines) {
		return s.lines[i+1]
	}
	return ""
}

var headingConfidence = map[string]float64{
	heuristics.StyleMarkdown:  1.0,
	heuristics.StyleUnderline: 0.9,
	heuristics.StyleNumbered:  0.8,
	heuristics.StyleCaps:      0.7,
}

func (s *textSegmenter) heading(i int) int {
	h, ok := heuristics.DetectHeading(s.lines[i], s.next(i))
	if !ok {
		return 0
	}
	e := s.emit(ElementHeading, h.Text, i, map[string]any{
		"level":         h.Level,
		"formatting":    h.Style,
		"original_line": s.lines[i],
	})
	e.Confidence = headingConfidence[h.Style]
	return h.Lines
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

func (s *textSegmenter) list(i int) int {
	first, ok := heuristics.ParseListItem(s.lines[i])
	if !ok {
		return 0
	}

	items := []heuristics.ListLine{first}
	end := i + 1
	for j := i + 1; j < len(s.lines); j++ {
		if strings.TrimSpace(s.lines[j]) == "" {
			continue
		}
		item, ok := heuristics.ParseListItem(s.lines[j])
		if !ok {
			break
		}
		items = append(items, item)
		end = j + 1
	}

	levels := heuristics.NestingLevels(items)
	maxLevel := 0
	for _, l := range levels {
		maxLevel = max(maxLevel, l)
	}

	s.emit(ElementList, &List{ListType: first.Kind, Items: nestListItems(items, levels)}, i, map[string]any{
		"item_count":       len(items),
		"has_nesting":      maxLevel > 0,
		"max_indent_level": maxLevel,
	})
	return end - i
}

// nestListItems builds a root/child/grandchild tree. An item deeper than
// its predecessor allows is attached at the deepest level available.
func nestListItems(items []heuristics.ListLine, levels []int) []ListItem {
	var roots []ListItem
	for k, it := range items {
		node := ListItem{Text: it.Text, Marker: it.Marker}
		level := levels[k]

		if level == 0 || len(roots) == 0 {
			roots = append(roots, node)
			continue
		}
		parent := &roots[len(roots)-1]
		if level >= 2 && len(parent.Children) > 0 {
			child := &parent.Children[len(parent.Children)-1]
			child.Children = append(child.Children, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

func (s *textSegmenter) table(i int) int {
	run, ok := heuristics.ScanTable(s.raw, i)
	if !ok {
		return 0
	}

	var cells [][]string
	md := map[string]any{}
	confidence := 0.9

	switch run.Kind {
	case heuristics.TableDelimited:
		for k := run.Start; k < run.End; k++ {
			row := heuristics.SplitDelimited(s.raw[k], run.Delimiter)
			if run.Delimiter == '|' && heuristics.IsRuleRow(row) {
				continue
			}
			cells = append(cells, row)
		}
		md["delimiter"] = string(run.Delimiter)
	default:
		block := s.lines[run.Start:run.End]
		starts := heuristics.ColumnStarts(block)
		for _, l := range block {
			cells = append(cells, heuristics.SplitColumns(l, starts))
		}
		md["column_positions"] = starts
		confidence = 0.7
	}
	if len(cells) < 2 {
		return 0
	}

	rows := make([]Row, 0, len(cells)-1)
	for _, c := range cells[1:] {
		rows = append(rows, TextRow(c...))
	}
	t := NewTable(run.Kind, []Row{TextRow(cells[0]...)}, rows)
	maps.Copy(md, t.metadata())
	md["format"] = run.Kind

	e := s.emit(ElementTable, t, i, md)
	e.Confidence = confidence
	return run.Rows()
}

// ---------------------------------------------------------------------------
// Code blocks
// ---------------------------------------------------------------------------

func isFence(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

// fencedCode consumes a fenced block. An unterminated fence runs to the end
// of input.
func (s *textSegmenter) fencedCode(i int) int {
	open := strings.TrimSpace(s.lines[i])
	delim := open[:3]
	lang := strings.TrimSpace(strings.TrimLeft(open, delim[:1]))
	if lang == "" {
		lang = "text"
	}

	j := i + 1
	var code []string
	for ; j < len(s.lines); j++ {
		if t := strings.TrimSpace(s.lines[j]); strings.HasPrefix(t, delim) && strings.Trim(t, delim[:1]) == "" {
			break
		}
		code = append(code, s.lines[j])
	}

	s.emit(ElementCodeBlock, &CodeBlock{Code: strings.Join(code, "\n"), Language: lang, Format: "fenced"}, i, map[string]any{
		"line_count": len(code),
		"delimiter":  delim,
	})
	return min(j+1, len(s.lines)) - i
}

func (s *textSegmenter) indentedCode(i int) int {
	if heuristics.Indent(s.lines[i]) < 4 {
		return 0
	}
	var code []string
	j := i
	for ; j < len(s.lines); j++ {
		l := s.lines[j]
		if strings.TrimSpace(l) == "" {
			code = append(code, "")
			continue
		}
		if heuristics.Indent(l) < 4 {
			break
		}
		code = append(code, l[4:])
	}
	for len(code) > 0 && code[len(code)-1] == "" {
		code = code[:len(code)-1]
	}
	s.emit(ElementCodeBlock, &CodeBlock{Code: strings.Join(code, "\n"), Language: "text", Format: "indented"}, i, map[string]any{
		"line_count": len(code),
	})
	return j - i
}

// ---------------------------------------------------------------------------
// Key-value blocks and paragraphs
// ---------------------------------------------------------------------------

func (s *textSegmenter) keyValues(i int) int {
	var kv KeyValues
	j := i
	for ; j < len(s.lines); j++ {
		k, v, ok := heuristics.ParseKeyValue(s.lines[j])
		if !ok {
			break
		}
		kv.Set(k, v)
	}
	if len(kv) == 0 {
		return 0
	}
	s.emit(ElementKeyValuePairs, kv, i, map[string]any{
		"pair_count": len(kv),
		"keys":       kv.Keys(),
	})
	return j - i
}

func (s *textSegmenter) paragraph(i int) int {
	parts := []string{strings.TrimSpace(s.lines[i])}
	j := i + 1
	for ; j < len(s.lines); j++ {
		if s.breaksParagraph(j) {
			break
		}
		parts = append(parts, strings.TrimSpace(s.lines[j]))
	}

	text := strings.Join(parts, " ")
	sentences := 0
	for _, part := range strings.Split(text, ".") {
		if strings.TrimSpace(part) != "" {
			sentences++
		}
	}
	s.emit(ElementParagraph, text, i, map[string]any{
		"word_count":     len(strings.Fields(text)),
		"sentence_count": sentences,
		"line_count":     len(parts),
	})
	return j - i
}

// breaksParagraph reports whether line j starts a new element.
func (s *textSegmenter) breaksParagraph(j int) bool {
	line := s.lines[j]
	if strings.TrimSpace(line) == "" || isFence(line) || heuristics.IsSeparator(line) {
		return true
	}
	if heuristics.Indent(line) >= 4 {
		return true
	}
	if _, ok := heuristics.ParseListItem(line); ok {
		return true
	}
	if _, ok := heuristics.DetectHeading(line, s.next(j)); ok {
		return true
	}
	if _, _, ok := heuristics.ParseKeyValue(line); ok {
		return true
	}
	_, ok := heuristics.ScanTable(s.raw, j)
	return ok
}

// ---------------------------------------------------------------------------
// Confidence
// ---------------------------------------------------------------------------

// textConfidence weighs structural diversity, text coverage and the share
// of strongly structured elements.
func textConfidence(elements []StructuredElement, content string) float64 {
	if len(elements) == 0 || content == "" {
		return 0
	}
	types := make(map[ElementType]bool)
	extracted, structured := 0, 0
	for _, e := range elements {
		types[e.Type] = true
		extracted += len(e.Text())
		switch e.Type {
		case ElementTable, ElementList, ElementHeading:
			structured++
		}
	}
	diversity := min(float64(len(types))/5.0, 1.0)
	coverage := min(float64(extracted)/float64(len(content)), 1.0)
	quality := float64(structured) / float64(len(elements))
	return clamp01(diversity*0.3 + coverage*0.4 + quality*0.3)
}
