package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	gmparser "github.com/yuin/goldmark/parser"
	gmtext "github.com/yuin/goldmark/text"

	"github.com/ShriniwasAhirrao/MetaStitch/textenc"
)

const markdownMaxSize = 50 << 20

// markdown is safe for concurrent use; per-parse state lives in the
// parser context.
var markdown = goldmark.New(
	goldmark.WithExtensions(
		meta.New(meta.WithStoresInDocument()),
		extension.Table,
		extension.TaskList,
		extension.Strikethrough,
	),
	goldmark.WithParserOptions(
		gmparser.WithAutoHeadingID(),
	),
)

// MarkdownParser maps a CommonMark document, with YAML front matter, GFM
// tables and task lists, onto structured elements.
type MarkdownParser struct{}

func (p *MarkdownParser) SupportedFormats() []string {
	return []string{FormatMarkdown, "markdown"}
}

// ElementTypes lists the element types MarkdownParser emits.
func (p *MarkdownParser) ElementTypes() []ElementType {
	return []ElementType{
		ElementKeyValuePairs, ElementHeading, ElementParagraph,
		ElementList, ElementTable, ElementCodeBlock,
	}
}

func (p *MarkdownParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return run(ctx, path, FormatMarkdown, func() (*ParseResult, error) {
		f, err := textenc.ReadFile(path, textenc.ReadOptions{MaxSize: markdownMaxSize})
		if err != nil {
			return nil, fmt.Errorf("reading markdown file: %w", err)
		}
		dec := textenc.Decode(f.Data)
		content := strings.ReplaceAll(dec.Text, "\r\n", "\n")
		source := []byte(content)

		pc := gmparser.NewContext()
		doc := markdown.Parser().Parse(gmtext.NewReader(source), gmparser.WithContext(pc))

		md := baseMetadata(path, FormatMarkdown)
		md["file_size"] = f.Size
		md["encoding"] = dec.Encoding

		w := &mdWalker{ctx: ctx, source: source, lineStarts: lineStarts(source)}
		if fm := meta.Get(pc); len(fm) > 0 {
			md["front_matter"] = fm
			w.out.add(ElementKeyValuePairs, frontMatterPairs(fm), map[string]any{"source": "front_matter"})
		}
		if err := ast.Walk(doc, w.visit); err != nil {
			return nil, err
		}

		elements := w.out.elements()
		md["statistics"] = map[string]any{
			"line_count":  len(w.lineStarts),
			"headings":    w.headings,
			"tables":      w.tables,
			"lists":       w.lists,
			"code_blocks": w.code,
		}
		if w.title != "" {
			md["title"] = w.title
		}

		return &ParseResult{
			Metadata:           md,
			RawText:            content,
			StructuredElements: elements,
			ConfidenceScore:    markdownConfidence(elements),
		}, nil
	})
}

func frontMatterPairs(fm map[string]any) KeyValues {
	keys := make([]string, 0, len(fm))
	for k := range fm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var kv KeyValues
	for _, k := range keys {
		kv.Set(k, fmt.Sprint(fm[k]))
	}
	return kv
}

// ---------------------------------------------------------------------------
// AST walk
// ---------------------------------------------------------------------------

type mdWalker struct {
	ctx        context.Context
	source     []byte
	lineStarts []int
	out        elementList
	visited    int

	title                         string
	headings, tables, lists, code int
}

func (w *mdWalker) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	w.visited++
	if w.visited%256 == 0 {
		if err := w.ctx.Err(); err != nil {
			return ast.WalkStop, err
		}
	}

	switch node := n.(type) {
	case *ast.Heading:
		text := mdText(node, w.source)
		if text == "" {
			return ast.WalkSkipChildren, nil
		}
		w.headings++
		if node.Level == 1 && w.title == "" {
			w.title = text
		}
		md := map[string]any{"level": node.Level, "line_number": w.line(node)}
		if id, ok := node.AttributeString("id"); ok {
			if b, ok := id.([]byte); ok {
				md["id"] = string(b)
			}
		}
		w.out.add(ElementHeading, text, md)
		return ast.WalkSkipChildren, nil

	case *ast.Paragraph:
		text := mdText(node, w.source)
		if text == "" {
			return ast.WalkSkipChildren, nil
		}
		md := map[string]any{
			"line_number": w.line(node),
			"formatting":  mdFormatting(node),
		}
		if node.Parent() != nil && node.Parent().Kind() == ast.KindBlockquote {
			md["blockquote"] = true
		}
		w.out.add(ElementParagraph, text, md)
		return ast.WalkSkipChildren, nil

	case *ast.List:
		list := w.list(node)
		w.lists++
		w.out.add(ElementList, list, map[string]any{
			"list_type":   list.ListType,
			"item_count":  list.Count(),
			"has_nesting": list.Count() > len(list.Items),
			"tight":       node.IsTight,
			"line_number": w.line(node),
		})
		return ast.WalkSkipChildren, nil

	case *east.Table:
		tbl := w.table(node)
		w.tables++
		md := tbl.metadata()
		md["alignments"] = mdAlignments(node)
		md["line_number"] = w.line(node)
		w.out.add(ElementTable, tbl, md)
		return ast.WalkSkipChildren, nil

	case *ast.FencedCodeBlock:
		lang := string(node.Language(w.source))
		if lang == "" {
			lang = "text"
		}
		w.code++
		w.out.add(ElementCodeBlock, &CodeBlock{Code: w.blockLines(node), Language: lang, Format: "fenced"},
			map[string]any{"language": lang, "line_number": w.line(node)})
		return ast.WalkSkipChildren, nil

	case *ast.CodeBlock:
		w.code++
		w.out.add(ElementCodeBlock, &CodeBlock{Code: w.blockLines(node), Language: "text", Format: "indented"},
			map[string]any{"language": "text", "line_number": w.line(node)})
		return ast.WalkSkipChildren, nil

	case *ast.HTMLBlock, *ast.ThematicBreak:
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (w *mdWalker) list(node *ast.List) *List {
	list := &List{ListType: "unordered"}
	if node.IsOrdered() {
		list.ListType = "ordered"
	}
	task := false
	i := 0
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		li, ok := c.(*ast.ListItem)
		if !ok {
			continue
		}
		item := w.listItem(li)
		if node.IsOrdered() {
			idx := node.Start + i
			item.Index = &idx
			item.Marker = fmt.Sprintf("%d%c", idx, node.Marker)
		} else {
			item.Marker = string(node.Marker)
		}
		if item.Checked != nil {
			task = true
		}
		list.Items = append(list.Items, item)
		i++
	}
	if task {
		list.ListType = "task"
	}
	return list
}

func (w *mdWalker) listItem(li *ast.ListItem) ListItem {
	var item ListItem
	var parts []string
	for c := li.FirstChild(); c != nil; c = c.NextSibling() {
		if sub, ok := c.(*ast.List); ok {
			for s := sub.FirstChild(); s != nil; s = s.NextSibling() {
				if sli, ok := s.(*ast.ListItem); ok {
					item.Children = append(item.Children, w.listItem(sli))
				}
			}
			continue
		}
		if box := findCheckBox(c); box != nil {
			checked := box.IsChecked
			item.Checked = &checked
		}
		if t := mdText(c, w.source); t != "" {
			parts = append(parts, t)
		}
	}
	item.Text = strings.Join(parts, " ")
	return item
}

func findCheckBox(n ast.Node) *east.TaskCheckBox {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if box, ok := c.(*east.TaskCheckBox); ok {
			return box
		}
	}
	return nil
}

func (w *mdWalker) table(node *east.Table) *Table {
	var headers, rows []Row
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		var cells []string
		for cell := c.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, mdText(cell, w.source))
		}
		switch c.(type) {
		case *east.TableHeader:
			headers = append(headers, TextRow(cells...))
		case *east.TableRow:
			rows = append(rows, TextRow(cells...))
		}
	}
	return NewTable("markdown", headers, rows)
}

func mdAlignments(node *east.Table) []string {
	out := make([]string, len(node.Alignments))
	for i, a := range node.Alignments {
		out[i] = a.String()
	}
	return out
}

func (w *mdWalker) blockLines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(w.source))
	}
	return strings.TrimRight(b.String(), "\n")
}

// line returns the 1-based line of the node's first segment, or 0 for
// nodes without one.
func (w *mdWalker) line(n ast.Node) int {
	for n != nil {
		if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
			off := n.Lines().At(0).Start
			return sort.Search(len(w.lineStarts), func(i int) bool { return w.lineStarts[i] > off })
		}
		n = n.FirstChild()
	}
	return 0
}

func lineStarts(source []byte) []int {
	starts := []int{0}
	for i, b := range source {
		if b == '\n' && i+1 < len(source) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// mdText collects the inline text below n, leaving out nested lists.
func mdText(n ast.Node, source []byte) string {
	var b strings.Builder
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.List:
			if c != n {
				return ast.WalkSkipChildren, nil
			}
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.Label(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

func mdFormatting(n ast.Node) map[string]bool {
	f := map[string]bool{"bold": false, "italic": false, "links": false, "code": false, "strikethrough": false}
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Emphasis:
			if t.Level >= 2 {
				f["bold"] = true
			} else {
				f["italic"] = true
			}
		case *ast.Link, *ast.AutoLink:
			f["links"] = true
		case *ast.CodeSpan:
			f["code"] = true
		case *east.Strikethrough:
			f["strikethrough"] = true
		}
		return ast.WalkContinue, nil
	})
	return f
}

// markdownConfidence starts high because the markup is explicit, and rises
// with the variety of element types.
func markdownConfidence(elements []StructuredElement) float64 {
	if len(elements) == 0 {
		return 0.1
	}
	types := make(map[ElementType]bool)
	for _, e := range elements {
		types[e.Type] = true
	}
	return clamp01(0.7 + 0.05*float64(len(types)))
}
