package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ShriniwasAhirrao/MetaStitch/textenc"
)

// HTMLParser linearises the block-level content of an HTML document.
type HTMLParser struct{}

func (p *HTMLParser) SupportedFormats() []string { return []string{FormatHTML, "htm", "xhtml"} }

// ElementTypes lists the element types HTMLParser emits.
func (p *HTMLParser) ElementTypes() []ElementType {
	return []ElementType{ElementHeading, ElementParagraph, ElementList, ElementTable}
}

func (p *HTMLParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return run(ctx, path, FormatHTML, func() (*ParseResult, error) {
		f, err := textenc.ReadFile(path, textenc.ReadOptions{})
		if err != nil {
			return nil, fmt.Errorf("reading HTML file: %w", err)
		}
		dec := textenc.Decode(f.Data, textenc.WithContentType("text/html"))

		doc, err := html.Parse(strings.NewReader(dec.Text))
		if err != nil {
			return nil, fmt.Errorf("parsing HTML: %w", err)
		}

		md := baseMetadata(path, FormatHTML)
		md["file_size"] = f.Size
		md["encoding"] = dec.Encoding
		md["title"] = findTitle(doc)
		md["meta_tags"] = metaTags(doc)
		md["statistics"] = htmlStatistics(doc)

		raw := strings.Join(strings.Fields(collectText(doc)), " ")

		root := findFirst(doc, atom.Body)
		if root == nil {
			root = doc
		}
		w := &htmlWalker{ctx: ctx}
		w.walk(root)
		if w.err != nil {
			return nil, w.err
		}

		elements := w.out.elements()
		return &ParseResult{
			Metadata:           md,
			RawText:            raw,
			StructuredElements: elements,
			ConfidenceScore:    htmlConfidence(elements, raw),
		}, nil
	})
}

// ---------------------------------------------------------------------------
// Structural walk
// ---------------------------------------------------------------------------

type htmlWalker struct {
	ctx   context.Context
	out   elementList
	nodes int
	err   error
}

// walk visits every element below n in document order. Nested structures
// are both captured by their container and visited on their own.
func (w *htmlWalker) walk(n *html.Node) {
	for c := n.FirstChild; c != nil && w.err == nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if w.nodes++; w.nodes%256 == 0 {
			if err := w.ctx.Err(); err != nil {
				w.err = err
				return
			}
		}
		switch c.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			continue
		}
		w.visit(c)
		w.walk(c)
	}
}

func (w *htmlWalker) visit(n *html.Node) {
	text := collectText(n)
	if text == "" {
		return
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		w.out.add(ElementHeading, text, map[string]any{
			"level":      int(n.Data[1] - '0'),
			"tag":        n.Data,
			"attributes": attrMap(n),
		})

	case atom.Table:
		t := htmlTable(n)
		md := t.metadata()
		md["tag"] = "table"
		w.out.add(ElementTable, t, md)

	case atom.Ul, atom.Ol, atom.Dl:
		l := htmlList(n)
		w.out.add(ElementList, l, map[string]any{
			"list_type":  l.ListType,
			"item_count": len(l.Items),
		})

	case atom.P:
		w.out.add(ElementParagraph, text, paragraphMetadata(n, "p"))

	case atom.Div:
		if len([]rune(text)) >= 10 && countBlocks(n) <= 2 {
			e := w.out.add(ElementParagraph, text, paragraphMetadata(n, "div"))
			e.Confidence = 0.8
		}
	}
}

func paragraphMetadata(n *html.Node, tag string) map[string]any {
	return map[string]any{
		"tag": tag,
		"formatting": map[string]bool{
			"bold":      hasDescendant(n, atom.B, atom.Strong),
			"italic":    hasDescendant(n, atom.I, atom.Em),
			"underline": hasDescendant(n, atom.U),
			"links":     hasDescendant(n, atom.A),
			"code":      hasDescendant(n, atom.Code),
		},
	}
}

// blockTags are the descendants that stop a div from reading as a paragraph.
var blockTags = []atom.Atom{
	atom.Div, atom.P, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
	atom.Table, atom.Ul, atom.Ol,
}

func countBlocks(n *html.Node) int {
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && isAtom(c, blockTags...) {
				count++
			}
			walk(c)
		}
	}
	walk(n)
	return count
}

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

func htmlTable(n *html.Node) *Table {
	var caption string
	var headRows, bodyRows, allRows []*html.Node

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Caption:
			caption = collectText(c)
		case atom.Thead:
			rows := childElements(c, atom.Tr)
			headRows = append(headRows, rows...)
			allRows = append(allRows, rows...)
		case atom.Tbody, atom.Tfoot:
			rows := childElements(c, atom.Tr)
			bodyRows = append(bodyRows, rows...)
			allRows = append(allRows, rows...)
		case atom.Tr:
			bodyRows = append(bodyRows, c)
			allRows = append(allRows, c)
		}
	}

	if len(headRows) == 0 && len(allRows) > 0 && len(childElements(allRows[0], atom.Th)) > 0 {
		headRows = allRows[:1]
	}
	isHead := make(map[*html.Node]bool, len(headRows))
	for _, r := range headRows {
		isHead[r] = true
	}

	var headers, rows []Row
	for _, r := range headRows {
		headers = append(headers, htmlRow(r))
	}
	for _, r := range bodyRows {
		if isHead[r] {
			continue
		}
		rows = append(rows, htmlRow(r))
	}

	t := NewTable("html", headers, rows)
	t.Caption = caption
	return t
}

func htmlRow(tr *html.Node) Row {
	var row Row
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || !isAtom(c, atom.Td, atom.Th) {
			continue
		}
		cell := NewCell(collectText(c))
		cell.Colspan = spanAttr(c, "colspan")
		cell.Rowspan = spanAttr(c, "rowspan")
		cell.NestedTables = countDescendants(c, atom.Table)
		cell.NestedLists = countDescendants(c, atom.Ul, atom.Ol, atom.Dl)
		row = append(row, cell)
	}
	return row
}

func spanAttr(n *html.Node, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(attr(n, key)))
	if err != nil || v < 1 {
		return 1
	}
	return v
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

func htmlList(n *html.Node) *List {
	l := &List{ListType: n.Data, Items: []ListItem{}}

	if n.DataAtom == atom.Dl {
		terms := childElements(n, atom.Dt)
		defs := childElements(n, atom.Dd)
		for i, dt := range terms {
			term := collectText(dt)
			item := ListItem{Text: term, Term: term}
			if i < len(defs) {
				item.Definition = collectText(defs[i])
			}
			l.Items = append(l.Items, item)
		}
		return l
	}

	for _, li := range childElements(n, atom.Li) {
		item := ListItem{Text: collectText(li)}
		for _, sub := range descendants(li, atom.Ul, atom.Ol) {
			nested := List{ListType: sub.Data, Items: []ListItem{}}
			for _, sli := range childElements(sub, atom.Li) {
				nested.Items = append(nested.Items, ListItem{Text: collectText(sli)})
			}
			item.NestedLists = append(item.NestedLists, nested)
		}
		l.Items = append(l.Items, item)
	}
	return l
}

// ---------------------------------------------------------------------------
// Document metadata
// ---------------------------------------------------------------------------

// findTitle extracts the <title> text.
func findTitle(doc *html.Node) string {
	if t := findFirst(doc, atom.Title); t != nil {
		return collectText(t)
	}
	return ""
}

func metaTags(doc *html.Node) map[string]string {
	tags := make(map[string]string)
	for _, m := range descendants(doc, atom.Meta) {
		content := attr(m, "content")
		for _, key := range []string{"name", "property", "http-equiv"} {
			if name := attr(m, key); name != "" {
				tags[name] = content
				break
			}
		}
	}
	return tags
}

func htmlStatistics(doc *html.Node) map[string]int {
	total := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				total++
			}
			walk(c)
		}
	}
	walk(doc)
	return map[string]int{
		"total_elements": total,
		"tables":         countDescendants(doc, atom.Table),
		"paragraphs":     countDescendants(doc, atom.P),
		"lists":          countDescendants(doc, atom.Ul, atom.Ol, atom.Dl),
		"headings":       countDescendants(doc, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6),
	}
}

// htmlConfidence rewards structural variety, tables and text coverage.
func htmlConfidence(elements []StructuredElement, raw string) float64 {
	if len(elements) == 0 {
		return 0.1
	}
	types := make(map[ElementType]bool)
	tables, extracted := 0, 0
	for _, e := range elements {
		types[e.Type] = true
		if e.Type == ElementTable {
			tables++
		}
		extracted += len(e.Text())
	}
	score := 0.5 + 0.1*float64(len(types))
	score += min(float64(tables)*0.1, 0.3)
	if len(raw) > 0 {
		score += min(float64(extracted)/float64(len(raw)), 1.0) * 0.2
	}
	return clamp01(score)
}

// ---------------------------------------------------------------------------
// DOM helpers
// ---------------------------------------------------------------------------

// collectText extracts visible text from a subtree, joining text nodes with
// single spaces.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			for _, f := range strings.Fields(n.Data) {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(f)
			}
		}
		if n.Type == html.ElementNode && isAtom(n, atom.Script, atom.Style, atom.Noscript, atom.Template) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func isAtom(n *html.Node, atoms ...atom.Atom) bool {
	for _, a := range atoms {
		if n.DataAtom == a {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func attrMap(n *html.Node) map[string]string {
	m := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		m[a.Key] = a.Val
	}
	return m
}

func childElements(n *html.Node, atoms ...atom.Atom) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && isAtom(c, atoms...) {
			out = append(out, c)
		}
	}
	return out
}

func descendants(n *html.Node, atoms ...atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && isAtom(c, atoms...) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func countDescendants(n *html.Node, atoms ...atom.Atom) int {
	return len(descendants(n, atoms...))
}

func hasDescendant(n *html.Node, atoms ...atom.Atom) bool {
	return countDescendants(n, atoms...) > 0
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findFirst(c, a); f != nil {
			return f
		}
	}
	return nil
}
