package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// docxMaxPart bounds any single XML part read from the package.
const docxMaxPart = 100 << 20

// DOCXParser reads Word documents natively. Paragraph styles give
// headings, numbering gives lists, and w:tbl gives tables, all in body
// order.
type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{FormatDOCX} }

// ElementTypes lists the element types DOCXParser emits.
func (p *DOCXParser) ElementTypes() []ElementType {
	return []ElementType{ElementHeading, ElementParagraph, ElementList, ElementTable}
}

func (p *DOCXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return run(ctx, path, FormatDOCX, func() (*ParseResult, error) {
		pkg, err := openOOXML(path)
		if err != nil {
			return nil, fmt.Errorf("opening DOCX: %w", err)
		}
		defer pkg.Close()

		data, err := pkg.read("word/document.xml", docxMaxPart)
		if err != nil {
			return nil, err
		}
		numbering := parseDocxNumbering(pkg)

		b := &docxBuilder{ctx: ctx, numbering: numbering}
		if err := b.walk(data); err != nil {
			return nil, fmt.Errorf("parsing DOCX XML: %w", err)
		}
		b.flushList()
		if b.out.len() == 0 {
			return nil, ErrNoContent
		}

		elements := b.out.elements()
		md := baseMetadata(path, FormatDOCX)
		md["paragraph_count"] = b.paragraphs
		md["table_count"] = b.tables
		if props := pkg.properties(); props != nil {
			md["document_properties"] = props
			if t, ok := props["title"]; ok {
				md["title"] = t
			}
		}

		return &ParseResult{
			Metadata:           md,
			RawText:            strings.Join(b.texts, "\n"),
			StructuredElements: elements,
			ConfidenceScore:    ooxmlConfidence(elements),
		}, nil
	})
}

// DOCX XML structures (simplified)
type docxPara struct {
	PPr    *docxParaPr  `xml:"pPr"`
	Inline []docxInline `xml:",any"`
}

type docxParaPr struct {
	PStyle *docxVal   `xml:"pStyle"`
	NumPr  *docxNumPr `xml:"numPr"`
}

type docxNumPr struct {
	ILvl  *docxVal `xml:"ilvl"`
	NumID *docxVal `xml:"numId"`
}

type docxVal struct {
	Val string `xml:"val,attr"`
}

// docxInline is a run, or a wrapper such as w:hyperlink holding runs.
type docxInline struct {
	XMLName xml.Name
	Text    []docxText   `xml:"t"`
	Runs    []docxInline `xml:"r"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Pr    *docxCellPr `xml:"tcPr"`
	Paras []docxPara  `xml:"p"`
}

type docxCellPr struct {
	GridSpan *docxVal `xml:"gridSpan"`
	VMerge   *docxVal `xml:"vMerge"`
}

func (p docxPara) text() string {
	var b strings.Builder
	var walk func([]docxInline)
	walk = func(in []docxInline) {
		for _, x := range in {
			for _, t := range x.Text {
				b.WriteString(t.Content)
			}
			walk(x.Runs)
		}
	}
	walk(p.Inline)
	return strings.TrimSpace(b.String())
}

func (p docxPara) style() string {
	if p.PPr != nil && p.PPr.PStyle != nil {
		return p.PPr.PStyle.Val
	}
	return ""
}

// docxBuilder turns body children into elements, grouping consecutive
// numbered paragraphs into one list.
type docxBuilder struct {
	ctx        context.Context
	numbering  map[string]map[int]string
	out        elementList
	texts      []string
	paragraphs int
	tables     int

	listItems  []ListItem
	listLevels []int
	listNumID  string
}

func (b *docxBuilder) walk(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	inBody := false
	for n := 0; ; n++ {
		if n%512 == 0 {
			if err := b.ctx.Err(); err != nil {
				return err
			}
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !inBody {
				inBody = t.Name.Local == "body"
				continue
			}
			switch t.Name.Local {
			case "p":
				var para docxPara
				if err := dec.DecodeElement(&para, &t); err != nil {
					return err
				}
				b.paragraph(para)
			case "tbl":
				var tbl docxTable
				if err := dec.DecodeElement(&tbl, &t); err != nil {
					return err
				}
				b.table(tbl)
			default:
				if err := dec.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if t.Name.Local == "body" {
				inBody = false
			}
		}
	}
}

func (b *docxBuilder) paragraph(para docxPara) {
	text := para.text()
	if text == "" {
		return
	}
	b.paragraphs++
	b.texts = append(b.texts, text)

	if para.PPr != nil && para.PPr.NumPr != nil && para.PPr.NumPr.NumID != nil {
		numID := para.PPr.NumPr.NumID.Val
		level := 0
		if para.PPr.NumPr.ILvl != nil {
			level, _ = strconv.Atoi(para.PPr.NumPr.ILvl.Val)
		}
		if b.listNumID != "" && b.listNumID != numID {
			b.flushList()
		}
		b.listNumID = numID
		b.listItems = append(b.listItems, ListItem{Text: text})
		b.listLevels = append(b.listLevels, level)
		return
	}
	b.flushList()

	style := para.style()
	lower := strings.ToLower(style)
	if strings.HasPrefix(lower, "heading") || strings.HasPrefix(lower, "title") {
		b.out.add(ElementHeading, text, map[string]any{
			"level":      headingStyleLevel(style),
			"formatting": "style",
			"style":      style,
		})
		return
	}
	md := map[string]any{}
	if style != "" {
		md["style"] = style
	}
	b.out.add(ElementParagraph, text, md)
}

func (b *docxBuilder) flushList() {
	if len(b.listItems) == 0 {
		return
	}
	listType := "unordered"
	if fmtName := b.numbering[b.listNumID][b.listLevels[0]]; fmtName != "" && fmtName != "bullet" {
		listType = "ordered"
	}
	maxLevel := 0
	for _, l := range b.listLevels {
		maxLevel = max(maxLevel, l)
	}
	list := &List{ListType: listType, Items: nestByLevel(b.listItems, b.listLevels)}
	b.out.add(ElementList, list, map[string]any{
		"item_count":  len(b.listItems),
		"has_nesting": maxLevel > 0,
		"num_id":      b.listNumID,
	})
	b.listItems, b.listLevels, b.listNumID = nil, nil, ""
}

// table maps w:gridSpan to colspan and folds vertically merged
// continuation cells into the rowspan of the cell above.
func (b *docxBuilder) table(tbl docxTable) {
	b.flushList()
	if len(tbl.Rows) == 0 {
		return
	}

	type anchor struct{ row, cell int }
	rows := make([]Row, len(tbl.Rows))
	above := make(map[int]anchor) // grid column -> open vertical merge
	for ri, tr := range tbl.Rows {
		col := 0
		for _, tc := range tr.Cells {
			span := 1
			vmerge, continued := "", false
			if tc.Pr != nil {
				if tc.Pr.GridSpan != nil {
					if n, err := strconv.Atoi(tc.Pr.GridSpan.Val); err == nil && n > 1 {
						span = n
					}
				}
				if tc.Pr.VMerge != nil {
					vmerge = tc.Pr.VMerge.Val
					continued = vmerge != "restart"
				}
			}
			if a, ok := above[col]; continued && ok {
				rows[a.row][a.cell].Rowspan++
				col += span
				continue
			}

			var parts []string
			for _, p := range tc.Paras {
				if t := p.text(); t != "" {
					parts = append(parts, t)
				}
			}
			cell := NewCell(strings.Join(parts, " "))
			cell.Colspan = span
			rows[ri] = append(rows[ri], cell)
			if vmerge == "restart" {
				above[col] = anchor{ri, len(rows[ri]) - 1}
			} else {
				delete(above, col)
			}
			col += span
		}
	}

	t := NewTable("docx", rows[:1], rows[1:])
	md := t.metadata()
	md["table_index"] = b.tables
	b.out.add(ElementTable, t, md)
	b.tables++
	b.texts = append(b.texts, t.PlainText())
}

func headingStyleLevel(style string) int {
	lower := strings.ToLower(style)
	if strings.Contains(lower, "title") {
		return 1
	}
	// Extract number from "Heading1", "Heading2", etc.
	for i := 1; i <= 9; i++ {
		if strings.Contains(lower, strconv.Itoa(i)) {
			return i
		}
	}
	return 1
}

// Numbering definitions (word/numbering.xml), reduced to numId -> level ->
// numFmt.
type docxNumbering struct {
	Abstract []struct {
		ID     string `xml:"abstractNumId,attr"`
		Levels []struct {
			ILvl   int     `xml:"ilvl,attr"`
			NumFmt docxVal `xml:"numFmt"`
		} `xml:"lvl"`
	} `xml:"abstractNum"`
	Nums []struct {
		ID       string  `xml:"numId,attr"`
		Abstract docxVal `xml:"abstractNumId"`
	} `xml:"num"`
}

func parseDocxNumbering(pkg *ooxmlPackage) map[string]map[int]string {
	data, err := pkg.read("word/numbering.xml", docxMaxPart)
	if err != nil {
		return nil
	}
	var n docxNumbering
	if xml.Unmarshal(data, &n) != nil {
		return nil
	}
	abstract := make(map[string]map[int]string)
	for _, a := range n.Abstract {
		lv := make(map[int]string)
		for _, l := range a.Levels {
			lv[l.ILvl] = l.NumFmt.Val
		}
		abstract[a.ID] = lv
	}
	out := make(map[string]map[int]string)
	for _, num := range n.Nums {
		out[num.ID] = abstract[num.Abstract.Val]
	}
	return out
}
