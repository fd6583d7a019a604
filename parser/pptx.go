package parser

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PPTXParser reads slide decks natively. Every slide opens with a heading
// (its title placeholder, or "Slide N"); text boxes become paragraphs or
// bullet lists and a:tbl frames become tables.
type PPTXParser struct{}

func (p *PPTXParser) SupportedFormats() []string { return []string{FormatPPTX} }

// ElementTypes lists the element types PPTXParser emits.
func (p *PPTXParser) ElementTypes() []ElementType {
	return []ElementType{ElementHeading, ElementParagraph, ElementList, ElementTable}
}

func (p *PPTXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return run(ctx, path, FormatPPTX, func() (*ParseResult, error) {
		pkg, err := openOOXML(path)
		if err != nil {
			return nil, fmt.Errorf("opening PPTX: %w", err)
		}
		defer pkg.Close()

		// Collect slide files (ppt/slides/slide1.xml, slide2.xml, ...)
		var nums []int
		for name := range pkg.files {
			if strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml") {
				if n := extractSlideNumber(name); n > 0 {
					nums = append(nums, n)
				}
			}
		}
		sort.Ints(nums)

		var (
			out     elementList
			texts   []string
			titled  int
			skipped int
		)
		for _, num := range nums {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			data, err := pkg.read(fmt.Sprintf("ppt/slides/slide%d.xml", num), docxMaxPart)
			if err != nil {
				skipped++
				continue
			}
			var slide pptxSlide
			if err := xml.Unmarshal(data, &slide); err != nil {
				skipped++
				continue
			}
			if addSlide(&out, num, slide, &texts) {
				titled++
			}
		}
		if out.len() == 0 {
			return nil, ErrNoContent
		}

		elements := out.elements()
		md := baseMetadata(path, FormatPPTX)
		md["slide_count"] = len(nums)
		md["titled_slides"] = titled
		if skipped > 0 {
			md["unreadable_slides"] = skipped
		}
		if props := pkg.properties(); props != nil {
			md["document_properties"] = props
			if t, ok := props["title"]; ok {
				md["title"] = t
			}
		}

		return &ParseResult{
			Metadata:           md,
			RawText:            strings.Join(texts, "\n"),
			StructuredElements: elements,
			ConfidenceScore:    ooxmlConfidence(elements),
		}, nil
	})
}

// Slide XML structures (simplified). Shapes are kept in tree order.
type pptxSlide struct {
	CSld struct {
		SpTree struct {
			Shapes []pptxShape `xml:",any"`
		} `xml:"spTree"`
	} `xml:"cSld"`
}

// pptxShape is a p:sp text shape or a p:graphicFrame.
type pptxShape struct {
	XMLName xml.Name
	NvSpPr  struct {
		NvPr struct {
			Ph *struct {
				Type string `xml:"type,attr"`
			} `xml:"ph"`
		} `xml:"nvPr"`
	} `xml:"nvSpPr"`
	TxBody  *pptxTxBody `xml:"txBody"`
	Graphic *struct {
		Data struct {
			Tbl *pptxTable `xml:"tbl"`
		} `xml:"graphicData"`
	} `xml:"graphic"`
}

type pptxTxBody struct {
	Paras []pptxAPara `xml:"p"`
}

type pptxAPara struct {
	PPr *struct {
		Lvl int `xml:"lvl,attr"`
	} `xml:"pPr"`
	Runs []pptxARun `xml:"r"`
}

type pptxARun struct {
	Text string `xml:"t"`
}

type pptxTable struct {
	Rows []struct {
		Cells []struct {
			GridSpan int         `xml:"gridSpan,attr"`
			RowSpan  int         `xml:"rowSpan,attr"`
			HMerge   bool        `xml:"hMerge,attr"`
			VMerge   bool        `xml:"vMerge,attr"`
			TxBody   *pptxTxBody `xml:"txBody"`
		} `xml:"tc"`
	} `xml:"tr"`
}

func (p pptxAPara) text() string {
	var b strings.Builder
	for _, run := range p.Runs {
		b.WriteString(run.Text)
	}
	return strings.TrimSpace(b.String())
}

func (s pptxShape) placeholder() string {
	if s.NvSpPr.NvPr.Ph == nil {
		return ""
	}
	if s.NvSpPr.NvPr.Ph.Type == "" {
		return "body"
	}
	return s.NvSpPr.NvPr.Ph.Type
}

// addSlide emits one slide and reports whether it had a title placeholder.
func addSlide(out *elementList, num int, slide pptxSlide, texts *[]string) bool {
	shapes := slide.CSld.SpTree.Shapes

	title := ""
	for _, s := range shapes {
		if ph := s.placeholder(); (ph == "title" || ph == "ctrTitle") && s.TxBody != nil {
			var parts []string
			for _, p := range s.TxBody.Paras {
				if t := p.text(); t != "" {
					parts = append(parts, t)
				}
			}
			title = strings.Join(parts, " ")
			break
		}
	}
	heading := title
	if heading == "" {
		heading = fmt.Sprintf("Slide %d", num)
	}
	slideMD := func(md map[string]any) map[string]any {
		md["slide_number"] = num
		return md
	}

	out.add(ElementHeading, heading, slideMD(map[string]any{"level": 2}))
	*texts = append(*texts, heading)

	for _, s := range shapes {
		ph := s.placeholder()
		switch {
		case ph == "title" || ph == "ctrTitle":
			continue
		case s.Graphic != nil && s.Graphic.Data.Tbl != nil:
			t := pptxTableContent(s.Graphic.Data.Tbl)
			if t.RowCount == 0 && len(t.Headers) == 0 {
				continue
			}
			out.add(ElementTable, t, slideMD(t.metadata()))
			*texts = append(*texts, t.PlainText())
		case s.TxBody != nil:
			var (
				items  []ListItem
				levels []int
			)
			for _, p := range s.TxBody.Paras {
				t := p.text()
				if t == "" {
					continue
				}
				lvl := 0
				if p.PPr != nil {
					lvl = p.PPr.Lvl
				}
				items = append(items, ListItem{Text: t})
				levels = append(levels, lvl)
				*texts = append(*texts, t)
			}
			switch {
			case len(items) == 0:
			case len(items) == 1:
				out.add(ElementParagraph, items[0].Text, slideMD(map[string]any{"placeholder": ph}))
			default:
				maxLevel := 0
				for _, l := range levels {
					maxLevel = max(maxLevel, l)
				}
				out.add(ElementList, &List{ListType: "unordered", Items: nestByLevel(items, levels)}, slideMD(map[string]any{
					"item_count":  len(items),
					"has_nesting": maxLevel > 0,
					"placeholder": ph,
				}))
			}
		}
	}
	return title != ""
}

// pptxTableContent builds a table; cells covered by a merge are dropped.
func pptxTableContent(tbl *pptxTable) *Table {
	var rows []Row
	for _, tr := range tbl.Rows {
		var row Row
		for _, tc := range tr.Cells {
			if tc.HMerge || tc.VMerge {
				continue
			}
			var parts []string
			if tc.TxBody != nil {
				for _, p := range tc.TxBody.Paras {
					if t := p.text(); t != "" {
						parts = append(parts, t)
					}
				}
			}
			cell := NewCell(strings.Join(parts, " "))
			cell.Colspan = max(1, tc.GridSpan)
			cell.Rowspan = max(1, tc.RowSpan)
			row = append(row, cell)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return NewTable("pptx", nil, nil)
	}
	return NewTable("pptx", rows[:1], rows[1:])
}

func extractSlideNumber(name string) int {
	// Extract number from "ppt/slides/slide1.xml"
	name = strings.TrimPrefix(name, "ppt/slides/slide")
	name = strings.TrimSuffix(name, ".xml")
	n, err := strconv.Atoi(name)
	if err != nil {
		return 0
	}
	return n
}
