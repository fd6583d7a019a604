package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser turns every non-empty worksheet into a heading followed by a
// table whose first row is the header.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{FormatXLSX, "xlsm"} }

// ElementTypes lists the element types XLSXParser emits.
func (p *XLSXParser) ElementTypes() []ElementType {
	return []ElementType{ElementHeading, ElementTable}
}

func (p *XLSXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return run(ctx, path, FormatXLSX, func() (*ParseResult, error) {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening XLSX: %w", err)
		}
		defer f.Close()

		md := baseMetadata(path, FormatXLSX)
		if info, err := os.Stat(path); err == nil {
			md["file_size"] = info.Size()
		}

		var (
			out     elementList
			texts   []string
			tables  int
			skipped []string
		)
		sheets := f.GetSheetList()
		for idx, sheet := range sheets {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rows, err := f.GetRows(sheet)
			if err != nil {
				skipped = append(skipped, sheet)
				continue
			}
			rows = trimEmptyRows(rows)
			if len(rows) == 0 {
				continue
			}

			header, body := sheetRows(rows)
			merges, err := f.GetMergeCells(sheet)
			if err == nil {
				applyMerges(header, body, merges)
			}

			out.add(ElementHeading, sheet, map[string]any{
				"level":       2,
				"sheet_name":  sheet,
				"sheet_index": idx,
			})
			tbl := NewTable("spreadsheet", []Row{header}, body)
			tmd := tbl.metadata()
			tmd["sheet_name"] = sheet
			tmd["merged_ranges"] = len(merges)
			out.add(ElementTable, tbl, tmd)
			tables++

			texts = append(texts, sheet+"\n"+tbl.PlainText())
		}

		md["sheet_count"] = len(sheets)
		md["sheets"] = sheets
		if len(skipped) > 0 {
			md["unreadable_sheets"] = skipped
		}

		return &ParseResult{
			Metadata:           md,
			RawText:            strings.Join(texts, "\n\n"),
			StructuredElements: out.elements(),
			ConfidenceScore:    xlsxConfidence(tables),
		}, nil
	})
}

// trimEmptyRows drops trailing rows with no text.
func trimEmptyRows(rows [][]string) [][]string {
	end := len(rows)
	for end > 0 && rowEmpty(rows[end-1]) {
		end--
	}
	return rows[:end]
}

func rowEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func sheetRows(rows [][]string) (Row, []Row) {
	header := TextRow(rows[0]...)
	body := make([]Row, 0, len(rows)-1)
	for _, r := range rows[1:] {
		body = append(body, TextRow(r...))
	}
	return header, body
}

// applyMerges sets spans on the anchor cell of every merged range. Ranges
// anchored outside the populated grid are ignored.
func applyMerges(header Row, body []Row, merges []excelize.MergeCell) {
	for _, mc := range merges {
		c1, r1, err := excelize.CellNameToCoordinates(mc.GetStartAxis())
		if err != nil {
			continue
		}
		c2, r2, err := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err != nil {
			continue
		}

		var row Row
		switch {
		case r1 == 1:
			row = header
		case r1-2 < len(body):
			row = body[r1-2]
		default:
			continue
		}
		if c1-1 >= len(row) {
			continue
		}
		row[c1-1].Colspan = c2 - c1 + 1
		row[c1-1].Rowspan = r2 - r1 + 1
	}
}

func xlsxConfidence(tables int) float64 {
	if tables == 0 {
		return 0
	}
	return 0.7 + min(float64(tables)*0.1, 0.3)
}
