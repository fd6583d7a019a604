package heuristics

import (
	"encoding/csv"
	"regexp"
	"sort"
	"strings"
)

// Table kinds reported by ScanTable.
const (
	TableDelimited  = "delimited"
	TableWhitespace = "whitespace_aligned"
)

// Delimiters are the candidate column separators, in tie-break order.
var Delimiters = []rune{',', '|', '\t', ';'}

// whitespaceRow matches lines with at least three cells separated by runs
// of two or more spaces. Cells may contain single spaces.
var whitespaceRow = regexp.MustCompile(`^\s*\S+(?: \S+)*(?:\s{2,}\S+(?: \S+)*){2,}\s*$`)

// TableRun describes a block of lines that form a table: lines[Start:End].
type TableRun struct {
	Kind      string
	Delimiter rune
	Start     int
	End       int
}

// Rows returns the number of lines in the run.
func (r TableRun) Rows() int { return r.End - r.Start }

// ScanTable looks for a table starting at lines[start]. A delimited table
// needs a delimiter occurring the same number of times (at least twice) on
// two or more consecutive lines; otherwise two or more consecutive aligned
// lines make a whitespace table. The run ends at the first blank line or the
// first line breaking the pattern.
func ScanTable(lines []string, start int) (TableRun, bool) {
	if start >= len(lines) || isBlank(lines[start]) {
		return TableRun{}, false
	}

	var best TableRun
	for _, d := range Delimiters {
		n := strings.Count(lines[start], string(d))
		if n < 2 {
			continue
		}
		end := start + 1
		for end < len(lines) && !isBlank(lines[end]) && strings.Count(lines[end], string(d)) == n {
			end++
		}
		if end-start >= 2 && end-start > best.Rows() {
			best = TableRun{Kind: TableDelimited, Delimiter: d, Start: start, End: end}
		}
	}
	if best.Rows() > 0 {
		return best, true
	}

	end := start
	for end < len(lines) && whitespaceRow.MatchString(lines[end]) {
		end++
	}
	if end-start >= 2 {
		return TableRun{Kind: TableWhitespace, Start: start, End: end}, true
	}
	return TableRun{}, false
}

// SplitDelimited splits one delimited row into trimmed cells. Comma,
// semicolon and tab rows honour CSV quoting; pipe rows drop the outer
// border pipes.
func SplitDelimited(line string, delim rune) []string {
	var cells []string
	if delim == '|' {
		s := strings.TrimSpace(line)
		s = strings.TrimPrefix(s, "|")
		s = strings.TrimSuffix(s, "|")
		cells = strings.Split(s, "|")
	} else {
		r := csv.NewReader(strings.NewReader(line))
		r.Comma = delim
		r.LazyQuotes = true
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		rec, err := r.Read()
		if err != nil {
			rec = strings.Split(line, string(delim))
		}
		cells = rec
	}
	for i, c := range cells {
		cells[i] = strings.Trim(strings.TrimSpace(c), `"'`)
	}
	return cells
}

// IsRuleRow reports whether cells form a markdown header rule such as
// "---|:---:|---".
func IsRuleRow(cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		c = strings.Trim(c, ": ")
		if !allChar(c, '-') {
			return false
		}
	}
	return true
}

// ColumnStarts infers column boundaries for a whitespace-aligned table from
// the union of cell-start offsets across rows. Offsets that would cut through
// a word on some row are discarded.
func ColumnStarts(lines []string) []int {
	rows := make([][]rune, len(lines))
	for i, l := range lines {
		rows[i] = []rune(l)
	}

	set := make(map[int]bool)
	for _, row := range rows {
		seenText := false
		for p := range row {
			if row[p] == ' ' {
				continue
			}
			if !seenText || (p >= 2 && row[p-1] == ' ' && row[p-2] == ' ') {
				set[p] = true
			}
			seenText = true
		}
	}

	var starts []int
	for p := range set {
		ok := true
		for _, row := range rows {
			if p > 0 && p < len(row) && row[p-1] != ' ' && row[p] != ' ' {
				ok = false
				break
			}
		}
		if ok {
			starts = append(starts, p)
		}
	}
	sort.Ints(starts)
	return starts
}

// SplitColumns slices line at the given column starts.
func SplitColumns(line string, starts []int) []string {
	row := []rune(line)
	cells := make([]string, len(starts))
	for i, s := range starts {
		end := len(row)
		if i+1 < len(starts) && starts[i+1] < end {
			end = starts[i+1]
		}
		if s >= end {
			continue
		}
		cells[i] = strings.TrimSpace(string(row[s:end]))
	}
	return cells
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
