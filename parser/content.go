package parser

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

// Cell is one table cell. Spans default to 1.
type Cell struct {
	Text         string `json:"text"`
	Colspan      int    `json:"colspan"`
	Rowspan      int    `json:"rowspan"`
	NestedTables int    `json:"nested_tables,omitempty"`
	NestedLists  int    `json:"nested_lists,omitempty"`
}

// NewCell returns a cell with unit spans.
func NewCell(text string) Cell {
	return Cell{Text: text, Colspan: 1, Rowspan: 1}
}

// Merged reports whether the cell spans more than one row or column.
func (c Cell) Merged() bool { return c.Colspan > 1 || c.Rowspan > 1 }

// Row is an ordered sequence of cells.
type Row []Cell

// TextRow builds a row of unit-span cells.
func TextRow(texts ...string) Row {
	row := make(Row, len(texts))
	for i, t := range texts {
		row[i] = NewCell(t)
	}
	return row
}

// Texts returns the cell texts of r.
func (r Row) Texts() []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = c.Text
	}
	return out
}

// Table is the content of a table element. RowCount always equals
// len(Rows) and ColumnCount is the longest row (0 without rows).
type Table struct {
	Caption        string `json:"caption,omitempty"`
	Headers        []Row  `json:"headers"`
	Rows           []Row  `json:"rows"`
	Format         string `json:"format,omitempty"`
	RowCount       int    `json:"row_count"`
	ColumnCount    int    `json:"column_count"`
	HasHeader      bool   `json:"has_header"`
	HasMergedCells bool   `json:"has_merged_cells"`
}

// NewTable builds a table and derives its counts.
func NewTable(format string, headers, rows []Row) *Table {
	if headers == nil {
		headers = []Row{}
	}
	if rows == nil {
		rows = []Row{}
	}
	t := &Table{Format: format, Headers: headers, Rows: rows}
	t.recount()
	return t
}

func (t *Table) recount() {
	t.RowCount = len(t.Rows)
	t.ColumnCount = 0
	for _, r := range t.Rows {
		if len(r) > t.ColumnCount {
			t.ColumnCount = len(r)
		}
	}
	t.HasHeader = len(t.Headers) > 0
	t.HasMergedCells = false
	for _, rows := range [][]Row{t.Headers, t.Rows} {
		for _, r := range rows {
			for _, c := range r {
				if c.Merged() {
					t.HasMergedCells = true
				}
			}
		}
	}
}

// HeaderTexts returns the texts of the first header row.
func (t *Table) HeaderTexts() []string {
	if len(t.Headers) == 0 {
		return nil
	}
	return t.Headers[0].Texts()
}

// RowTexts returns the body as plain strings.
func (t *Table) RowTexts() [][]string {
	out := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Texts()
	}
	return out
}

// metadata returns the element metadata shared by all table producers.
func (t *Table) metadata() map[string]any {
	return map[string]any{
		"has_header":       t.HasHeader,
		"row_count":        t.RowCount,
		"column_count":     t.ColumnCount,
		"has_merged_cells": t.HasMergedCells,
	}
}

// PlainText renders the caption, then one tab-separated line per row.
func (t *Table) PlainText() string {
	var b strings.Builder
	if t.Caption != "" {
		b.WriteString(t.Caption)
		b.WriteByte('\n')
	}
	for _, rows := range [][]Row{t.Headers, t.Rows} {
		for _, r := range rows {
			b.WriteString(strings.Join(r.Texts(), "\t"))
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

// ListItem is one entry of a list. Children carries nesting recovered from
// indentation; NestedLists carries HTML sub-lists found inside the item.
type ListItem struct {
	Text        string     `json:"text"`
	Marker      string     `json:"marker,omitempty"`
	Index       *int       `json:"index,omitempty"`
	Term        string     `json:"term,omitempty"`
	Definition  string     `json:"definition,omitempty"`
	Checked     *bool      `json:"checked,omitempty"`
	Children    []ListItem `json:"children,omitempty"`
	NestedLists []List     `json:"nested_lists,omitempty"`
}

// List is the content of a list element.
type List struct {
	ListType     string         `json:"list_type"`
	Items        []ListItem     `json:"items"`
	ElementTypes map[string]int `json:"element_types,omitempty"`
}

// Count returns the number of items including nested children.
func (l *List) Count() int {
	var walk func([]ListItem) int
	walk = func(items []ListItem) int {
		n := len(items)
		for _, it := range items {
			n += walk(it.Children)
		}
		return n
	}
	return walk(l.Items)
}

// PlainText renders one line per item, indented two spaces per level.
func (l *List) PlainText() string {
	var b strings.Builder
	var walk func(items []ListItem, depth int)
	walk = func(items []ListItem, depth int) {
		for _, it := range items {
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString(it.Text)
			if it.Definition != "" && it.Definition != it.Text {
				b.WriteString(": ")
				b.WriteString(it.Definition)
			}
			b.WriteByte('\n')
			walk(it.Children, depth+1)
		}
	}
	walk(l.Items, 0)
	return strings.TrimRight(b.String(), "\n")
}

// ---------------------------------------------------------------------------
// Code, key-value groups and object summaries
// ---------------------------------------------------------------------------

// CodeBlock is the content of a code_block element.
type CodeBlock struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Format   string `json:"format"` // fenced, indented
}

// PlainText returns the code unchanged.
func (c *CodeBlock) PlainText() string { return c.Code }

// KeyValue is one entry of a KeyValues group.
type KeyValue struct {
	Key   string
	Value string
}

// KeyValues is an ordered mapping. It serialises as a JSON object with keys
// in insertion order.
type KeyValues []KeyValue

// Set adds or replaces key, keeping the original position on replace.
func (kv *KeyValues) Set(key, value string) {
	for i := range *kv {
		if (*kv)[i].Key == key {
			(*kv)[i].Value = value
			return
		}
	}
	*kv = append(*kv, KeyValue{Key: key, Value: value})
}

// Get returns the value for key.
func (kv KeyValues) Get(key string) (string, bool) {
	for _, p := range kv {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Keys returns the keys in order.
func (kv KeyValues) Keys() []string {
	out := make([]string, len(kv))
	for i, p := range kv {
		out[i] = p.Key
	}
	return out
}

func (kv KeyValues) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range kv {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// PlainText renders the pairs as "key: value" lines in insertion order.
func (kv KeyValues) PlainText() string {
	lines := make([]string, len(kv))
	for i, p := range kv {
		lines[i] = p.Key + ": " + p.Value
	}
	return strings.Join(lines, "\n")
}

// ObjectSummary is the content of an object element.
type ObjectSummary struct {
	Keys    []string `json:"keys"`
	Summary string   `json:"summary"`
}

// PlainText returns the summary line.
func (o *ObjectSummary) PlainText() string { return o.Summary }

// plainTexter is implemented by every non-string content type.
type plainTexter interface {
	PlainText() string
}

func plainText(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case plainTexter:
		return c.PlainText()
	}
	return ""
}
