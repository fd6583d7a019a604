package parser

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/ShriniwasAhirrao/MetaStitch/heuristics"
)

func parseTextFixture(t *testing.T, body string) *ParseResult {
	t.Helper()
	path := writeFixture(t, "doc.txt", body)
	res, err := NewTextParser(TextConfig{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Failed() {
		t.Fatalf("degraded: %s", res.Error())
	}
	checkInvariants(t, res)
	return res
}

func elementTypes(res *ParseResult) []ElementType {
	out := make([]ElementType, len(res.StructuredElements))
	for i, e := range res.StructuredElements {
		out[i] = e.Type
	}
	return out
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

func TestTextParserListNesting(t *testing.T) {
	res := parseTextFixture(t, "- Item 1\n- Item 2\n  - Sub A\n  - Sub B\n- Item 3\n")

	if len(res.StructuredElements) != 1 {
		t.Fatalf("elements = %v, want one list", elementTypes(res))
	}
	list, ok := res.StructuredElements[0].Content.(*List)
	if !ok {
		t.Fatalf("content = %T, want *List", res.StructuredElements[0].Content)
	}
	if len(list.Items) != 3 {
		t.Fatalf("root items = %d, want 3", len(list.Items))
	}
	children := list.Items[1].Children
	if len(children) != 2 || children[0].Text != "Sub A" || children[1].Text != "Sub B" {
		t.Errorf("children of item 2 = %+v", children)
	}
	if len(list.Items[0].Children) != 0 || len(list.Items[2].Children) != 0 {
		t.Error("items 1 and 3 should have no children")
	}

	md := res.StructuredElements[0].Metadata
	if md["item_count"] != 5 || md["has_nesting"] != true || md["max_indent_level"] != 1 {
		t.Errorf("metadata = %v", md)
	}
	if list.ListType != heuristics.ListBulleted {
		t.Errorf("list type = %q", list.ListType)
	}
}

func TestTextParserListBlankLinesAndNumbering(t *testing.T) {
	res := parseTextFixture(t, "1. First\n\n2. Second\n    a) deeper\n        i. deepest\n3. Third\n\nAfterwards some prose.")

	if got := elementTypes(res); !reflect.DeepEqual(got, []ElementType{ElementList, ElementParagraph}) {
		t.Fatalf("elements = %v", got)
	}
	list := res.StructuredElements[0].Content.(*List)
	if list.ListType != heuristics.ListNumbered || len(list.Items) != 3 {
		t.Fatalf("list = %+v", list)
	}
	second := list.Items[1]
	if len(second.Children) != 1 || len(second.Children[0].Children) != 1 {
		t.Fatalf("nesting = %+v", second)
	}
	if second.Children[0].Children[0].Text != "deepest" {
		t.Errorf("grandchild = %+v", second.Children[0].Children[0])
	}
}

func TestNestListItems(t *testing.T) {
	items := []heuristics.ListLine{
		{Text: "a", Indent: 4}, {Text: "b", Indent: 8}, {Text: "c", Indent: 0}, {Text: "d", Indent: 8},
	}
	got := nestListItems(items, []int{1, 2, 0, 2})

	want := []ListItem{
		{Text: "a", Children: []ListItem{{Text: "b"}}},
		{Text: "c", Children: []ListItem{{Text: "d"}}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("nestListItems = %+v, want %+v", got, want)
	}
}

// ---------------------------------------------------------------------------
// Mixed documents
// ---------------------------------------------------------------------------

func TestTextParserMixedDocument(t *testing.T) {
	fence := "```"
	doc := strings.Join([]string{
		"# Title",
		"",
		"Overview",
		"========",
		"",
		"Some prose that runs",
		"across two lines.",
		"",
		"INTRODUCTION",
		"",
		"2.1 Scope Details",
		"",
		"| Name | Qty |",
		"|------|-----|",
		"| Pen  | 2   |",
		"| Ink  | 5   |",
		"",
		"Name    Age   City",
		"Alice   30    Paris",
		"Bob     41    New York",
		"",
		"Host: example.org",
		"Port: 8080",
		"",
		fence + "python",
		"print('hi')",
		fence,
		"",
		"Example:",
		"",
		"    x := 1",
		"    y := 2",
	}, "\n")
	res := parseTextFixture(t, doc)

	want := []ElementType{
		ElementHeading, ElementHeading, ElementParagraph, ElementHeading, ElementHeading,
		ElementTable, ElementTable, ElementKeyValuePairs, ElementCodeBlock, ElementParagraph,
		ElementCodeBlock,
	}
	if got := elementTypes(res); !reflect.DeepEqual(got, want) {
		t.Fatalf("elements = %v\nwant %v", got, want)
	}
	els := res.StructuredElements

	headings := []struct {
		text       string
		level      int
		style      string
		confidence float64
	}{
		{"Title", 1, heuristics.StyleMarkdown, 1.0},
		{"Overview", 1, heuristics.StyleUnderline, 0.9},
		{"INTRODUCTION", 1, heuristics.StyleCaps, 0.7},
		{"2.1 Scope Details", 2, heuristics.StyleNumbered, 0.8},
	}
	for i, h := range res.Elements(ElementHeading) {
		w := headings[i]
		if h.Content != w.text || h.Metadata["level"] != w.level || h.Metadata["formatting"] != w.style {
			t.Errorf("heading %d = %v %v", i, h.Content, h.Metadata)
		}
		if h.Confidence != w.confidence {
			t.Errorf("heading %d confidence = %f, want %f", i, h.Confidence, w.confidence)
		}
	}

	if els[2].Content != "Some prose that runs across two lines." {
		t.Errorf("paragraph = %q", els[2].Content)
	}
	if els[2].Metadata["line_number"] != 6 || els[2].Metadata["line_count"] != 2 {
		t.Errorf("paragraph metadata = %v", els[2].Metadata)
	}

	pipe := els[5].Content.(*Table)
	if !reflect.DeepEqual(pipe.HeaderTexts(), []string{"Name", "Qty"}) ||
		!reflect.DeepEqual(pipe.RowTexts(), [][]string{{"Pen", "2"}, {"Ink", "5"}}) {
		t.Errorf("pipe table = %v / %v", pipe.HeaderTexts(), pipe.RowTexts())
	}
	if els[5].Metadata["delimiter"] != "|" || els[5].Confidence != 0.9 {
		t.Errorf("pipe table metadata = %v", els[5].Metadata)
	}

	aligned := els[6].Content.(*Table)
	if !reflect.DeepEqual(aligned.HeaderTexts(), []string{"Name", "Age", "City"}) {
		t.Errorf("aligned headers = %v", aligned.HeaderTexts())
	}
	if !reflect.DeepEqual(aligned.RowTexts(), [][]string{{"Alice", "30", "Paris"}, {"Bob", "41", "New York"}}) {
		t.Errorf("aligned rows = %v", aligned.RowTexts())
	}
	if els[6].Confidence != 0.7 || aligned.Format != heuristics.TableWhitespace {
		t.Errorf("aligned table confidence=%f format=%s", els[6].Confidence, aligned.Format)
	}

	kv := els[7].Content.(KeyValues)
	if v, _ := kv.Get("Port"); v != "8080" || !reflect.DeepEqual(kv.Keys(), []string{"Host", "Port"}) {
		t.Errorf("key values = %v", kv)
	}

	fenced := els[8].Content.(*CodeBlock)
	if fenced.Language != "python" || fenced.Code != "print('hi')" || fenced.Format != "fenced" {
		t.Errorf("fenced code = %+v", fenced)
	}
	indented := els[10].Content.(*CodeBlock)
	if indented.Code != "x := 1\ny := 2" || indented.Format != "indented" {
		t.Errorf("indented code = %+v", indented)
	}
}

func TestTextParserKeyValuesEndParagraph(t *testing.T) {
	res := parseTextFixture(t, "This is some prose text here\nAuthor: Jane Doe\nVersion: 1.2\n")

	want := []ElementType{ElementParagraph, ElementKeyValuePairs}
	if got := elementTypes(res); !reflect.DeepEqual(got, want) {
		t.Fatalf("elements = %v, want %v", got, want)
	}
	els := res.StructuredElements
	if els[0].Content != "This is some prose text here" {
		t.Errorf("paragraph = %q", els[0].Content)
	}
	kv := els[1].Content.(KeyValues)
	if !reflect.DeepEqual(kv.Keys(), []string{"Author", "Version"}) || els[1].Metadata["line_number"] != 2 {
		t.Errorf("key-values = %v at line %v", kv.Keys(), els[1].Metadata["line_number"])
	}
}

func TestTextParserDelimitedTables(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		delim   string
		headers []string
		rows    [][]string
	}{
		{
			"csv",
			"id,name,score\n1,ann,3.5\n2,\"bob jr\",4",
			",",
			[]string{"id", "name", "score"},
			[][]string{{"1", "ann", "3.5"}, {"2", "bob jr", "4"}},
		},
		{
			"tab",
			"a\tb\tc\n1\t2\t3",
			"\t",
			[]string{"a", "b", "c"},
			[][]string{{"1", "2", "3"}},
		},
		{
			"semicolon",
			"x;y;z\n1;2;3\n4;5;6",
			";",
			[]string{"x", "y", "z"},
			[][]string{{"1", "2", "3"}, {"4", "5", "6"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parseTextFixture(t, tt.body)
			tables := res.Elements(ElementTable)
			if len(tables) != 1 {
				t.Fatalf("elements = %v, want one table", elementTypes(res))
			}
			tbl := tables[0].Content.(*Table)
			if tables[0].Metadata["delimiter"] != tt.delim {
				t.Errorf("delimiter = %q", tables[0].Metadata["delimiter"])
			}
			if !reflect.DeepEqual(tbl.HeaderTexts(), tt.headers) {
				t.Errorf("headers = %v", tbl.HeaderTexts())
			}
			if !reflect.DeepEqual(tbl.RowTexts(), tt.rows) {
				t.Errorf("rows = %v", tbl.RowTexts())
			}
		})
	}
}

func TestTextParserSingleLineIsNotTable(t *testing.T) {
	res := parseTextFixture(t, "alpha, beta, gamma\n\nnext paragraph here")
	if got := elementTypes(res); !reflect.DeepEqual(got, []ElementType{ElementParagraph, ElementParagraph}) {
		t.Errorf("elements = %v", got)
	}
}

func TestTextParserUnterminatedFence(t *testing.T) {
	res := parseTextFixture(t, "~~~\nline one\nline two")
	code := res.Elements(ElementCodeBlock)
	if len(code) != 1 {
		t.Fatalf("elements = %v", elementTypes(res))
	}
	cb := code[0].Content.(*CodeBlock)
	if cb.Code != "line one\nline two" || cb.Language != "text" {
		t.Errorf("code = %+v", cb)
	}
}

// ---------------------------------------------------------------------------
// Preprocessing, limits and scoring
// ---------------------------------------------------------------------------

func TestPreprocessText(t *testing.T) {
	raw, lines := preprocessText("\r\n\r\na\r\nb\r\n\r\n\r\n\r\nc\td  \r\n\n\n")

	if want := []string{"a", "b", "", "c\td"}; !reflect.DeepEqual(raw, want) {
		t.Errorf("raw = %q, want %q", raw, want)
	}
	if want := []string{"a", "b", "", "c   d"}; !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}

	if raw, lines := preprocessText("\n \n"); raw != nil || lines != nil {
		t.Errorf("blank input = %q %q", raw, lines)
	}
}

func TestExpandTabs(t *testing.T) {
	tests := []struct{ in, want string }{
		{"\tx", "    x"},
		{"ab\tc", "ab  c"},
		{"abcd\te", "abcd    e"},
		{"none", "none"},
	}
	for _, tt := range tests {
		if got := expandTabs(tt.in, 4); got != tt.want {
			t.Errorf("expandTabs(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTextParserTooLarge(t *testing.T) {
	path := writeFixture(t, "big.txt", strings.Repeat("word ", 40))
	res, err := NewTextParser(TextConfig{MaxFileSize: 64}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(res.Error(), ErrFileTooLarge.Error()) {
		t.Errorf("error = %q, want size limit", res.Error())
	}
	if res.ConfidenceScore != 0 {
		t.Errorf("confidence = %f", res.ConfidenceScore)
	}
}

func TestTextParserMetadata(t *testing.T) {
	res := parseTextFixture(t, "HEADER\n\n- a\n- b\n\nx, y, z\n")

	stats := res.Metadata["statistics"].(map[string]any)
	if stats["line_count"] != 6 || stats["paragraph_count"] != 3 {
		t.Errorf("statistics = %v", stats)
	}
	patterns := res.Metadata["detected_patterns"].(map[string]int)
	if patterns["lists"] != 2 || patterns["headers"] != 1 || patterns["delimited_tables"] != 1 {
		t.Errorf("patterns = %v", patterns)
	}
	if _, ok := patterns["code_blocks"]; ok {
		t.Error("zero counts should be dropped")
	}
}

func TestTextConfidence(t *testing.T) {
	if got := textConfidence(nil, "abc"); got != 0 {
		t.Errorf("no elements = %f, want 0", got)
	}

	// One paragraph covering the whole text: 1/5*0.3 + 1*0.4 + 0.
	para := []StructuredElement{{Type: ElementParagraph, Content: "hello world"}}
	if got := textConfidence(para, "hello world"); got < 0.459 || got > 0.461 {
		t.Errorf("paragraph only = %f, want 0.46", got)
	}

	// A heading and a paragraph: 2/5*0.3 + 1*0.4 + 1/2*0.3.
	mixed := []StructuredElement{
		{Type: ElementHeading, Content: "Title"},
		{Type: ElementParagraph, Content: "Body."},
	}
	if got := textConfidence(mixed, "TitleBody."); got < 0.669 || got > 0.671 {
		t.Errorf("mixed = %f, want 0.67", got)
	}
}
