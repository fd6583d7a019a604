package parser

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func parseJSONFixture(t *testing.T, cfg JSONConfig, body string) *ParseResult {
	t.Helper()
	path := writeFixture(t, "doc.json", body)
	res, err := NewJSONParser(cfg).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Failed() {
		t.Fatalf("degraded: %s", res.Error())
	}
	checkInvariants(t, res)
	return res
}

func TestJSONParserTabularArray(t *testing.T) {
	res := parseJSONFixture(t, JSONConfig{}, `{"users": [{"id":1,"name":"A"},{"id":2,"name":"B"}]}`)

	tables := res.Elements(ElementTable)
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}
	tbl := tables[0].Content.(*Table)
	if !reflect.DeepEqual(tbl.HeaderTexts(), []string{"id", "name"}) {
		t.Errorf("headers = %v", tbl.HeaderTexts())
	}
	if !reflect.DeepEqual(tbl.RowTexts(), [][]string{{"1", "A"}, {"2", "B"}}) {
		t.Errorf("rows = %v", tbl.RowTexts())
	}
	md := tables[0].Metadata
	if md["json_path"] != "users" || md["table_type"] != "object_array" {
		t.Errorf("metadata = %v", md)
	}

	objects := res.Elements(ElementObject)
	if len(objects) != 1 || objects[0].Metadata["json_path"] != "" {
		t.Fatalf("objects = %+v", objects)
	}
	if got := objects[0].Content.(*ObjectSummary).Summary; got != "users: [2 items]" {
		t.Errorf("summary = %q", got)
	}
}

func TestJSONParserArrayMissingKeys(t *testing.T) {
	res := parseJSONFixture(t, JSONConfig{},
		`[{"b":1,"a":2},{"a":4,"b":5},{"a":6,"b":7,"c":8,"d":null}]`)

	tables := res.Elements(ElementTable)
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}
	tbl := tables[0].Content.(*Table)
	if !reflect.DeepEqual(tbl.HeaderTexts(), []string{"a", "b", "c", "d"}) {
		t.Errorf("headers = %v", tbl.HeaderTexts())
	}
	want := [][]string{{"2", "1", "", ""}, {"4", "5", "", ""}, {"6", "7", "8", ""}}
	if !reflect.DeepEqual(tbl.RowTexts(), want) {
		t.Errorf("rows = %v, want %v", tbl.RowTexts(), want)
	}
}

func TestJSONParserTabularClassification(t *testing.T) {
	tests := []struct {
		name string
		body string
		want ElementType
	}{
		{"flat_object", `{"host":"a","port":80,"tls":true}`, ElementTable},
		{"short_scalar_list", `{"name":"x","tags":["a","b"]}`, ElementTable},
		{"single_key", `{"only":1}`, ElementObject},
		{"nested_object", `{"a":1,"b":{"c":2}}`, ElementObject},
		{"long_list", `{"a":1,"b":[1,2,3,4,5]}`, ElementObject},
		{"scalar_array", `[1,2,3]`, ElementList},
		{"dissimilar_objects", `[{"a":1,"b":2,"c":3},{"x":1},{"y":2},{"z":3}]`, ElementList},
		{"mixed_array", `[{"a":1},2]`, ElementList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parseJSONFixture(t, JSONConfig{}, tt.body)
			if len(res.StructuredElements) == 0 {
				t.Fatal("no elements")
			}
			if got := res.StructuredElements[0].Type; got != tt.want {
				t.Errorf("root element = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestJSONParserPathsAndParagraphs(t *testing.T) {
	res := parseJSONFixture(t, JSONConfig{}, `{
  "title": "A fairly long title string",
  "meta": {"nested": {"deep": {"k": 1, "v": 2}}, "x": 1},
  "items": ["short", "another long string value"]
}`)

	var paths []string
	for _, e := range res.StructuredElements {
		paths = append(paths, e.Metadata["json_path"].(string))
	}
	want := []string{"", "title", "meta", "meta.nested", "meta.nested.deep", "items", "items[1]"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("paths = %v, want %v", paths, want)
	}

	paras := res.Elements(ElementParagraph)
	if len(paras) != 2 || paras[1].Content != "another long string value" {
		t.Errorf("paragraphs = %+v", paras)
	}

	list := res.Elements(ElementList)[0].Content.(*List)
	if list.ListType != "json_array" || len(list.Items) != 2 || *list.Items[1].Index != 1 {
		t.Errorf("list = %+v", list)
	}
	if list.ElementTypes["string"] != 2 {
		t.Errorf("element types = %v", list.ElementTypes)
	}
}

func TestJSONParserRawTextPreservesOrder(t *testing.T) {
	res := parseJSONFixture(t, JSONConfig{}, `{"zeta":1,"alpha":{"b":[true,null],"a":"<x>"},"empty":{}, "arr":[]}`)

	want := `{
  "zeta": 1,
  "alpha": {
    "b": [
      true,
      null
    ],
    "a": "<x>"
  },
  "empty": {},
  "arr": []
}`
	if res.RawText != want {
		t.Errorf("raw text =\n%s\nwant\n%s", res.RawText, want)
	}
}

func TestJSONParserRecovery(t *testing.T) {
	res := parseJSONFixture(t, JSONConfig{}, `{"a": 1, "b": [1, 2,], "c": "x",}`)
	if res.Metadata["parse_strategy"] != "recovered" {
		t.Errorf("parse_strategy = %v, want recovered", res.Metadata["parse_strategy"])
	}
	if !strings.Contains(res.RawText, `"c": "x"`) {
		t.Errorf("raw text = %s", res.RawText)
	}
}

func TestJSONParserErrorPayload(t *testing.T) {
	res := parseJSONFixture(t, JSONConfig{}, `{"a": [1, 2`+strings.Repeat(" ", 10))

	if res.Metadata["parse_strategy"] != "error_payload" {
		t.Fatalf("parse_strategy = %v", res.Metadata["parse_strategy"])
	}
	tables := res.Elements(ElementTable)
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want key/value table of the payload", len(tables))
	}
	rows := tables[0].Content.(*Table).RowTexts()
	if rows[0][0] != "parse_error" || rows[0][1] == "" {
		t.Errorf("payload rows = %v", rows)
	}
	if rows[1][0] != "raw_content" || !strings.HasPrefix(rows[1][1], `{"a": [1, 2`) {
		t.Errorf("payload rows = %v", rows)
	}
}

func TestJSONParserStreaming(t *testing.T) {
	body := `{"users": [{"id":1,"name":"A"},{"id":2,"name":"B"}], "note": "streamed document body"}`
	res := parseJSONFixture(t, JSONConfig{MaxFileSize: 16}, body)

	if res.Metadata["parse_strategy"] != "streaming" {
		t.Errorf("parse_strategy = %v, want streaming", res.Metadata["parse_strategy"])
	}
	if len(res.Elements(ElementTable)) != 1 || len(res.Elements(ElementParagraph)) != 1 {
		t.Errorf("elements = %+v", res.StructuredElements)
	}
}

func TestJSONParserMaxDepth(t *testing.T) {
	res := parseJSONFixture(t, JSONConfig{MaxDepth: 2}, `{"a":{"b":{"c":{"d":{"e":1,"f":2}}}}}`)

	for _, e := range res.StructuredElements {
		if p := e.Metadata["json_path"].(string); strings.Count(p, ".") > 2 {
			t.Errorf("element beyond max depth at %q", p)
		}
	}
	structure := res.Metadata["structure"].(map[string]any)
	a := structure["nested_structures"].(map[string]any)["a"].(map[string]any)
	b := a["nested_structures"].(map[string]any)["b"].(map[string]any)
	c := b["nested_structures"].(map[string]any)["c"].(map[string]any)
	if c["type"] != "max_depth_exceeded" {
		t.Errorf("depth 3 analysis = %v", c)
	}
}

func TestDetectSchemaPatterns(t *testing.T) {
	tests := []struct {
		name string
		body string
		want map[string]any
	}{
		{"api", `{"data": [], "status": "ok"}`, map[string]any{"api_response": true, "status_response": true}},
		{"config", `{"settings": {"x": 1}}`, map[string]any{"configuration": true}},
		{"tabular", `[{"id":1,"v":2},{"id":2,"v":3}]`, map[string]any{"tabular_data": true, "table_columns": []string{"id", "v"}}},
		{"none", `{"x": 1}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := decodeJSON(strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if got := detectSchemaPatterns(v); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("patterns = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeJSONRejectsTrailingData(t *testing.T) {
	for _, body := range []string{`{"a":1} {"b":2}`, `[1,]`, ``, `{"a":1,}`} {
		if _, err := decodeJSON(strings.NewReader(body)); err == nil {
			t.Errorf("decodeJSON(%q) succeeded", body)
		}
	}
}

func TestJSONConfidence(t *testing.T) {
	if got := jsonConfidence(nil); got != 0.1 {
		t.Errorf("empty confidence = %f, want 0.1", got)
	}
	elements := []StructuredElement{
		{Type: ElementObject, Metadata: map[string]any{"json_path": ""}},
		{Type: ElementTable, Metadata: map[string]any{"json_path": "a.b"}},
	}
	// 0.7 + 2*0.05 + 0.1 + 1*0.02
	if got := jsonConfidence(elements); got < 0.919 || got > 0.921 {
		t.Errorf("confidence = %f, want 0.92", got)
	}
}
