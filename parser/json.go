package parser

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/ShriniwasAhirrao/MetaStitch/textenc"
)

// JSONConfig configures the JSON parser.
type JSONConfig struct {
	// MaxDepth bounds structure analysis and the element walk.
	MaxDepth int `json:"max_depth" yaml:"max_depth"`
	// MaxFileSize is the size above which the file is decoded straight
	// from disk instead of being read into memory first.
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`
}

// DefaultJSONConfig returns the default JSON parser configuration.
func DefaultJSONConfig() JSONConfig {
	return JSONConfig{MaxDepth: 50, MaxFileSize: 100 << 20}
}

// JSONParser exposes tabular objects and arrays inside a JSON document as
// tables, and everything else as object, list and paragraph elements.
type JSONParser struct {
	cfg JSONConfig
}

// NewJSONParser creates a JSON parser. Zero fields take their defaults.
func NewJSONParser(cfg JSONConfig) *JSONParser {
	def := DefaultJSONConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	return &JSONParser{cfg: cfg}
}

func (p *JSONParser) SupportedFormats() []string { return []string{FormatJSON} }

// ElementTypes lists the element types JSONParser emits.
func (p *JSONParser) ElementTypes() []ElementType {
	return []ElementType{ElementTable, ElementObject, ElementList, ElementParagraph}
}

func (p *JSONParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return run(ctx, path, FormatJSON, func() (*ParseResult, error) {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}

		var (
			data     any
			strategy string
		)
		if info.Size() > p.cfg.MaxFileSize {
			data, err = decodeJSONFile(path)
			strategy = "streaming"
			if err != nil {
				slog.Warn("parse: streaming JSON decode failed, retrying in memory", "file", path, "error", err)
			}
		}
		if data == nil {
			data, strategy, err = p.decodeInMemory(path)
			if err != nil {
				return nil, err
			}
		}

		md := baseMetadata(path, FormatJSON)
		md["file_size"] = info.Size()
		md["parse_strategy"] = strategy
		md["structure"] = p.analyzeStructure(data, 0)
		if patterns := detectSchemaPatterns(data); patterns != nil {
			md["schema_patterns"] = patterns
		}

		w := &jsonWalker{ctx: ctx, maxDepth: p.cfg.MaxDepth}
		w.walk(data, "", 0)
		if w.err != nil {
			return nil, w.err
		}

		elements := w.out.elements()
		return &ParseResult{
			Metadata:           md,
			RawText:            encodeJSON(data, "  "),
			StructuredElements: elements,
			ConfidenceScore:    jsonConfidence(elements),
		}, nil
	})
}

// decodeInMemory reads and decodes the whole file, falling back to a
// trailing-comma repair and finally to an error payload.
func (p *JSONParser) decodeInMemory(path string) (any, string, error) {
	f, err := textenc.ReadFile(path, textenc.ReadOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("reading JSON file: %w", err)
	}
	text := textenc.Decode(f.Data).Text

	v, perr := decodeJSON(strings.NewReader(text))
	if perr == nil {
		return v, "memory", nil
	}

	repaired := repairJSON(text)
	if repaired != text {
		if v, err := decodeJSON(strings.NewReader(repaired)); err == nil {
			return v, "recovered", nil
		}
	}

	slog.Warn("parse: malformed JSON", "file", path, "error", perr)
	snippet := text
	if r := []rune(snippet); len(r) > 1000 {
		snippet = string(r[:1000])
	}
	payload := jsonObject{
		{Key: "parse_error", Value: perr.Error()},
		{Key: "raw_content", Value: snippet},
	}
	return payload, "error_payload", nil
}

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

func repairJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ",")
	return trailingComma.ReplaceAllString(s, "$1")
}

// ---------------------------------------------------------------------------
// Order-preserving decoding
// ---------------------------------------------------------------------------

// jsonMember is one key/value pair of a decoded object.
type jsonMember struct {
	Key   string
	Value any
}

// jsonObject is a decoded JSON object with keys in document order. Values
// are jsonObject, []any, string, json.Number, bool or nil.
type jsonObject []jsonMember

func (o jsonObject) get(key string) (any, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

func (o jsonObject) has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := o.get(k); ok {
			return true
		}
	}
	return false
}

func (o jsonObject) keys() []string {
	out := make([]string, len(o))
	for i, m := range o {
		out[i] = m.Key
	}
	return out
}

func decodeJSONFile(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeJSON(bufio.NewReaderSize(f, 1<<16))
}

// decodeJSON builds an ordered value from the decoder's token stream. The
// input must hold exactly one JSON value.
func decodeJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected end of JSON input")
	}
	if err != nil {
		return nil, err
	}
	v, err := buildJSON(dec, tok)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("invalid character after top-level value")
		}
		return nil, err
	}
	return v, nil
}

func buildJSON(dec *json.Decoder, tok json.Token) (any, error) {
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := jsonObject{}
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := kt.(string)
			vt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			v, err := buildJSON(dec, vt)
			if err != nil {
				return nil, err
			}
			obj = setMember(obj, key, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			v, err := buildJSON(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unexpected delimiter %q", delim)
}

// setMember keeps the first position of a duplicated key and the last value.
func setMember(o jsonObject, key string, v any) jsonObject {
	for i := range o {
		if o[i].Key == key {
			o[i].Value = v
			return o
		}
	}
	return append(o, jsonMember{Key: key, Value: v})
}

// ---------------------------------------------------------------------------
// Serialisation
// ---------------------------------------------------------------------------

// encodeJSON serialises v with keys in document order. An empty indent
// produces compact output.
func encodeJSON(v any, indent string) string {
	var b strings.Builder
	writeJSON(&b, v, indent, 0)
	return b.String()
}

func writeJSON(b *strings.Builder, v any, indent string, level int) {
	newline := func(l int) {
		if indent != "" {
			b.WriteByte('\n')
			b.WriteString(strings.Repeat(indent, l))
		}
	}
	switch x := v.(type) {
	case jsonObject:
		if len(x) == 0 {
			b.WriteString("{}")
			return
		}
		b.WriteByte('{')
		for i, m := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			newline(level + 1)
			b.WriteString(quoteJSON(m.Key))
			b.WriteByte(':')
			if indent != "" {
				b.WriteByte(' ')
			}
			writeJSON(b, m.Value, indent, level+1)
		}
		newline(level)
		b.WriteByte('}')
	case []any:
		if len(x) == 0 {
			b.WriteString("[]")
			return
		}
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			newline(level + 1)
			writeJSON(b, item, indent, level+1)
		}
		newline(level)
		b.WriteByte(']')
	case string:
		b.WriteString(quoteJSON(x))
	case json.Number:
		b.WriteString(x.String())
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case nil:
		b.WriteString("null")
	default:
		b.WriteString(quoteJSON(fmt.Sprint(x)))
	}
}

func quoteJSON(s string) string {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(sb.String(), "\n")
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case jsonObject:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	}
	return "unknown"
}

// formatJSONValue renders a value for a table cell.
func formatJSONValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case jsonObject, []any:
		s := encodeJSON(x, "")
		if r := []rune(s); len(r) > 100 {
			s = string(r[:100])
		}
		return s
	}
	return encodeJSON(v, "")
}

// ---------------------------------------------------------------------------
// Metadata
// ---------------------------------------------------------------------------

func (p *JSONParser) analyzeStructure(v any, depth int) map[string]any {
	if depth > p.cfg.MaxDepth {
		return map[string]any{"type": "max_depth_exceeded"}
	}
	switch x := v.(type) {
	case jsonObject:
		keys := x.keys()
		if len(keys) > 10 {
			keys = keys[:10]
		}
		nested := make(map[string]any)
		for _, m := range x[:min(5, len(x))] {
			nested[m.Key] = p.analyzeStructure(m.Value, depth+1)
		}
		return map[string]any{
			"type":              "object",
			"key_count":         len(x),
			"keys":              keys,
			"depth":             depth,
			"nested_structures": nested,
		}
	case []any:
		samples := make([]map[string]any, 0, 3)
		for _, item := range x[:min(3, len(x))] {
			samples = append(samples, p.analyzeStructure(item, depth+1))
		}
		return map[string]any{
			"type":            "array",
			"length":          len(x),
			"depth":           depth,
			"element_types":   jsonTypeHistogram(x),
			"sample_elements": samples,
		}
	}
	value := formatJSONValue(v)
	if r := []rune(value); len(r) > 100 {
		value = string(r[:100])
	}
	return map[string]any{"type": jsonTypeName(v), "value": value, "depth": depth}
}

func jsonTypeHistogram(arr []any) map[string]int {
	h := make(map[string]int)
	for _, item := range arr {
		h[jsonTypeName(item)]++
	}
	return h
}

// detectSchemaPatterns recognises common top-level document shapes.
func detectSchemaPatterns(v any) map[string]any {
	patterns := make(map[string]any)
	switch x := v.(type) {
	case jsonObject:
		if x.has("data", "results") {
			patterns["api_response"] = true
		}
		if x.has("status", "error") {
			patterns["status_response"] = true
		}
		if x.has("config", "settings", "options", "parameters") {
			patterns["configuration"] = true
		}
	case []any:
		if len(x) > 1 && allObjects(x) {
			first := x[0].(jsonObject)
			similar := true
			for _, item := range x[1:min(5, len(x))] {
				if float64(keyOverlap(first, item.(jsonObject))) < float64(len(first))*0.8 {
					similar = false
					break
				}
			}
			if similar {
				patterns["tabular_data"] = true
				patterns["table_columns"] = first.keys()
			}
		}
	}
	if len(patterns) == 0 {
		return nil
	}
	return patterns
}

func allObjects(arr []any) bool {
	for _, item := range arr {
		if _, ok := item.(jsonObject); !ok {
			return false
		}
	}
	return true
}

func keyOverlap(a, b jsonObject) int {
	n := 0
	for _, m := range a {
		if _, ok := b.get(m.Key); ok {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Element walk
// ---------------------------------------------------------------------------

type jsonWalker struct {
	ctx      context.Context
	maxDepth int
	out      elementList
	visited  int
	err      error
}

func (w *jsonWalker) walk(v any, path string, depth int) {
	if w.err != nil || depth > w.maxDepth {
		return
	}
	if w.visited++; w.visited%512 == 0 {
		if err := w.ctx.Err(); err != nil {
			w.err = err
			return
		}
	}
	switch x := v.(type) {
	case jsonObject:
		w.object(x, path, depth)
	case []any:
		w.array(x, path, depth)
	case string:
		if len([]rune(x)) > 10 {
			w.out.add(ElementParagraph, x, map[string]any{
				"json_path": path,
				"data_type": "string",
				"length":    len([]rune(x)),
			})
		}
	}
}

func (w *jsonWalker) object(obj jsonObject, path string, depth int) {
	if isTabularObject(obj) {
		rows := make([]Row, len(obj))
		for i, m := range obj {
			rows[i] = TextRow(m.Key, formatJSONValue(m.Value))
		}
		t := NewTable("key_value", []Row{TextRow("Key", "Value")}, rows)
		md := t.metadata()
		md["json_path"] = path
		md["object_type"] = "key_value_table"
		md["key_count"] = len(obj)
		w.out.add(ElementTable, t, md)
		return
	}

	nestedObjects, nestedArrays := 0, 0
	for _, m := range obj {
		switch m.Value.(type) {
		case jsonObject:
			nestedObjects++
		case []any:
			nestedArrays++
		}
	}
	w.out.add(ElementObject, &ObjectSummary{Keys: obj.keys(), Summary: objectSummary(obj)}, map[string]any{
		"json_path":      path,
		"key_count":      len(obj),
		"nested_objects": nestedObjects,
		"nested_arrays":  nestedArrays,
	})

	for _, m := range obj {
		child := m.Key
		if path != "" {
			child = path + "." + m.Key
		}
		w.walk(m.Value, child, depth+1)
	}
}

func (w *jsonWalker) array(arr []any, path string, depth int) {
	if isTabularArray(arr) {
		t := arrayTable(arr)
		md := t.metadata()
		md["json_path"] = path
		md["array_length"] = len(arr)
		md["table_type"] = "object_array"
		w.out.add(ElementTable, t, md)
		return
	}

	types := jsonTypeHistogram(arr)
	w.out.add(ElementList, &List{
		ListType:     "json_array",
		Items:        arraySummary(arr),
		ElementTypes: types,
	}, map[string]any{
		"json_path":    path,
		"array_length": len(arr),
		"homogeneous":  len(types) == 1,
	})

	for i, item := range arr[:min(10, len(arr))] {
		w.walk(item, fmt.Sprintf("%s[%d]", path, i), depth+1)
	}
}

// isTabularObject reports whether obj reads as a flat key/value record.
func isTabularObject(obj jsonObject) bool {
	if len(obj) < 2 || len(obj) > 20 {
		return false
	}
	for _, m := range obj {
		switch x := m.Value.(type) {
		case jsonObject:
			return false
		case []any:
			if len(x) >= 5 {
				return false
			}
			for _, item := range x {
				switch item.(type) {
				case jsonObject, []any:
					return false
				}
			}
		}
	}
	return true
}

// isTabularArray reports whether arr is a list of similarly keyed objects.
func isTabularArray(arr []any) bool {
	if len(arr) < 2 || !allObjects(arr) {
		return false
	}
	first := arr[0].(jsonObject)
	if len(first) == 0 {
		return false
	}
	similar := 0
	for _, item := range arr[1:min(6, len(arr))] {
		if float64(keyOverlap(first, item.(jsonObject))) >= float64(len(first))*0.7 {
			similar++
		}
	}
	return similar >= min(3, len(arr)-1)
}

func arrayTable(arr []any) *Table {
	seen := make(map[string]bool)
	var headers []string
	for _, item := range arr {
		for _, k := range item.(jsonObject).keys() {
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
		}
	}
	sort.Strings(headers)

	rows := make([]Row, len(arr))
	for i, item := range arr {
		obj := item.(jsonObject)
		row := make(Row, len(headers))
		for j, h := range headers {
			v, _ := obj.get(h)
			row[j] = NewCell(formatJSONValue(v))
		}
		rows[i] = row
	}
	return NewTable("object_array", []Row{TextRow(headers...)}, rows)
}

func objectSummary(obj jsonObject) string {
	parts := make([]string, 0, 5)
	for _, m := range obj[:min(5, len(obj))] {
		switch x := m.Value.(type) {
		case string:
			if len([]rune(x)) < 50 {
				parts = append(parts, m.Key+": "+x)
			} else {
				parts = append(parts, m.Key+": string")
			}
		case json.Number, bool:
			parts = append(parts, m.Key+": "+formatJSONValue(x))
		case jsonObject:
			parts = append(parts, fmt.Sprintf("%s: {%d keys}", m.Key, len(x)))
		case []any:
			parts = append(parts, fmt.Sprintf("%s: [%d items]", m.Key, len(x)))
		default:
			parts = append(parts, m.Key+": "+jsonTypeName(x))
		}
	}
	return strings.Join(parts, "; ")
}

func arraySummary(arr []any) []ListItem {
	items := make([]ListItem, 0, 5)
	for i, item := range arr[:min(5, len(arr))] {
		var text string
		switch x := item.(type) {
		case string:
			if len([]rune(x)) < 100 {
				text = x
			} else {
				text = "string"
			}
		case json.Number, bool:
			text = formatJSONValue(x)
		case jsonObject:
			text = fmt.Sprintf("Object with %d keys", len(x))
		case []any:
			text = fmt.Sprintf("Array with %d items", len(x))
		default:
			text = jsonTypeName(x)
		}
		idx := i
		items = append(items, ListItem{Text: text, Index: &idx})
	}
	return items
}

// jsonConfidence starts high because valid JSON is already structured.
func jsonConfidence(elements []StructuredElement) float64 {
	if len(elements) == 0 {
		return 0.1
	}
	types := make(map[ElementType]bool)
	tables, maxDepth := 0, 0
	for _, e := range elements {
		types[e.Type] = true
		if e.Type == ElementTable {
			tables++
		}
		if p, ok := e.Metadata["json_path"].(string); ok {
			maxDepth = max(maxDepth, strings.Count(p, "."))
		}
	}
	score := 0.7 + 0.05*float64(len(types))
	score += min(float64(tables)*0.1, 0.2)
	score += min(float64(maxDepth)*0.02, 0.1)
	return clamp01(score)
}
