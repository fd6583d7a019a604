package parser

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ShriniwasAhirrao/MetaStitch/textenc"
)

// Config carries the constructor-time knobs of every built-in parser.
type Config struct {
	JSON JSONConfig
	Text TextConfig
	Log  LogConfig
}

type Registry struct {
	parsers map[string]Parser
}

// NewRegistry registers the built-in parsers under each of their formats.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{parsers: make(map[string]Parser)}

	text := NewTextParser(cfg.Text)
	builtins := []Parser{
		&HTMLParser{},
		NewJSONParser(cfg.JSON),
		text,
		NewLogParser(cfg.Log),
		&MarkdownParser{},
		&PDFParser{text: text},
		&XLSXParser{},
		&DOCXParser{},
		&PPTXParser{},
	}
	for _, p := range builtins {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoParser, format)
	}
	return p, nil
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(format)] = p
}

// Formats lists the registered formats in sorted order.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// extensionFormats maps file extensions to registry formats.
var extensionFormats = map[string]string{
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".xhtml":    FormatHTML,
	".json":     FormatJSON,
	".txt":      FormatText,
	".text":     FormatText,
	".log":      FormatLog,
	".out":      FormatLog,
	".jsonl":    FormatLog,
	".ndjson":   FormatLog,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".pdf":      FormatPDF,
	".xlsx":     FormatXLSX,
	".xlsm":     FormatXLSX,
	".docx":     FormatDOCX,
	".pptx":     FormatPPTX,
}

// DetectFormat maps path to a format by extension. Compressed files are
// always routed to the log parser, the only one that unwraps them.
func DetectFormat(path string) (string, bool) {
	if textenc.IsCompressed(path) {
		return FormatLog, true
	}
	f, ok := extensionFormats[strings.ToLower(filepath.Ext(path))]
	return f, ok
}
