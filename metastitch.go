// Package metastitch converts HTML, JSON, plain-text, log, Markdown, PDF and
// XLSX files into one ordered sequence of typed structural elements.
package metastitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShriniwasAhirrao/MetaStitch/analysis"
	"github.com/ShriniwasAhirrao/MetaStitch/metrics"
	"github.com/ShriniwasAhirrao/MetaStitch/parser"
)

// Engine is the main entry point: it picks a parser by format, enforces
// the per-file budget and runs the analyzers over the result.
type Engine struct {
	cfg       Config
	parsers   *parser.Registry
	analyzers []analysis.Analyzer
	metrics   *metrics.Collector
}

// Option configures an Engine.
type Option func(*Engine)

// WithAnalyzers replaces the default analyzer set.
func WithAnalyzers(a ...analysis.Analyzer) Option {
	return func(e *Engine) { e.analyzers = a }
}

// WithMetrics records every parse on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithParser registers p under format, replacing any built-in parser.
func WithParser(format string, p parser.Parser) Option {
	return func(e *Engine) { e.parsers.Register(format, p) }
}

// ParseOption configures a single Parse call.
type ParseOption func(*parseOptions)

type parseOptions struct {
	format string
}

// WithFormat bypasses extension-based format detection.
func WithFormat(format string) ParseOption {
	return func(o *parseOptions) { o.format = format }
}

// New creates an engine. Zero-valued limits take their defaults.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.ParseTimeoutSeconds == 0 {
		cfg.ParseTimeoutSeconds = 60
	}

	e := &Engine{
		cfg:       cfg,
		parsers:   parser.NewRegistry(cfg.ParserConfig()),
		analyzers: []analysis.Analyzer{analysis.Noop{}},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Formats lists every format the engine can parse.
func (e *Engine) Formats() []string { return e.parsers.Formats() }

// Parse parses one file. Input errors (empty path, missing file, unknown
// format) are returned; everything else comes back as a result, degraded
// when parsing failed or ran past the configured budget.
func (e *Engine) Parse(ctx context.Context, path string, opts ...ParseOption) (*parser.ParseResult, error) {
	options := &parseOptions{}
	for _, o := range opts {
		o(options)
	}

	if path == "" {
		return nil, ErrEmptyPath
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	format := options.format
	if format == "" {
		f, ok := parser.DetectFormat(path)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
		}
		format = f
	}
	p, err := e.parsers.Get(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	timeout := e.cfg.ParseTimeout()
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := p.Parse(pctx, path)
	if err != nil {
		return nil, err
	}
	if res.Failed() && errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res = parser.Degraded(path, format, fmt.Errorf("%w after %s", ErrParseTimeout, timeout))
	}
	elapsed := time.Since(start)

	if !res.Failed() {
		e.analyze(ctx, path, res)
	}
	if e.metrics != nil {
		e.metrics.Observe(format, res, elapsed)
	}

	slog.Info("parse: finished",
		"file", filepath.Base(path), "format", format,
		"elements", len(res.StructuredElements), "confidence", res.ConfidenceScore,
		"degraded", res.Failed(), "elapsed", elapsed.Round(time.Millisecond))
	return res, nil
}

// analyze stores each analyzer's non-nil output under metadata.analysis.
// Analyzer failures are logged and skipped.
func (e *Engine) analyze(ctx context.Context, path string, res *parser.ParseResult) {
	out := make(map[string]any)
	for _, a := range e.analyzers {
		v, err := a.Analyze(ctx, res)
		if err != nil {
			slog.Warn("parse: analyzer failed", "file", filepath.Base(path), "analyzer", a.Name(), "error", err)
			continue
		}
		if v != nil {
			out[a.Name()] = v
		}
	}
	if len(out) > 0 {
		res.Metadata["analysis"] = out
	}
}

// BatchResult is the outcome of one file in ParseAll.
type BatchResult struct {
	Path   string              `json:"path"`
	Result *parser.ParseResult `json:"result,omitempty"`
	Err    error               `json:"-"`
}

// ParseAll parses paths with bounded concurrency. Results keep the input
// order; a failure on one file never stops the others.
func (e *Engine) ParseAll(ctx context.Context, paths []string, opts ...ParseOption) []BatchResult {
	results := make([]BatchResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, path := range paths {
		g.Go(func() error {
			res, err := e.Parse(gctx, path, opts...)
			results[i] = BatchResult{Path: path, Result: res, Err: err}
			return nil
		})
	}
	g.Wait()

	slog.Info("parse: batch complete", "files", len(paths), "concurrency", e.cfg.Concurrency)
	return results
}
