// Command metastitch parses documents into structured elements and prints
// the results as JSON.
//
// Usage:
//
//	metastitch [flags] file...
//	metastitch -tail [-dialect name] app.log
//
// With one file the ParseResult is printed; with several, a JSON array of
// {path, result, error} objects. -tail follows a growing log and prints one
// reassembled entry per line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nxadm/tail"

	"github.com/ShriniwasAhirrao/MetaStitch"
	"github.com/ShriniwasAhirrao/MetaStitch/analysis"
	"github.com/ShriniwasAhirrao/MetaStitch/parser"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// batchItem is the JSON shape of one ParseAll result.
type batchItem struct {
	Path   string              `json:"path"`
	Result *parser.ParseResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("metastitch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", "", "Path to config file (YAML or JSON)")
		format      = fs.String("format", "", "Force a format instead of detecting it from the extension")
		concurrency = fs.Int("concurrency", 0, "Parallel files in batch mode (default from config)")
		analyze     = fs.Bool("analyze", false, "Run the structure and entity analyzers")
		pretty      = fs.Bool("pretty", false, "Indent JSON output")
		follow      = fs.Bool("tail", false, "Follow a log file and print entries as they complete")
		dialect     = fs.String("dialect", "", "Log dialect for -tail (default: detect from the file head)")
		logLevel    = fs.String("log-level", "", "Log level: debug, info, warn, error")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := metastitch.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = metastitch.LoadConfig(*configPath); err != nil {
			fmt.Fprintf(stderr, "loading config: %v\n", err)
			return 1
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fmt.Fprintf(stderr, "environment: %v\n", err)
		return 1
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
	}
	slog.SetDefault(cfg.Logging.NewLogger(stderr))

	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	if *follow {
		if err := tailLog(ctx, fs.Arg(0), cfg, *dialect, stdout); err != nil {
			fmt.Fprintf(stderr, "tail: %v\n", err)
			return 1
		}
		return 0
	}

	var opts []metastitch.Option
	if *analyze {
		opts = append(opts, metastitch.WithAnalyzers(analysis.Structure{}, analysis.NewEntityAnalyzer(nil)))
	}
	engine, err := metastitch.New(cfg, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "creating engine: %v\n", err)
		return 1
	}
	var popts []metastitch.ParseOption
	if *format != "" {
		popts = append(popts, metastitch.WithFormat(*format))
	}

	enc := json.NewEncoder(stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}

	if fs.NArg() == 1 {
		res, err := engine.Parse(ctx, fs.Arg(0), popts...)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", fs.Arg(0), err)
			return 1
		}
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(stderr, "encoding result: %v\n", err)
			return 1
		}
		return 0
	}

	code := 0
	results := engine.ParseAll(ctx, fs.Args(), popts...)
	items := make([]batchItem, len(results))
	for i, r := range results {
		items[i] = batchItem{Path: r.Path, Result: r.Result}
		if r.Err != nil {
			items[i].Error = r.Err.Error()
			code = 1
		}
	}
	if err := enc.Encode(items); err != nil {
		fmt.Fprintf(stderr, "encoding results: %v\n", err)
		return 1
	}
	return code
}

// tailLog follows path until ctx is cancelled.
func tailLog(ctx context.Context, path string, cfg metastitch.Config, dialect string, w io.Writer) error {
	lp := parser.NewLogParser(cfg.ParserConfig().Log)
	if dialect == "" {
		dialect = headDialect(path, cfg.Log.SampleLines)
	}
	slog.Info("tail: following", "file", path, "dialect", dialect)

	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer t.Cleanup()
	go func() {
		<-ctx.Done()
		t.Stop()
	}()

	return followLines(ctx, t.Lines, lp.NewStream(dialect), w)
}

// followLines feeds tailed lines through the assembler and writes each
// completed entry as one JSON line. The pending entry is flushed when the
// channel closes or ctx ends.
func followLines(ctx context.Context, lines <-chan *tail.Line, s *parser.LogStream, w io.Writer) error {
	enc := json.NewEncoder(w)
	flush := func() error {
		if e, ok := s.Flush(); ok {
			return enc.Encode(e)
		}
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return flush()
		case l, ok := <-lines:
			if !ok {
				return flush()
			}
			if l.Err != nil {
				slog.Warn("tail: read error", "error", l.Err)
				continue
			}
			if e, done := s.Feed(l.Text); done {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
		}
	}
}

// headDialect detects the dialect from the first n lines of path. A
// missing file yields the generic dialect.
func headDialect(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("tail: reading head", "file", path, "error", err)
		}
		return parser.DialectGeneric
	}
	defer f.Close()

	if n <= 0 {
		n = parser.DefaultLogConfig().SampleLines
	}
	var lines []string
	sc := bufio.NewScanner(f)
	for len(lines) < n && sc.Scan() {
		lines = append(lines, sc.Text())
	}
	name, _ := parser.DetectDialect(lines)
	return name
}
