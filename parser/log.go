package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ShriniwasAhirrao/MetaStitch/heuristics"
	"github.com/ShriniwasAhirrao/MetaStitch/textenc"
	"github.com/ShriniwasAhirrao/MetaStitch/timestamp"
)

// LogConfig configures the log parser.
type LogConfig struct {
	MaxFileSize          int64 `json:"max_file_size" yaml:"max_file_size"`
	MaxContinuationLines int   `json:"max_continuation_lines" yaml:"max_continuation_lines"`
	SampleLines          int   `json:"sample_lines" yaml:"sample_lines"`
	// ReferenceYear is given to stamps without a year, such as RFC 3164.
	ReferenceYear int `json:"reference_year" yaml:"reference_year"`
}

// DefaultLogConfig returns the default log parser configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		MaxFileSize:          500 << 20,
		MaxContinuationLines: 500,
		SampleLines:          100,
	}
}

const (
	maxErrorSamples = 50
	maxTopIPs       = 10
	timeRangeLines  = 50
)

// LogParser detects the log dialect, reassembles multi-line records and
// summarises levels, errors and client addresses.
type LogParser struct {
	cfg LogConfig
}

// NewLogParser creates a log parser. Zero fields take their defaults.
func NewLogParser(cfg LogConfig) *LogParser {
	def := DefaultLogConfig()
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.MaxContinuationLines <= 0 {
		cfg.MaxContinuationLines = def.MaxContinuationLines
	}
	if cfg.SampleLines <= 0 {
		cfg.SampleLines = def.SampleLines
	}
	return &LogParser{cfg: cfg}
}

func (p *LogParser) SupportedFormats() []string {
	return []string{FormatLog, "out", "jsonl", "ndjson"}
}

// ElementTypes lists the element types LogParser emits.
func (p *LogParser) ElementTypes() []ElementType {
	return []ElementType{ElementLogSummary, ElementLogEntries, ElementErrorAnalysis, ElementIPAnalysis}
}

func (p *LogParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return run(ctx, path, FormatLog, func() (*ParseResult, error) {
		f, err := textenc.ReadFile(path, textenc.ReadOptions{MaxSize: p.cfg.MaxFileSize, Decompress: true})
		if err != nil {
			return nil, fmt.Errorf("reading log file: %w", err)
		}
		dec := textenc.Decode(f.Data)
		content := strings.ReplaceAll(dec.Text, "\r\n", "\n")
		lines := strings.Split(content, "\n")

		dialect, dialectConf := DetectDialect(p.sample(lines))

		md := baseMetadata(path, FormatLog)
		md["file_size"] = f.Size
		md["encoding"] = dec.Encoding
		if f.Compression != textenc.CompressionNone {
			md["compression"] = f.Compression
		}
		md["statistics"] = logStatistics(content, lines)
		if patterns := p.logPatterns(lines); len(patterns) > 0 {
			md["detected_patterns"] = patterns
		}
		if tr := p.sampleTimeRange(lines); tr != nil {
			md["time_range"] = map[string]any{
				"start_time":       tr.Start.Format(time.RFC3339Nano),
				"end_time":         tr.End.Format(time.RFC3339Nano),
				"duration_seconds": tr.DurationSeconds,
			}
		}
		md["detected_format"] = map[string]any{"format": dialect, "confidence": dialectConf}

		entries, err := p.assemble(ctx, dialect, lines)
		if err != nil {
			return nil, err
		}
		md["entries_parsed"] = len(entries)

		entriesConf := dialectConf
		if dialect == DialectGeneric {
			entriesConf = 0.5
		}
		elements := logElements(entries, entriesConf)

		return &ParseResult{
			Metadata:           md,
			RawText:            content,
			StructuredElements: elements,
			ConfidenceScore:    logConfidence(entries),
		}, nil
	})
}

// sample returns the first SampleLines non-blank lines.
func (p *LogParser) sample(lines []string) []string {
	out := make([]string, 0, p.cfg.SampleLines)
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
		if len(out) == p.cfg.SampleLines {
			break
		}
	}
	return out
}

// assemble feeds every line through a stream for dialect.
func (p *LogParser) assemble(ctx context.Context, dialect string, lines []string) ([]LogEntry, error) {
	stream := p.NewStream(dialect)
	var entries []LogEntry
	for i, line := range lines {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if e, ok := stream.Feed(line); ok {
			entries = append(entries, e)
		}
	}
	if e, ok := stream.Flush(); ok {
		entries = append(entries, e)
	}
	return entries, nil
}

func logStatistics(content string, lines []string) map[string]any {
	nonEmpty, total := 0, 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty++
		}
		total += utf8.RuneCountInString(l)
	}
	avg := 0.0
	if len(lines) > 0 {
		avg = float64(total) / float64(len(lines))
	}
	return map[string]any{
		"line_count":          len(lines),
		"entry_count":         nonEmpty,
		"character_count":     utf8.RuneCountInString(content),
		"average_line_length": avg,
	}
}

// logPatterns counts dialect matches, level keywords and distinct
// addresses across the whole file.
func (p *LogParser) logPatterns(lines []string) map[string]any {
	out := make(map[string]any)
	dialectHits := make(map[string]int)
	levels := make(map[string]int)
	ips := make(map[string]bool)
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		for _, d := range logDialects {
			if d.pattern.MatchString(l) {
				dialectHits[d.name]++
			}
		}
		if _, ok := decodeJSONLine(l); ok {
			dialectHits[DialectJSONLines]++
		}
		if lvl, ok := heuristics.FindLevel(l); ok {
			levels[lvl]++
		}
		if ip, ok := heuristics.FindIPv4(l); ok {
			ips[ip] = true
		}
	}
	for name, n := range dialectHits {
		out[name] = n
	}
	if len(levels) > 0 {
		out["log_levels"] = levels
	}
	if len(ips) > 0 {
		out["ip_addresses"] = len(ips)
	}
	return out
}

// sampleTimeRange spans the stamps found in the first lines of the file.
func (p *LogParser) sampleTimeRange(lines []string) *TimeRange {
	norm := timestamp.Normalizer{ReferenceYear: p.cfg.ReferenceYear}
	var stamps []time.Time
	for i, l := range lines {
		if i == timeRangeLines {
			break
		}
		if t, _, ok := norm.Find(l); ok {
			stamps = append(stamps, t)
		}
	}
	return newTimeRange(stamps)
}

// ---------------------------------------------------------------------------
// Element contents
// ---------------------------------------------------------------------------

// TimeRange spans the earliest and latest timestamps.
type TimeRange struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds float64   `json:"duration_seconds"`
}

func newTimeRange(stamps []time.Time) *TimeRange {
	if len(stamps) == 0 {
		return nil
	}
	lo, hi := stamps[0], stamps[0]
	for _, t := range stamps[1:] {
		if t.Before(lo) {
			lo = t
		}
		if t.After(hi) {
			hi = t
		}
	}
	return &TimeRange{Start: lo, End: hi, DurationSeconds: hi.Sub(lo).Seconds()}
}

// LogSummary is the content of a log_summary element.
type LogSummary struct {
	TotalEntries int            `json:"total_entries"`
	EntryTypes   map[string]int `json:"entry_types"`
	TimeRange    *TimeRange     `json:"time_range"`
	LogLevels    map[string]int `json:"log_levels"`
}

// PlainText renders the entry count, time range and level counts on one line.
func (s *LogSummary) PlainText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d log entries", s.TotalEntries)
	if s.TimeRange != nil {
		fmt.Fprintf(&b, " from %s to %s", s.TimeRange.Start.Format(time.RFC3339), s.TimeRange.End.Format(time.RFC3339))
	}
	if len(s.LogLevels) > 0 {
		b.WriteString("; levels:")
		for _, lvl := range sortedKeys(s.LogLevels) {
			fmt.Fprintf(&b, " %s=%d", lvl, s.LogLevels[lvl])
		}
	}
	return b.String()
}

// LogEntries is the content of a log_entries element.
type LogEntries struct {
	Entries []LogEntry `json:"entries"`
	Format  string     `json:"format"`
}

// PlainText joins the entry messages.
func (l *LogEntries) PlainText() string { return joinMessages(l.Entries) }

// ErrorPatterns aggregates error entries.
type ErrorPatterns struct {
	CommonErrors map[string]int `json:"common_errors"`
	StackTraces  int            `json:"stack_traces"`
}

// ErrorAnalysis is the content of an error_analysis element.
type ErrorAnalysis struct {
	ErrorCount    int           `json:"error_count"`
	ErrorEntries  []LogEntry    `json:"error_entries"`
	ErrorPatterns ErrorPatterns `json:"error_patterns"`
}

// PlainText joins the messages of the error entries.
func (a *ErrorAnalysis) PlainText() string { return joinMessages(a.ErrorEntries) }

// IPCount is one row of IPAnalysis.TopIPs.
type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// IPAnalysis is the content of an ip_analysis element.
type IPAnalysis struct {
	UniqueIPs     int       `json:"unique_ips"`
	TotalRequests int       `json:"total_requests"`
	PrivateIPs    int       `json:"private_ips"`
	PublicIPs     int       `json:"public_ips"`
	TopIPs        []IPCount `json:"top_ips"`
}

// PlainText lists the top addresses with their counts.
func (a *IPAnalysis) PlainText() string {
	lines := make([]string, len(a.TopIPs))
	for i, c := range a.TopIPs {
		lines[i] = fmt.Sprintf("%s %d", c.IP, c.Count)
	}
	return strings.Join(lines, "\n")
}

func joinMessages(entries []LogEntry) string {
	msgs := make([]string, len(entries))
	for i, e := range entries {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "\n")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Derived elements
// ---------------------------------------------------------------------------

// logElements builds the summary, entries, error and address elements at
// positions 0 through 3. The last two are omitted when empty.
func logElements(entries []LogEntry, entriesConf float64) []StructuredElement {
	var out elementList
	if len(entries) == 0 {
		return out.elements()
	}

	summary := &LogSummary{
		TotalEntries: len(entries),
		EntryTypes:   make(map[string]int),
		LogLevels:    make(map[string]int),
	}
	var stamps []time.Time
	withStamp, withLevel, multiline := 0, 0, 0
	for _, e := range entries {
		summary.EntryTypes[e.Type]++
		if e.Level != "" {
			summary.LogLevels[e.Level]++
			withLevel++
		}
		if e.Timestamp != nil {
			stamps = append(stamps, *e.Timestamp)
			withStamp++
		}
		if e.IsMultiline {
			multiline++
		}
	}
	summary.TimeRange = newTimeRange(stamps)
	out.addAt(0, ElementLogSummary, summary, map[string]any{"analysis_type": "summary"})

	el := out.addAt(1, ElementLogEntries, &LogEntries{Entries: entries, Format: "structured_log_data"}, map[string]any{
		"entry_count":       len(entries),
		"has_timestamps":    withStamp > 0,
		"has_log_levels":    withLevel > 0,
		"multiline_entries": multiline,
	})
	el.Confidence = clamp01(entriesConf)

	if errs := errorAnalysis(entries); errs != nil {
		out.addAt(2, ElementErrorAnalysis, errs, map[string]any{
			"analysis_type":    "error_analysis",
			"error_percentage": float64(errs.ErrorCount) / float64(len(entries)) * 100,
		})
	}
	if ips, n := ipAnalysis(entries); ips != nil {
		out.addAt(3, ElementIPAnalysis, ips, map[string]any{
			"analysis_type":   "ip_analysis",
			"entries_with_ip": n,
		})
	}
	return out.elements()
}

func errorAnalysis(entries []LogEntry) *ErrorAnalysis {
	a := &ErrorAnalysis{ErrorPatterns: ErrorPatterns{CommonErrors: make(map[string]int)}}
	for _, e := range entries {
		if !e.IsError() {
			continue
		}
		a.ErrorCount++
		if len(a.ErrorEntries) < maxErrorSamples {
			a.ErrorEntries = append(a.ErrorEntries, e)
		}
		if heuristics.IsStackTrace(e.Message) {
			a.ErrorPatterns.StackTraces++
		}
		for _, tok := range heuristics.ErrorTokens(e.Message) {
			a.ErrorPatterns.CommonErrors[tok]++
		}
	}
	if a.ErrorCount == 0 {
		return nil
	}
	return a
}

// ipAnalysis counts addresses, most frequent first with ties broken by
// address. It also returns the number of entries that carried one.
func ipAnalysis(entries []LogEntry) (*IPAnalysis, int) {
	counts := make(map[string]int)
	a := &IPAnalysis{}
	for _, e := range entries {
		if e.IP == "" {
			continue
		}
		counts[e.IP]++
		a.TotalRequests++
		if heuristics.IsPrivateIP(e.IP) {
			a.PrivateIPs++
		} else {
			a.PublicIPs++
		}
	}
	if a.TotalRequests == 0 {
		return nil, 0
	}
	a.UniqueIPs = len(counts)
	for ip, n := range counts {
		a.TopIPs = append(a.TopIPs, IPCount{IP: ip, Count: n})
	}
	sort.Slice(a.TopIPs, func(i, j int) bool {
		if a.TopIPs[i].Count != a.TopIPs[j].Count {
			return a.TopIPs[i].Count > a.TopIPs[j].Count
		}
		return a.TopIPs[i].IP < a.TopIPs[j].IP
	})
	if len(a.TopIPs) > maxTopIPs {
		a.TopIPs = a.TopIPs[:maxTopIPs]
	}
	return a, a.TotalRequests
}

// logConfidence weighs dialect coverage, timestamp extraction and field
// richness at 0.4, 0.3 and 0.3.
func logConfidence(entries []LogEntry) float64 {
	if len(entries) == 0 {
		return 0
	}
	var specific, stamped, structured int
	for i := range entries {
		e := &entries[i]
		if e.specific() {
			specific++
		}
		if e.Timestamp != nil {
			stamped++
		}
		if e.Structured() {
			structured++
		}
	}
	n := float64(len(entries))
	return 0.4*float64(specific)/n + 0.3*float64(stamped)/n + 0.3*float64(structured)/n
}
