package parser

import (
	"bytes"
	"compress/gzip"
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

func parseLogFixture(t *testing.T, cfg LogConfig, name, body string) *ParseResult {
	t.Helper()
	path := writeFixture(t, name, body)
	res, err := NewLogParser(cfg).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Failed() {
		t.Fatalf("degraded: %s", res.Error())
	}
	checkInvariants(t, res)
	return res
}

func logEntriesOf(t *testing.T, res *ParseResult) []LogEntry {
	t.Helper()
	els := res.Elements(ElementLogEntries)
	if len(els) != 1 {
		t.Fatalf("log_entries elements = %d, want 1", len(els))
	}
	return els[0].Content.(*LogEntries).Entries
}

func positions(res *ParseResult) []int {
	var out []int
	for _, e := range res.StructuredElements {
		out = append(out, e.Position)
	}
	return out
}

// ---------------------------------------------------------------------------
// Dialect detection
// ---------------------------------------------------------------------------

func TestDetectDialect(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		want     string
		wantConf float64
	}{
		{"apache_common", []string{
			`127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326`,
		}, DialectApacheCommon, 1},
		{"apache_combined_dash_size", []string{
			`10.0.0.1 - - [10/Oct/2000:13:55:36 -0700] "GET / HTTP/1.0" 304 - "-" "curl/8.0"`,
		}, DialectApacheCombined, 1},
		{"nginx_wins_tie", []string{
			`10.0.0.1 - - [10/Oct/2000:13:55:36 -0700] "GET / HTTP/1.0" 200 512 "-" "curl/8.0"`,
		}, DialectNginxAccess, 1},
		{"syslog_rfc3164", []string{
			`Jan 15 10:30:45 myhost sshd[1234]: Accepted password for root`,
			`Jan 15 10:30:46 myhost cron: job done`,
		}, DialectSyslogRFC3164, 1},
		{"syslog_rfc5424", []string{
			`<34>1 2024-01-15T10:30:45Z myhost app 1234 ID47 - Something happened`,
		}, DialectSyslogRFC5424, 1},
		{"iso", []string{
			`2024-01-01 12:00:00,123 WARN disk almost full`,
			`2024-01-01T12:00:01Z starting worker`,
		}, DialectISOTimestamp, 1},
		{"generic_timestamp", []string{
			`01/15/2024 10:30:45 ERROR failed to connect`,
		}, DialectGenericTimestamp, 1},
		{"json_lines", []string{
			`{"level":"info","msg":"a"}`,
			`{"level":"warn","msg":"b"}`,
		}, DialectJSONLines, 1},
		{"partial", []string{
			`2024-01-01T00:00:00Z INFO a`,
			`2024-01-01T00:00:01Z INFO b`,
			`plain`,
			``,
		}, DialectISOTimestamp, 2.0 / 3.0},
		{"nothing", []string{"just some text", "more text"}, DialectGeneric, 0},
		{"empty", nil, DialectGeneric, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf := DetectDialect(tt.lines)
			if got != tt.want {
				t.Errorf("DetectDialect = %q, want %q", got, tt.want)
			}
			if diff := conf - tt.wantConf; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %f, want %f", conf, tt.wantConf)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Multi-line reassembly
// ---------------------------------------------------------------------------

func TestLogParserMultiline(t *testing.T) {
	res := parseLogFixture(t, LogConfig{}, "app.log", "2024-01-01T00:00:00Z ERROR boom\n  at module.func")

	entries := logEntriesOf(t, res)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if !e.IsMultiline {
		t.Error("is_multiline = false, want true")
	}
	if e.Message != "boom\n  at module.func" {
		t.Errorf("message = %q", e.Message)
	}
	if e.Level != "ERROR" || e.Type != DialectISOTimestamp || e.LineNumber != 1 {
		t.Errorf("entry = %+v", e)
	}
	if e.Timestamp == nil || !e.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", e.Timestamp)
	}

	errs := res.Elements(ElementErrorAnalysis)
	if len(errs) != 1 {
		t.Fatalf("error_analysis elements = %d, want 1", len(errs))
	}
	a := errs[0].Content.(*ErrorAnalysis)
	if a.ErrorCount != 1 || a.ErrorPatterns.StackTraces != 1 {
		t.Errorf("error analysis = %+v", a)
	}
	if errs[0].Metadata["error_percentage"] != 100.0 {
		t.Errorf("error_percentage = %v", errs[0].Metadata["error_percentage"])
	}
	if md := res.Elements(ElementLogEntries)[0].Metadata; md["multiline_entries"] != 1 {
		t.Errorf("entries metadata = %v", md)
	}
	if want := []int{0, 1, 2}; !reflect.DeepEqual(positions(res), want) {
		t.Errorf("positions = %v, want %v", positions(res), want)
	}
}

func TestLogParserOrphanedLine(t *testing.T) {
	res := parseLogFixture(t, LogConfig{}, "app.log", "  leading indent\n2024-01-01T00:00:00Z INFO ok\n")

	entries := logEntriesOf(t, res)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Type != entryOrphaned || entries[0].Message != "  leading indent" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Type != DialectISOTimestamp || entries[1].LineNumber != 2 {
		t.Errorf("second entry = %+v", entries[1])
	}
	// 0.4*1/2 + 0.3*1/2 + 0.3*1/2
	if got := res.ConfidenceScore; got < 0.499 || got > 0.501 {
		t.Errorf("confidence = %f, want 0.5", got)
	}
}

func TestLogParserContinuationCap(t *testing.T) {
	body := "2024-01-01T00:00:00Z ERROR boom\n  a\n  b\n  c\n"
	res := parseLogFixture(t, LogConfig{MaxContinuationLines: 2}, "app.log", body)

	entries := logEntriesOf(t, res)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Message != "boom\n  a\n  b" {
		t.Errorf("first message = %q", entries[0].Message)
	}
	if entries[1].Type != entryOrphaned || entries[1].LineNumber != 4 || entries[1].Message != "  c" {
		t.Errorf("overflow entry = %+v", entries[1])
	}
}

func TestLogStreamOverflowRunsAreOrphaned(t *testing.T) {
	s := NewLogParser(LogConfig{MaxContinuationLines: 1}).NewStream(DialectISOTimestamp)

	var got []LogEntry
	for _, line := range []string{"2024-01-01T00:00:00Z ERROR boom", "  at frame", "  at frame", "  at frame"} {
		if e, ok := s.Feed(line); ok {
			got = append(got, e)
		}
	}
	if e, ok := s.Flush(); ok {
		got = append(got, e)
	}

	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].Message != "boom\n  at frame" {
		t.Errorf("first message = %q", got[0].Message)
	}
	// The orphan starts a fresh continuation budget.
	if got[1].Type != entryOrphaned || got[1].LineNumber != 3 || got[1].Message != "  at frame\n  at frame" {
		t.Errorf("overflow entry = %+v", got[1])
	}
}

func TestLogParserGenericDialect(t *testing.T) {
	res := parseLogFixture(t, LogConfig{}, "app.log", "hello world\nsecond line here\n  indented tail\n")

	if f := res.Metadata["detected_format"].(map[string]any); f["format"] != DialectGeneric || f["confidence"] != 0.0 {
		t.Errorf("detected_format = %v", f)
	}
	entries := logEntriesOf(t, res)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].IsMultiline || !entries[1].IsMultiline {
		t.Errorf("multiline flags = %v, %v", entries[0].IsMultiline, entries[1].IsMultiline)
	}
	if got := res.Elements(ElementLogEntries)[0].Confidence; got != 0.5 {
		t.Errorf("entries confidence = %f, want 0.5", got)
	}
	if res.ConfidenceScore != 0 {
		t.Errorf("confidence = %f, want 0", res.ConfidenceScore)
	}
}

// ---------------------------------------------------------------------------
// Dialects
// ---------------------------------------------------------------------------

const apacheFixture = `192.168.1.1 - - [15/Jan/2024:10:30:45 +0000] "GET /index.html HTTP/1.1" 200 1234 "-" "curl/8.0"
10.0.0.5 - - [15/Jan/2024:10:30:46 +0000] "POST /api HTTP/1.1" 500 0 "http://ref" "Mozilla/5.0"
192.168.1.1 - - [15/Jan/2024:10:30:47 +0000] "GET /a HTTP/1.1" 404 - "-" "curl/8.0"
`

func TestLogParserApacheCombined(t *testing.T) {
	res := parseLogFixture(t, LogConfig{}, "access.log", apacheFixture)

	entries := logEntriesOf(t, res)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	e := entries[0]
	if e.Type != DialectApacheCombined || e.IP != "192.168.1.1" {
		t.Errorf("entry = %+v", e)
	}
	wantFields := map[string]any{
		"method": "GET", "url": "/index.html", "protocol": "HTTP/1.1",
		"status": int64(200), "size": int64(1234), "user_agent": "curl/8.0",
	}
	if !reflect.DeepEqual(e.Fields, wantFields) {
		t.Errorf("fields = %v, want %v", e.Fields, wantFields)
	}
	if _, ok := entries[2].Fields["size"]; ok {
		t.Error("dash size should be dropped")
	}
	if e.Timestamp == nil || !e.Timestamp.Equal(time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)) {
		t.Errorf("timestamp = %v", e.Timestamp)
	}

	// No error keywords: positions skip 2.
	if want := []int{0, 1, 3}; !reflect.DeepEqual(positions(res), want) {
		t.Errorf("positions = %v, want %v", positions(res), want)
	}
	ips := res.Elements(ElementIPAnalysis)[0]
	a := ips.Content.(*IPAnalysis)
	want := &IPAnalysis{
		UniqueIPs: 2, TotalRequests: 3, PrivateIPs: 3, PublicIPs: 0,
		TopIPs: []IPCount{{"192.168.1.1", 2}, {"10.0.0.5", 1}},
	}
	if !reflect.DeepEqual(a, want) {
		t.Errorf("ip analysis = %+v, want %+v", a, want)
	}
	if ips.Metadata["entries_with_ip"] != 3 {
		t.Errorf("entries_with_ip = %v", ips.Metadata["entries_with_ip"])
	}

	summary := res.Elements(ElementLogSummary)[0].Content.(*LogSummary)
	if summary.TimeRange == nil || summary.TimeRange.DurationSeconds != 2 {
		t.Errorf("time range = %+v", summary.TimeRange)
	}
	if res.ConfidenceScore < 0.999 {
		t.Errorf("confidence = %f, want 1", res.ConfidenceScore)
	}
}

func TestLogParserApacheHostnameClient(t *testing.T) {
	body := `host.example.com - - [15/Jan/2024:10:30:45 +0000] "GET /proxy/8.8.8.8 HTTP/1.1" 200 12 "-" "curl/8.0"
host.example.com - - [15/Jan/2024:10:30:46 +0000] "GET / HTTP/1.1" 200 12 "-" "curl/8.0"
203.0.113.7 - - [15/Jan/2024:10:30:47 +0000] "GET / HTTP/1.1" 200 12 "-" "curl/8.0"
`
	res := parseLogFixture(t, LogConfig{}, "access.log", body)

	entries := logEntriesOf(t, res)
	if entries[0].IP != "" || entries[0].Fields["host"] != "host.example.com" {
		t.Errorf("hostname client: ip = %q, host = %v", entries[0].IP, entries[0].Fields["host"])
	}

	a := res.Elements(ElementIPAnalysis)[0].Content.(*IPAnalysis)
	want := &IPAnalysis{
		UniqueIPs: 1, TotalRequests: 1, PrivateIPs: 0, PublicIPs: 1,
		TopIPs: []IPCount{{"203.0.113.7", 1}},
	}
	if !reflect.DeepEqual(a, want) {
		t.Errorf("ip analysis = %+v, want %+v", a, want)
	}
}

func TestLogParserSyslog(t *testing.T) {
	body := "Jan 15 10:30:45 myhost sshd[1234]: Accepted password for root from 203.0.113.9\n" +
		"Jan 15 10:30:46 myhost cron: job done\n"

	t.Run("rfc3164_reference_year", func(t *testing.T) {
		res := parseLogFixture(t, LogConfig{ReferenceYear: 2024}, "syslog", body)
		entries := logEntriesOf(t, res)
		if len(entries) != 2 {
			t.Fatalf("entries = %d, want 2", len(entries))
		}
		e := entries[0]
		if e.Fields["hostname"] != "myhost" || e.Fields["process"] != "sshd" || e.Fields["pid"] != int64(1234) {
			t.Errorf("fields = %v", e.Fields)
		}
		if e.Message != "Accepted password for root from 203.0.113.9" || e.IP != "203.0.113.9" {
			t.Errorf("entry = %+v", e)
		}
		if e.Timestamp == nil || e.Timestamp.Year() != 2024 {
			t.Errorf("timestamp = %v", e.Timestamp)
		}
		if _, ok := entries[1].Fields["pid"]; ok {
			t.Error("pid should be absent")
		}
	})

	t.Run("rfc5424", func(t *testing.T) {
		res := parseLogFixture(t, LogConfig{}, "syslog",
			"<34>1 2024-01-15T10:30:45Z myhost app 1234 ID47 - Something happened\n")
		e := logEntriesOf(t, res)[0]
		if e.Type != DialectSyslogRFC5424 || e.Message != "Something happened" {
			t.Errorf("entry = %+v", e)
		}
		if e.Fields["priority"] != int64(34) || e.Fields["app_name"] != "app" || e.Fields["msg_id"] != "ID47" {
			t.Errorf("fields = %v", e.Fields)
		}
		if _, ok := e.Fields["structured_data"]; ok {
			t.Error("nil structured data should be dropped")
		}
	})
}

func TestLogParserJSONLines(t *testing.T) {
	body := `{"time":"2024-01-01T00:00:00Z","level":"info","msg":"started","ip":"8.8.8.8"}
{"timestamp":1704067200,"severity":"error","message":"disk failure"}
`
	res := parseLogFixture(t, LogConfig{}, "events.jsonl", body)

	entries := logEntriesOf(t, res)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Level != "INFO" || entries[0].Message != "started" || entries[0].IP != "8.8.8.8" {
		t.Errorf("first entry = %+v", entries[0])
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, e := range entries {
		if e.Timestamp == nil || !e.Timestamp.Equal(want) {
			t.Errorf("entry %d timestamp = %v", i, e.Timestamp)
		}
		if _, ok := e.Fields["json_data"].(map[string]any); !ok {
			t.Errorf("entry %d missing json_data", i)
		}
	}
	if entries[1].Level != "ERROR" {
		t.Errorf("second level = %q", entries[1].Level)
	}
	if len(res.Elements(ElementErrorAnalysis)) != 1 {
		t.Error("expected error analysis for the error entry")
	}
}

func TestLogParserGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("2024-01-01T00:00:00Z INFO one\n2024-01-01T00:00:05Z WARN two\n"))
	zw.Close()

	path := writeFixtureBytes(t, "app.log.gz", buf.Bytes())
	res, err := NewLogParser(LogConfig{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Failed() {
		t.Fatalf("degraded: %s", res.Error())
	}
	if res.Metadata["compression"] != "gzip" {
		t.Errorf("compression = %v", res.Metadata["compression"])
	}
	if !strings.Contains(res.RawText, "WARN two") {
		t.Errorf("raw text = %q", res.RawText)
	}
	tr := res.Metadata["time_range"].(map[string]any)
	if tr["duration_seconds"] != 5.0 {
		t.Errorf("time_range = %v", tr)
	}
}

func TestLogParserMetadata(t *testing.T) {
	body := "2024-01-01T00:00:00Z INFO from 10.0.0.1\n2024-01-01T00:00:01Z ERROR from 10.0.0.2\n"
	res := parseLogFixture(t, LogConfig{}, "app.log", body)

	patterns := res.Metadata["detected_patterns"].(map[string]any)
	if patterns[DialectISOTimestamp] != 2 || patterns["ip_addresses"] != 2 {
		t.Errorf("patterns = %v", patterns)
	}
	if !reflect.DeepEqual(patterns["log_levels"], map[string]int{"INFO": 1, "ERROR": 1}) {
		t.Errorf("log_levels = %v", patterns["log_levels"])
	}
	stats := res.Metadata["statistics"].(map[string]any)
	if stats["line_count"] != 3 || stats["entry_count"] != 2 {
		t.Errorf("statistics = %v", stats)
	}
	if res.Metadata["entries_parsed"] != 2 {
		t.Errorf("entries_parsed = %v", res.Metadata["entries_parsed"])
	}
	if _, ok := res.Metadata["compression"]; ok {
		t.Error("plain file should not report compression")
	}
}

func TestLogParserTooLarge(t *testing.T) {
	path := writeFixture(t, "big.log", strings.Repeat("2024-01-01T00:00:00Z INFO x\n", 10))
	res, err := NewLogParser(LogConfig{MaxFileSize: 32}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(res.Error(), ErrFileTooLarge.Error()) {
		t.Errorf("error = %q, want size error", res.Error())
	}
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

func TestLogStream(t *testing.T) {
	s := NewLogParser(LogConfig{}).NewStream(DialectISOTimestamp)

	if _, ok := s.Feed("2024-01-01T00:00:00Z ERROR boom"); ok {
		t.Fatal("first line should not complete an entry")
	}
	if _, ok := s.Feed("Traceback (most recent call last):"); ok {
		t.Fatal("continuation should not complete an entry")
	}
	done, ok := s.Feed("2024-01-01T00:00:01Z INFO next")
	if !ok {
		t.Fatal("new entry should complete the previous one")
	}
	if !done.IsMultiline || done.Message != "boom\nTraceback (most recent call last):" {
		t.Errorf("completed entry = %+v", done)
	}

	last, ok := s.Flush()
	if !ok || last.Message != "next" || last.LineNumber != 3 {
		t.Errorf("flushed entry = %+v", last)
	}
	if _, ok := s.Flush(); ok {
		t.Error("second Flush should be empty")
	}
}

func TestLogStreamUnknownDialect(t *testing.T) {
	s := NewLogParser(LogConfig{}).NewStream("nope")
	if s.Dialect() != DialectGeneric {
		t.Errorf("Dialect() = %q, want generic", s.Dialect())
	}
	s.Feed("first")
	done, ok := s.Feed("second")
	if !ok || done.Message != "first" || done.Type != DialectGeneric {
		t.Errorf("completed entry = %+v", done)
	}
}

func TestLogConfidence(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []LogEntry{
		{Type: DialectISOTimestamp, Timestamp: &ts, Level: "INFO"},
		{Type: DialectGeneric},
	}
	// 0.4*1/2 + 0.3*1/2 + 0.3*1/2
	if got := logConfidence(entries); got < 0.499 || got > 0.501 {
		t.Errorf("confidence = %f, want 0.5", got)
	}
	if logConfidence(nil) != 0 {
		t.Error("empty confidence should be 0")
	}
}
