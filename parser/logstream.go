package parser

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/ShriniwasAhirrao/MetaStitch/heuristics"
	"github.com/ShriniwasAhirrao/MetaStitch/timestamp"
)

// LogEntry is one reassembled log record.
type LogEntry struct {
	LineNumber  int            `json:"line_number"`
	Type        string         `json:"type"`
	Timestamp   *time.Time     `json:"timestamp,omitempty"`
	Level       string         `json:"level,omitempty"`
	Message     string         `json:"message"`
	RawLine     string         `json:"raw_line"`
	IsMultiline bool           `json:"is_multiline"`
	IP          string         `json:"ip,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Structured reports whether the entry carries more than a bare message.
func (e *LogEntry) Structured() bool {
	return e.Timestamp != nil || e.Level != "" || e.IP != "" || len(e.Fields) > 0
}

// IsError reports whether the entry has an error level or its message
// mentions a failure.
func (e *LogEntry) IsError() bool {
	return heuristics.IsErrorLevel(e.Level) || heuristics.HasErrorKeyword(e.Message)
}

// specific reports whether a named dialect parsed the entry.
func (e *LogEntry) specific() bool {
	return e.Type != DialectGeneric && e.Type != entryOrphaned
}

// LogStream reassembles entries from lines fed one at a time. A line that
// does not start a new entry is appended to the current one. The zero value
// is not usable; create streams with LogParser.NewStream.
type LogStream struct {
	dialect  string
	grammar  logDialect
	named    bool
	norm     timestamp.Normalizer
	maxCont  int
	lineNo   int
	current  *LogEntry
	absorbed int
}

// NewStream returns an assembler for dialect. Unknown names fall back to
// generic line parsing.
func (p *LogParser) NewStream(dialect string) *LogStream {
	s := &LogStream{
		dialect: dialect,
		norm:    timestamp.Normalizer{ReferenceYear: p.cfg.ReferenceYear},
		maxCont: p.cfg.MaxContinuationLines,
	}
	s.grammar, s.named = lookupDialect(dialect)
	if !s.named && dialect != DialectJSONLines {
		s.dialect = DialectGeneric
	}
	return s
}

// Dialect returns the grammar the stream parses with.
func (s *LogStream) Dialect() string { return s.dialect }

// Feed consumes one line. It returns the entry the line completed, if any.
func (s *LogStream) Feed(line string) (LogEntry, bool) {
	s.lineNo++
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return LogEntry{}, false
	}

	overflow := false
	if s.current != nil && s.continues(line) {
		if s.absorbed < s.maxCont {
			s.current.Message += "\n" + line
			s.current.RawLine += "\n" + line
			s.current.IsMultiline = true
			s.absorbed++
			return LogEntry{}, false
		}
		overflow = heuristics.LooksLikeContinuation(line)
	}

	var next *LogEntry
	if !overflow {
		next = s.parseLine(line)
	}
	if next == nil {
		next = &LogEntry{LineNumber: s.lineNo, Type: entryOrphaned, Message: line, RawLine: line}
	}
	done, ok := s.Flush()
	s.current = next
	return done, ok
}

// Flush returns the pending entry and resets the stream's current entry.
func (s *LogStream) Flush() (LogEntry, bool) {
	if s.current == nil {
		return LogEntry{}, false
	}
	e := *s.current
	s.current = nil
	s.absorbed = 0
	return e, true
}

// continues reports whether line belongs to the current entry rather than
// opening a new one.
func (s *LogStream) continues(line string) bool {
	if s.startsEntry(line) {
		return false
	}
	if s.dialect == DialectGeneric {
		return heuristics.LooksLikeContinuation(line)
	}
	return true
}

// startsEntry reports whether line reads as the head of a record in any
// grammar, not only the stream's own.
func (s *LogStream) startsEntry(line string) bool {
	if s.dialect == DialectJSONLines {
		if _, ok := decodeJSONLine(line); ok {
			return true
		}
	}
	if s.named && s.grammar.pattern.MatchString(line) {
		return true
	}
	if line[0] == ' ' || line[0] == '\t' {
		return false
	}
	if timestamp.HasLeadingTimestamp(line) || heuristics.HasLeadingLevel(line) {
		return true
	}
	for _, d := range logDialects {
		if d.pattern.MatchString(line) {
			return true
		}
	}
	return false
}

// parseLine parses line as a new entry. It returns nil for a line that only
// makes sense as a continuation.
func (s *LogStream) parseLine(line string) *LogEntry {
	if s.dialect == DialectJSONLines {
		if obj, ok := decodeJSONLine(line); ok {
			return s.jsonEntry(line, obj)
		}
	}
	if s.named {
		if groups, ok := s.grammar.matchGroups(line); ok {
			return s.dialectEntry(line, groups)
		}
	}
	if s.current != nil || !heuristics.LooksLikeContinuation(line) {
		return s.genericEntry(line)
	}
	return nil
}

func (s *LogStream) jsonEntry(line string, obj map[string]any) *LogEntry {
	e := &LogEntry{
		LineNumber: s.lineNo,
		Type:       DialectJSONLines,
		RawLine:    line,
		Fields:     map[string]any{"json_data": obj},
	}
	if v, ok := firstString(obj, "timestamp", "time", "@timestamp", "ts"); ok {
		if t, ok := s.norm.Parse(v); ok {
			e.Timestamp = &t
		}
	}
	if v, ok := firstString(obj, "level", "severity", "lvl"); ok {
		e.Level = strings.ToUpper(fmt.Sprint(v))
	}
	if v, ok := firstString(obj, "message", "msg"); ok {
		if str, isStr := v.(string); isStr {
			e.Message = str
		} else {
			b, _ := json.Marshal(v)
			e.Message = string(b)
		}
	} else {
		e.Message = line
	}
	if v, ok := firstString(obj, "ip", "client_ip", "remote_addr"); ok {
		if ip, found := heuristics.FindIPv4(fmt.Sprint(v)); found {
			e.IP = ip
		}
	}
	return e
}

// dialectEntry promotes the named groups of a regex match into the entry.
func (s *LogStream) dialectEntry(line string, groups map[string]string) *LogEntry {
	e := &LogEntry{
		LineNumber: s.lineNo,
		Type:       s.dialect,
		RawLine:    line,
		Message:    line,
	}
	for name, v := range groups {
		switch name {
		case "timestamp":
			if t, ok := s.norm.ParseString(v); ok {
				e.Timestamp = &t
			}
		case "level":
			e.Level = strings.ToUpper(v)
		case "message":
			e.Message = v
		case "ip":
			if _, err := netip.ParseAddr(v); err == nil {
				e.IP = v
				continue
			}
			if e.Fields == nil {
				e.Fields = make(map[string]any)
			}
			e.Fields["host"] = v
		default:
			if e.Fields == nil {
				e.Fields = make(map[string]any)
			}
			e.Fields[name] = inferFieldType(v)
		}
	}
	if e.Level == "" {
		e.Level, _ = heuristics.FindLevel(line)
	}
	if _, captured := groups["ip"]; !captured && e.IP == "" {
		e.IP, _ = heuristics.FindIPv4(e.Message)
	}
	return e
}

// genericEntry searches line for a timestamp, a level and an address and
// keeps the whole line as the message.
func (s *LogStream) genericEntry(line string) *LogEntry {
	e := &LogEntry{
		LineNumber: s.lineNo,
		Type:       DialectGeneric,
		RawLine:    line,
		Message:    line,
	}
	if t, _, ok := s.norm.Find(line); ok {
		e.Timestamp = &t
	}
	e.Level, _ = heuristics.FindLevel(line)
	e.IP, _ = heuristics.FindIPv4(line)
	return e
}
