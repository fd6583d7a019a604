package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Dialect names reported in metadata["detected_format"] and as entry types.
const (
	DialectJSONLines        = "json_lines"
	DialectNginxAccess      = "nginx_access"
	DialectApacheCombined   = "apache_combined"
	DialectApacheCommon     = "apache_common"
	DialectSyslogRFC5424    = "syslog_rfc5424"
	DialectSyslogRFC3164    = "syslog_rfc3164"
	DialectISOTimestamp     = "iso_timestamp"
	DialectGenericTimestamp = "generic_timestamp"
	DialectGeneric          = "generic"

	entryOrphaned = "orphaned_line"
)

// logDialect is one line grammar. Named capture groups become entry fields.
type logDialect struct {
	name    string
	pattern *regexp.Regexp
}

const levelAlternatives = `TRACE|DEBUG|INFO|NOTICE|WARN|WARNING|ERROR|ERR|FATAL|CRITICAL|CRIT|SEVERE`

// logDialects is ordered from most to least specific. Detection ties are
// resolved in this order.
var logDialects = []logDialect{
	{DialectNginxAccess, regexp.MustCompile(
		`^(?P<ip>\S+) - \S+ \[(?P<timestamp>[^\]]+)\] "(?P<method>\S+) (?P<url>\S+) (?P<protocol>[^"]+)" (?P<status>\d+) (?P<size>\d+) "(?P<referer>[^"]*)" "(?P<user_agent>[^"]*)"`)},
	{DialectApacheCombined, regexp.MustCompile(
		`^(?P<ip>\S+) \S+ \S+ \[(?P<timestamp>[^\]]+)\] "(?P<method>\S+) (?P<url>\S+) (?P<protocol>[^"]+)" (?P<status>\d+) (?P<size>\S+) "(?P<referer>[^"]*)" "(?P<user_agent>[^"]*)"`)},
	{DialectApacheCommon, regexp.MustCompile(
		`^(?P<ip>\S+) \S+ \S+ \[(?P<timestamp>[^\]]+)\] "(?P<method>\S+) (?P<url>\S+) (?P<protocol>[^"]+)" (?P<status>\d+) (?P<size>\S+)`)},
	{DialectSyslogRFC5424, regexp.MustCompile(
		`^<(?P<priority>\d{1,3})>(?P<version>\d{1,2}) (?P<timestamp>\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})) (?P<hostname>\S+) (?P<app_name>\S+) (?P<proc_id>\S+) (?P<msg_id>\S+) (?P<structured_data>\[.*?\]|-)\s?(?P<message>.*)`)},
	{DialectSyslogRFC3164, regexp.MustCompile(
		`^(?:<(?P<priority>\d{1,3})>)?(?P<timestamp>[A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}) (?P<hostname>\S+) (?P<process>[^\s\[:]+)(?:\[(?P<pid>\d+)\])?: (?P<message>.*)`)},
	{DialectISOTimestamp, regexp.MustCompile(
		`^\[?(?P<timestamp>\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?)\]?\s+(?:\[?(?P<level>(?i:` + levelAlternatives + `))\]?:?\s+)?(?P<message>.*)`)},
	{DialectGenericTimestamp, regexp.MustCompile(
		`^\[?(?P<timestamp>\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\s+\d{1,2}:\d{2}:\d{2}(?:\.\d+)?)\]?\s+(?:\[?(?P<level>(?i:` + levelAlternatives + `))\]?:?\s+)?(?P<message>.*)`)},
}

func lookupDialect(name string) (logDialect, bool) {
	for _, d := range logDialects {
		if d.name == name {
			return d, true
		}
	}
	return logDialect{}, false
}

// DetectDialect scores every known dialect against the non-blank lines and
// returns the one matching the largest fraction. JSON-lines is scored by
// decoding each line as a JSON object. Ties go to the more specific dialect.
// When nothing matches the result is DialectGeneric with confidence 0.
func DetectDialect(lines []string) (string, float64) {
	total := 0
	jsonHits := 0
	hits := make([]int, len(logDialects))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		if _, ok := decodeJSONLine(line); ok {
			jsonHits++
		}
		for i, d := range logDialects {
			if d.pattern.MatchString(line) {
				hits[i]++
			}
		}
	}
	if total == 0 {
		return DialectGeneric, 0
	}

	best, bestHits := DialectGeneric, 0
	if jsonHits > 0 {
		best, bestHits = DialectJSONLines, jsonHits
	}
	for i, d := range logDialects {
		if hits[i] > bestHits {
			best, bestHits = d.name, hits[i]
		}
	}
	if bestHits == 0 {
		return DialectGeneric, 0
	}
	return best, float64(bestHits) / float64(total)
}

// decodeJSONLine decodes line as a single JSON object.
func decodeJSONLine(line string) (map[string]any, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return obj, true
}

// matchGroups returns the non-empty named groups of d matched against line.
func (d logDialect) matchGroups(line string) (map[string]string, bool) {
	m := d.pattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	out := make(map[string]string)
	for i, name := range d.pattern.SubexpNames() {
		if i == 0 || name == "" || m[i] == "" || m[i] == "-" {
			continue
		}
		out[name] = m[i]
	}
	return out, true
}

// inferFieldType converts numeric captures such as status and size.
func inferFieldType(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	return s
}

// firstString returns the first key of obj holding a non-empty value.
func firstString(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		return v, true
	}
	return nil, false
}
