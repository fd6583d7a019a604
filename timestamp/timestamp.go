// Package timestamp turns the many timestamp spellings found in logs and data
// files into a single UTC instant.
package timestamp

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// EpochThreshold is the smallest number treated as Unix seconds (Sep 2001).
// Values above EpochMillisThreshold are read as milliseconds.
const (
	EpochThreshold       = 1e9
	EpochMillisThreshold = 1e12
)

// Layouts are tried in order before the general-purpose fallback. Inputs
// without a zone are read as UTC.
var Layouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05,000",
	"02/Jan/2006:15:04:05 -0700",
	"Jan _2 15:04:05",
	"Jan _2 2006 15:04:05",
	"01/02/2006 15:04:05",
	"01/02/06 15:04:05",
	"02-01-2006 15:04:05",
	"20060102 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	time.ANSIC,
}

// Normalizer parses timestamps. The zero value is ready to use.
type Normalizer struct {
	// ReferenceYear is applied to stamps that carry no year, such as
	// RFC 3164 syslog. Zero leaves them in year 0.
	ReferenceYear int
}

var defaultNormalizer Normalizer

// Parse uses a zero Normalizer.
func Parse(v any) (time.Time, bool) { return defaultNormalizer.Parse(v) }

// Parse accepts strings and numbers. ok is false when nothing matched.
func (n Normalizer) Parse(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x.UTC(), !x.IsZero()
	case string:
		return n.ParseString(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return fromEpoch(f)
		}
		return n.ParseString(x.String())
	case float64:
		return fromEpoch(x)
	case float32:
		return fromEpoch(float64(x))
	case int:
		return fromEpoch(float64(x))
	case int64:
		return fromEpoch(float64(x))
	}
	return time.Time{}, false
}

// ParseString parses a single timestamp fragment.
func (n Normalizer) ParseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(strings.Trim(s, "[]"))
	if s == "" {
		return time.Time{}, false
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}

	for _, layout := range Layouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			continue
		}
		if t.Year() == 0 && n.ReferenceYear != 0 {
			t = t.AddDate(n.ReferenceYear, 0, 0)
		}
		return t.UTC(), true
	}

	if !plausibleDate(s) {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= EpochThreshold {
		return time.Time{}, false
	}
	if f > EpochMillisThreshold {
		f /= 1000
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// plausibleDate keeps the fallback parser away from short words and bare
// numbers it would otherwise happily accept.
func plausibleDate(s string) bool {
	if len(s) < 6 {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 4
}

// embedded matches timestamp-looking substrings, most specific first.
var embedded = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?`),
	regexp.MustCompile(`\d{2}/[A-Z][a-z]{2}/\d{4}:\d{2}:\d{2}:\d{2} [+-]\d{4}`),
	regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\s+\d{1,2}:\d{2}:\d{2}`),
	regexp.MustCompile(`(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}`),
}

// Find looks for a timestamp anywhere in line and returns the parsed instant
// together with the matched text.
func (n Normalizer) Find(line string) (time.Time, string, bool) {
	for _, re := range embedded {
		m := re.FindString(line)
		if m == "" {
			continue
		}
		if t, ok := n.ParseString(m); ok {
			return t, m, true
		}
	}
	return time.Time{}, "", false
}

// HasLeadingTimestamp reports whether line starts with a recognisable stamp,
// optionally wrapped in brackets.
func HasLeadingTimestamp(line string) bool {
	s := strings.TrimLeft(line, "[")
	for _, re := range embedded {
		if loc := re.FindStringIndex(s); loc != nil && loc[0] == 0 {
			return true
		}
	}
	return false
}
