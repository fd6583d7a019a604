package heuristics

import (
	"net/netip"
	"regexp"
	"strings"
)

// ---------------------------------------------------------------------------
// Log levels
// ---------------------------------------------------------------------------

var levelPattern = regexp.MustCompile(`(?i)\b(DEBUG|INFO|WARN|WARNING|ERROR|FATAL|TRACE|CRITICAL)\b`)

// leadingLevel matches a level keyword at the start of a line, optionally
// bracketed, e.g. "[ERROR] ..." or "WARN: ...".
var leadingLevel = regexp.MustCompile(`^\[?(?i:TRACE|DEBUG|INFO|NOTICE|WARN|WARNING|ERROR|ERR|FATAL|CRITICAL|CRIT|SEVERE)\]?[:\s]`)

// FindLevel returns the first log-level keyword in s, upper-cased.
func FindLevel(s string) (string, bool) {
	m := levelPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// HasLeadingLevel reports whether line starts with a level keyword.
func HasLeadingLevel(line string) bool {
	return leadingLevel.MatchString(line)
}

// IsErrorLevel reports whether level denotes an error.
func IsErrorLevel(level string) bool {
	switch strings.ToUpper(level) {
	case "ERROR", "ERR", "FATAL", "CRITICAL", "CRIT", "SEVERE", "EMERG", "ALERT":
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Errors and stack traces
// ---------------------------------------------------------------------------

// ErrorKeywords mark a message as describing a failure.
var ErrorKeywords = []string{"error", "exception", "traceback", "failed", "failure", "fatal", "critical"}

var errorToken = regexp.MustCompile(`\b\w*[Ee]rror\w*\b|\b\w*[Ee]xception\w*\b`)

// HasErrorKeyword reports whether msg mentions any ErrorKeywords.
func HasErrorKeyword(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range ErrorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ErrorTokens returns the *Error* and *Exception* words in msg.
func ErrorTokens(msg string) []string {
	return errorToken.FindAllString(msg, -1)
}

var stackFrame = regexp.MustCompile(`^\s+at\s|^\s*File "|^\s*Caused by:|^\s*\.\.\. \d+ more|^Traceback \(most recent call last\)|^During handling of the above exception|^\s*goroutine \d+ \[`)

// IsStackTrace reports whether msg carries a stack trace.
func IsStackTrace(msg string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "traceback") || strings.Contains(lower, "stack trace") {
		return true
	}
	for _, line := range strings.Split(msg, "\n")[1:] {
		if stackFrame.MatchString(line) {
			return true
		}
	}
	return false
}

// LooksLikeContinuation reports whether line reads as the tail of a
// multi-line record: indented text or a stack frame.
func LooksLikeContinuation(line string) bool {
	if line == "" {
		return false
	}
	if line[0] == ' ' || line[0] == '\t' {
		return true
	}
	return stackFrame.MatchString(line)
}

// ---------------------------------------------------------------------------
// Addresses
// ---------------------------------------------------------------------------

var ipv4Pattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// FindIPv4 returns the first valid dotted-quad address in s.
func FindIPv4(s string) (string, bool) {
	for _, m := range ipv4Pattern.FindAllString(s, -1) {
		if _, err := netip.ParseAddr(m); err == nil {
			return m, true
		}
	}
	return "", false
}

// IsPrivateIP reports whether ip is in a private, loopback or link-local
// range. Unparseable input is treated as public.
func IsPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}
