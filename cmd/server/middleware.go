package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShriniwasAhirrao/MetaStitch/metrics"
	"github.com/ShriniwasAhirrao/MetaStitch/parser"
)

// requestIDHeader carries the request id in both directions.
const requestIDHeader = "X-Request-ID"

// requestInfo travels in the request context. Handlers record parse
// outcomes on it and logMiddleware reports them in the access log.
type requestInfo struct {
	id string

	format     string
	status     string
	elements   int
	confidence float64
	parsed     int
	degraded   int
}

type requestInfoKey struct{}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

// noteParse records one finished parse on the request.
func noteParse(r *http.Request, res *parser.ParseResult) {
	info := requestInfoFrom(r.Context())
	if info == nil || res == nil {
		return
	}
	info.parsed++
	info.status = metrics.StatusOK
	if res.Failed() {
		info.status = metrics.StatusDegraded
		info.degraded++
	}
	info.format, _ = res.Metadata["file_type"].(string)
	info.elements = len(res.StructuredElements)
	info.confidence = res.ConfidenceScore
}

// attrs are the parse fields of the access log line. A single parse is
// reported in full, a batch by its counts.
func (info *requestInfo) attrs() []any {
	switch info.parsed {
	case 0:
		return nil
	case 1:
		return []any{
			"format", info.format,
			"parse_status", info.status,
			"elements", info.elements,
			"confidence", info.confidence,
		}
	default:
		return []any{"parsed", info.parsed, "degraded", info.degraded}
	}
}

// logMiddleware assigns the request id (a client-supplied one is reused)
// and writes one access log line per request.
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{id: r.Header.Get(requestIDHeader)}
		if info.id == "" {
			info.id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, info.id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

		args := []any{
			"request_id", info.id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond),
		}
		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case info.degraded > 0:
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "request", append(args, info.attrs()...)...)
	})
}

// openPaths are served without a key so probes and scrapers keep working.
var openPaths = []string{"/health", "/metrics"}

// authMiddleware requires "Authorization: Bearer <apiKey>". An empty key
// disables the check.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slices.Contains(openPaths, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="metastitch"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware turns a panic into a 500 with the usual error body.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				id := ""
				if info := requestInfoFrom(r.Context()); info != nil {
					id = info.id
				}
				slog.Error("panic recovered",
					"request_id", id,
					"error", fmt.Sprint(v),
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows the comma-separated origins, or any origin for
// "*". Preflight requests are answered here and never reach auth.
func corsMiddleware(origins string, next http.Handler) http.Handler {
	if origins == "" {
		return next
	}
	var allowed []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, o)
		}
	}
	wildcard := slices.Contains(allowed, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Origin")
		origin := r.Header.Get("Origin")
		if origin != "" && (wildcard || slices.Contains(allowed, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)
			w.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter { return rec.ResponseWriter }
