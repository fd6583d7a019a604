// Package textenc reads files into text. It unwraps gzip and bzip2 payloads,
// detects the byte encoding and decodes through a fixed fallback chain, so a
// caller always gets a usable string back.
package textenc

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// DetectPrefix is how many leading bytes are fed to the statistical detector.
const DetectPrefix = 10 * 1024

// FallbackChain is tried in order after the detected encoding fails.
var FallbackChain = []string{"utf-8", "latin-1", "cp1252", "ascii"}

// Result is decoded text plus how it was obtained.
type Result struct {
	Text       string `json:"-"`
	Encoding   string `json:"encoding"`
	Detected   string `json:"detected,omitempty"`
	Confidence int    `json:"detection_confidence,omitempty"`
	// Lossy is set when every candidate failed and undecodable bytes were
	// replaced with U+FFFD.
	Lossy bool `json:"lossy,omitempty"`
}

// Option tunes a single Decode call.
type Option func(*decodeOptions)

type decodeOptions struct {
	contentType string
}

// WithContentType lets Decode honour encodings declared inside the document,
// such as a BOM or an HTML <meta charset>.
func WithContentType(contentType string) Option {
	return func(o *decodeOptions) { o.contentType = contentType }
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// Decode converts raw bytes into text. It never fails.
func Decode(data []byte, opts ...Option) Result {
	var o decodeOptions
	for _, fn := range opts {
		fn(&o)
	}

	// Valid UTF-8 needs no guessing.
	if utf8.Valid(data) {
		return Result{Text: string(bytes.TrimPrefix(data, bom)), Encoding: "utf-8"}
	}

	var res Result

	if o.contentType != "" {
		if enc, name, certain := charset.DetermineEncoding(data, o.contentType); certain || declaresCharset(data) {
			if text, ok := decodeWithEncoding(enc, data); ok {
				return Result{Text: text, Encoding: name, Detected: name, Confidence: 100}
			}
		}
	}

	prefix := data
	if len(prefix) > DetectPrefix {
		prefix = prefix[:DetectPrefix]
	}
	if best, err := chardet.NewTextDetector().DetectBest(prefix); err == nil && best != nil {
		res.Detected = best.Charset
		res.Confidence = best.Confidence
		if text, ok := decodeNamed(best.Charset, data); ok {
			res.Text = text
			res.Encoding = canonicalName(best.Charset)
			return res
		}
	}

	for _, name := range FallbackChain {
		if text, ok := decodeNamed(name, data); ok {
			res.Text = text
			res.Encoding = name
			return res
		}
	}

	res.Text = strings.ToValidUTF8(string(data), "�")
	res.Encoding = "utf-8"
	res.Lossy = true
	return res
}

// decodeNamed decodes data with the encoding called name. ok is false when the
// name is unknown or the bytes are not valid in that encoding.
func decodeNamed(name string, data []byte) (string, bool) {
	switch canonicalName(name) {
	case "utf-8":
		if !utf8.Valid(data) {
			return "", false
		}
		return string(bytes.TrimPrefix(data, bom)), true
	case "ascii":
		for _, b := range data {
			if b >= utf8.RuneSelf {
				return "", false
			}
		}
		return string(data), true
	case "latin-1":
		return decodeWithEncoding(charmap.ISO8859_1, data)
	case "cp1252":
		return decodeWithEncoding(charmap.Windows1252, data)
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return "", false
	}
	return decodeWithEncoding(enc, data)
}

func decodeWithEncoding(enc encoding.Encoding, data []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// declaresCharset reports whether the document head names its own charset,
// in which case DetermineEncoding's prescan result is trusted.
func declaresCharset(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(bytes.ToLower(head), []byte("charset"))
}

func canonicalName(name string) string {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "utf-8", "utf8":
		return "utf-8"
	case "ascii", "us-ascii":
		return "ascii"
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return "latin-1"
	case "cp1252", "windows-1252":
		return "cp1252"
	}
	return strings.ToLower(name)
}
