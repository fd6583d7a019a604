package textenc

import (
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDecodeUTF8(t *testing.T) {
	res := Decode([]byte("héllo wörld"))
	if res.Encoding != "utf-8" {
		t.Errorf("Encoding = %q, want utf-8", res.Encoding)
	}
	if res.Text != "héllo wörld" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestDecodeStripsBOM(t *testing.T) {
	res := Decode(append([]byte{0xEF, 0xBB, 0xBF}, "abc"...))
	if res.Text != "abc" {
		t.Errorf("Text = %q, want %q", res.Text, "abc")
	}
}

func TestDecodeLatin1(t *testing.T) {
	raw := []byte("The caf\xe9 on the corner serves a na\xefve r\xe9sum\xe9 of French pastries every morning. ")
	raw = bytes.Repeat(raw, 8)

	res := Decode(raw)
	if !utf8.ValidString(res.Text) {
		t.Fatal("decoded text is not valid UTF-8")
	}
	if !strings.Contains(res.Text, "café") {
		t.Errorf("Text = %q, want it to contain café", res.Text[:60])
	}
	if res.Lossy {
		t.Error("Lossy = true, want false")
	}
}

func TestDecodeHTMLMetaCharset(t *testing.T) {
	raw := []byte(`<html><head><meta charset="windows-1252"></head><body>Price: 5` + "\x80" + `</body></html>`)
	res := Decode(raw, WithContentType("text/html"))
	if !strings.Contains(res.Text, "5€") {
		t.Errorf("Text = %q, want euro sign", res.Text)
	}
}

func TestDecodeNamed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		ok   bool
	}{
		{"utf-8", []byte("ok"), true},
		{"utf-8", []byte{0xff, 0xfe, 0x00}, false},
		{"ascii", []byte("plain"), true},
		{"ascii", []byte("caf\xe9"), false},
		{"latin-1", []byte("caf\xe9"), true},
		{"cp1252", []byte("\x80"), true},
		{"no-such-charset", []byte("x"), false},
	}
	for _, tt := range tests {
		_, ok := decodeNamed(tt.name, tt.data)
		if ok != tt.ok {
			t.Errorf("decodeNamed(%q, %q) ok = %v, want %v", tt.name, tt.data, ok, tt.ok)
		}
	}
}

// ---------------------------------------------------------------------------
// ReadFile
// ---------------------------------------------------------------------------

func TestReadFileGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log.gz")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("line one\nline two\n"))
	zw.Close()
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := ReadFile(path, ReadOptions{Decompress: true})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if f.Compression != CompressionGzip {
		t.Errorf("Compression = %q, want gzip", f.Compression)
	}
	if string(f.Data) != "line one\nline two\n" {
		t.Errorf("Data = %q", f.Data)
	}
}

func TestReadFileGzipMagicWithoutExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rotated.1")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("hello"))
	zw.Close()
	os.WriteFile(path, buf.Bytes(), 0o644)

	f, err := ReadFile(path, ReadOptions{Decompress: true})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if f.Compression != CompressionGzip || string(f.Data) != "hello" {
		t.Errorf("got (%q, %q), want (gzip, hello)", f.Compression, f.Data)
	}
}

func TestReadFileNoDecompress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.gz")
	os.WriteFile(path, []byte{0x1f, 0x8b, 0x00}, 0o644)

	f, err := ReadFile(path, ReadOptions{})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if f.Compression != CompressionNone || len(f.Data) != 3 {
		t.Errorf("got compression %q, %d bytes", f.Compression, len(f.Data))
	}
}

func TestReadFileTooLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	os.WriteFile(path, bytes.Repeat([]byte("x"), 100), 0o644)

	_, err := ReadFile(path, ReadOptions{MaxSize: 10})
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope"), ReadOptions{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestSniffCompression(t *testing.T) {
	tests := []struct {
		path string
		head []byte
		want string
	}{
		{"a.log.gz", nil, CompressionGzip},
		{"a.log.bz2", nil, CompressionBzip2},
		{"a.log", []byte("BZh"), CompressionBzip2},
		{"a.log", []byte{0x1f, 0x8b, 0x08}, CompressionGzip},
		{"a.log", []byte("Jan"), CompressionNone},
	}
	for _, tt := range tests {
		if got := sniffCompression(tt.path, tt.head); got != tt.want {
			t.Errorf("sniffCompression(%q, %q) = %q, want %q", tt.path, tt.head, got, tt.want)
		}
	}
}

func TestStripCompressionExt(t *testing.T) {
	if got := StripCompressionExt("/var/log/app.log.gz"); got != "/var/log/app.log" {
		t.Errorf("StripCompressionExt = %q", got)
	}
	if got := StripCompressionExt("notes.txt"); got != "notes.txt" {
		t.Errorf("StripCompressionExt = %q", got)
	}
}
