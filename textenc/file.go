package textenc

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrTooLarge is returned when a file, or its decompressed payload,
	// exceeds the configured size limit.
	ErrTooLarge = errors.New("textenc: file exceeds size limit")
)

// Compression names reported in File.Compression.
const (
	CompressionNone  = ""
	CompressionGzip  = "gzip"
	CompressionBzip2 = "bzip2"
)

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
)

// ReadOptions controls ReadFile.
type ReadOptions struct {
	// MaxSize caps both the on-disk size and the decompressed size. Zero
	// disables the check.
	MaxSize int64
	// Decompress unwraps gzip and bzip2 payloads detected by extension or
	// magic bytes.
	Decompress bool
}

// File is the raw content of a file after optional decompression.
type File struct {
	Data        []byte
	Size        int64 // on-disk size
	Compression string
}

// ReadFile loads path into memory.
func ReadFile(path string, opts ReadOptions) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if opts.MaxSize > 0 && info.Size() > opts.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrTooLarge, info.Size(), opts.MaxSize)
	}

	out := &File{Size: info.Size()}
	var r io.Reader = f

	if opts.Decompress {
		br := bufio.NewReader(f)
		head, _ := br.Peek(3)
		out.Compression = sniffCompression(path, head)
		r = br

		switch out.Compression {
		case CompressionGzip:
			gz, err := gzip.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("opening gzip stream: %w", err)
			}
			defer gz.Close()
			r = gz
		case CompressionBzip2:
			r = bzip2.NewReader(br)
		}
	}

	if opts.MaxSize > 0 {
		r = io.LimitReader(r, opts.MaxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if opts.MaxSize > 0 && int64(len(data)) > opts.MaxSize {
		return nil, fmt.Errorf("%w: decompressed payload > %d bytes", ErrTooLarge, opts.MaxSize)
	}
	out.Data = data
	return out, nil
}

// ReadText is ReadFile followed by Decode.
func ReadText(path string, opts ReadOptions, decode ...Option) (*File, Result, error) {
	f, err := ReadFile(path, opts)
	if err != nil {
		return nil, Result{}, err
	}
	return f, Decode(f.Data, decode...), nil
}

// IsCompressed reports whether path carries a known compression extension.
func IsCompressed(path string) bool {
	return sniffCompression(path, nil) != CompressionNone
}

// StripCompressionExt removes a trailing .gz or .bz2 from path.
func StripCompressionExt(path string) string {
	lower := strings.ToLower(path)
	for _, ext := range []string{".gz", ".gzip", ".bz2"} {
		if strings.HasSuffix(lower, ext) {
			return path[:len(path)-len(ext)]
		}
	}
	return path
}

func sniffCompression(path string, head []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return CompressionGzip
	case ".bz2":
		return CompressionBzip2
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(head, bzip2Magic):
		return CompressionBzip2
	}
	return CompressionNone
}
