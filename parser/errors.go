package parser

import (
	"errors"

	"github.com/ShriniwasAhirrao/MetaStitch/textenc"
)

var (
	// ErrEmptyPath is returned by Parse when called without a path.
	ErrEmptyPath = errors.New("parser: empty file path")

	// ErrFileNotFound is recorded in degraded results for missing inputs.
	ErrFileNotFound = errors.New("parser: file not found")

	// ErrFileTooLarge is recorded when a file exceeds the parser's size limit.
	ErrFileTooLarge = textenc.ErrTooLarge

	// ErrNoContent is recorded when a document yields no extractable text.
	ErrNoContent = errors.New("parser: no extractable content")

	// ErrNoParser is returned by Registry.Get for unknown formats.
	ErrNoParser = errors.New("parser: no parser for format")

	// ErrInternal wraps panics recovered at a parser's entry point.
	ErrInternal = errors.New("parser: internal error")
)
