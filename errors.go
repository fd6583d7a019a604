package metastitch

import "errors"

var (
	// ErrEmptyPath is returned when Parse is called without a path.
	ErrEmptyPath = errors.New("metastitch: empty path")

	// ErrFileNotFound is returned when the input file does not exist or is
	// a directory.
	ErrFileNotFound = errors.New("metastitch: file not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("metastitch: unsupported document format")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("metastitch: invalid configuration")

	// ErrParseTimeout is recorded in a degraded result when a parse
	// exceeds its wall-clock budget.
	ErrParseTimeout = errors.New("metastitch: parse timed out")
)
