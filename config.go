package metastitch

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShriniwasAhirrao/MetaStitch/parser"
)

// Config holds all configuration for the MetaStitch engine.
type Config struct {
	// Parser knobs, fixed when the engine is built.
	JSON parser.JSONConfig `json:"json" yaml:"json"`
	Text parser.TextConfig `json:"text" yaml:"text"`
	Log  parser.LogConfig  `json:"log" yaml:"log"`

	Timestamp TimestampConfig `json:"timestamp" yaml:"timestamp"`

	// Concurrency bounds ParseAll fan-out.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// ParseTimeoutSeconds is the wall-clock budget of one file.
	ParseTimeoutSeconds int `json:"parse_timeout_seconds" yaml:"parse_timeout_seconds"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// TimestampConfig configures timestamp normalization.
type TimestampConfig struct {
	// ReferenceYear is assigned to yearless timestamps such as classic
	// syslog. 0 leaves them in year 0.
	ReferenceYear int `json:"reference_year" yaml:"reference_year"`
}

// LoggingConfig selects the slog handler built by the CLI and server.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// DefaultConfig returns a Config with the default limits.
func DefaultConfig() Config {
	return Config{
		JSON:                parser.DefaultJSONConfig(),
		Text:                parser.DefaultTextConfig(),
		Log:                 parser.DefaultLogConfig(),
		Concurrency:         4,
		ParseTimeoutSeconds: 60,
		Logging:             LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML or JSON config file on top of DefaultConfig. The
// decoder is chosen by extension.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("%w: unknown config extension %q", ErrInvalidConfig, filepath.Ext(path))
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// envInts maps METASTITCH_* variables to integer fields.
func (c *Config) envInts() map[string]func(int64) {
	return map[string]func(int64){
		"METASTITCH_CONCURRENCY":           func(v int64) { c.Concurrency = int(v) },
		"METASTITCH_PARSE_TIMEOUT_SECONDS": func(v int64) { c.ParseTimeoutSeconds = int(v) },
		"METASTITCH_REFERENCE_YEAR":        func(v int64) { c.Timestamp.ReferenceYear = int(v) },
		"METASTITCH_JSON_MAX_DEPTH":        func(v int64) { c.JSON.MaxDepth = int(v) },
		"METASTITCH_JSON_MAX_FILE_SIZE":    func(v int64) { c.JSON.MaxFileSize = v },
		"METASTITCH_TEXT_MAX_FILE_SIZE":    func(v int64) { c.Text.MaxFileSize = v },
		"METASTITCH_LOG_MAX_FILE_SIZE":     func(v int64) { c.Log.MaxFileSize = v },
		"METASTITCH_LOG_MAX_CONTINUATION":  func(v int64) { c.Log.MaxContinuationLines = int(v) },
		"METASTITCH_LOG_SAMPLE_LINES":      func(v int64) { c.Log.SampleLines = int(v) },
	}
}

// ApplyEnv overrides fields from METASTITCH_* variables. lookup is
// os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for name, set := range c.envInts() {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, name, v)
		}
		set(n)
	}
	if v, ok := lookup("METASTITCH_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("METASTITCH_LOG_FORMAT"); ok && v != "" {
		c.Logging.Format = v
	}
	return c.Validate()
}

// Validate rejects negative limits and unknown logging settings.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 0:
		return fmt.Errorf("%w: concurrency %d", ErrInvalidConfig, c.Concurrency)
	case c.ParseTimeoutSeconds < 0:
		return fmt.Errorf("%w: parse_timeout_seconds %d", ErrInvalidConfig, c.ParseTimeoutSeconds)
	case c.JSON.MaxDepth < 0, c.JSON.MaxFileSize < 0:
		return fmt.Errorf("%w: negative json limit", ErrInvalidConfig)
	case c.Text.MaxFileSize < 0:
		return fmt.Errorf("%w: negative text limit", ErrInvalidConfig)
	case c.Log.MaxFileSize < 0, c.Log.MaxContinuationLines < 0, c.Log.SampleLines < 0:
		return fmt.Errorf("%w: negative log limit", ErrInvalidConfig)
	}
	if _, err := c.Logging.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// ParseTimeout is the per-file budget, defaulting to 60 seconds.
func (c Config) ParseTimeout() time.Duration {
	if c.ParseTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.ParseTimeoutSeconds) * time.Second
}

// ParserConfig returns the parser knobs with the timestamp settings folded
// into the log parser.
func (c Config) ParserConfig() parser.Config {
	lc := c.Log
	if lc.ReferenceYear == 0 {
		lc.ReferenceYear = c.Timestamp.ReferenceYear
	}
	return parser.Config{JSON: c.JSON, Text: c.Text, Log: lc}
}

func (l LoggingConfig) level() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalidConfig, l.Level)
}

// NewLogger builds a slog.Logger writing to w in the configured format.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, _ := l.level()
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
