// Package logging builds the zerolog loggers used across flowkeeper.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, encoding and destination.
type Config struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string
	// Format is "json" or "console".
	Format string
	// Output is "stdout", "stderr" or "file".
	Output string
	// FilePath is used when Output is "file".
	FilePath string
	// TimeFormat is "rfc3339", "unix" or "iso8601".
	TimeFormat string
}

// DefaultConfig logs info and above as console text to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", Output: "stderr", TimeFormat: "rfc3339"}
}

// New builds a logger from cfg. The returned closer releases a log file and
// is a no-op for the standard streams.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("invalid log level '%s': %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	switch strings.ToLower(cfg.TimeFormat) {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "iso8601":
		zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}

	var output io.Writer
	var closer io.Closer = nopCloser{}
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.FilePath == "" {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("log output 'file' needs a file path")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to open log file '%s': %w", cfg.FilePath, err)
		}
		output, closer = file, file
	default:
		output = os.Stderr
	}

	if strings.ToLower(cfg.Format) == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

// NewWriter builds a JSON logger writing to w. Used by tests that inspect
// log output.
func NewWriter(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
