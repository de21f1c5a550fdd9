package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// BadgerLogger adapts zerolog to badger.Logger. Badger is chatty at info
// level, so info and debug lines are demoted to debug and trace.
type BadgerLogger struct {
	zlog zerolog.Logger
}

// NewBadgerLogger wraps l, tagging every line with component=badger.
func NewBadgerLogger(l zerolog.Logger) *BadgerLogger {
	return &BadgerLogger{zlog: l.With().Str("component", "badger").Logger()}
}

func (b *BadgerLogger) Errorf(format string, args ...any) {
	b.zlog.Error().Msgf(trim(format), args...)
}

func (b *BadgerLogger) Warningf(format string, args ...any) {
	b.zlog.Warn().Msgf(trim(format), args...)
}

func (b *BadgerLogger) Infof(format string, args ...any) {
	b.zlog.Debug().Msgf(trim(format), args...)
}

func (b *BadgerLogger) Debugf(format string, args ...any) {
	b.zlog.Trace().Msgf(trim(format), args...)
}

// badger terminates its format strings with a newline
func trim(format string) string {
	return strings.TrimRight(format, "\n")
}
