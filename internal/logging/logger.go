// Package logging is a thin, chainable convenience layer over
// github.com/rs/zerolog. It keeps the teacher's WithComponent/WithField
// builder idiom (internal/logging/logger.go in the teacher repo) but backs
// it with zerolog instead of a hand-rolled level/writer implementation,
// since zerolog is already a direct dependency used elsewhere in the
// teacher's stack (internal/orders, internal/autopilot).
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the chainable helpers callers expect.
type Logger struct {
	z zerolog.Logger
}

var (
	once       sync.Once
	defaultLog Logger
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Init configures the process-wide default logger. Safe to call once at
// startup; subsequent calls are no-ops, matching the teacher's sync.Once
// singleton pattern.
func Init(level zerolog.Level, format Format) {
	once.Do(func() {
		var w io.Writer = os.Stdout
		if format == FormatConsole {
			w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}
		zerolog.SetGlobalLevel(level)
		defaultLog = Logger{z: zerolog.New(w).With().Timestamp().Logger()}
	})
}

// Default returns the process-wide logger, initializing it with sane
// defaults if Init was never called.
func Default() Logger {
	Init(zerolog.InfoLevel, FormatJSON)
	return defaultLog
}

// WithComponent scopes the logger to a named component (e.g. "detector",
// "scanner", "store").
func (l Logger) WithComponent(name string) Logger {
	return Logger{z: l.z.With().Str("component", name).Logger()}
}

// WithInstrument scopes the logger to one instrument symbol.
func (l Logger) WithInstrument(instrument string) Logger {
	return Logger{z: l.z.With().Str("instrument", instrument).Logger()}
}

// WithScanID scopes the logger to one scan tick.
func (l Logger) WithScanID(scanID string) Logger {
	return Logger{z: l.z.With().Str("scan_id", scanID).Logger()}
}

// WithField attaches one arbitrary field.
func (l Logger) WithField(key string, value interface{}) Logger {
	return Logger{z: l.z.With().Interface(key, value).Logger()}
}

// WithFields attaches several arbitrary fields.
func (l Logger) WithFields(fields map[string]interface{}) Logger {
	ctx := l.z.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return Logger{z: ctx.Logger()}
}

// WithError attaches an error field.
func (l Logger) WithError(err error) Logger {
	return Logger{z: l.z.With().Err(err).Logger()}
}

// WithDuration attaches a duration field in milliseconds.
func (l Logger) WithDuration(d time.Duration) Logger {
	return Logger{z: l.z.With().Dur("duration_ms", d).Logger()}
}

func (l Logger) Debug(msg string) { l.z.Debug().Msg(msg) }
func (l Logger) Info(msg string)  { l.z.Info().Msg(msg) }
func (l Logger) Warn(msg string)  { l.z.Warn().Msg(msg) }
func (l Logger) Error(msg string) { l.z.Error().Msg(msg) }

// Fatal logs at fatal level then exits the process, matching zerolog's own
// Fatal semantics. Reserved for unrecoverable startup failures.
func (l Logger) Fatal(msg string) { l.z.Fatal().Msg(msg) }
