// Package logging provides zerolog-based structured logging for jiraview.
//
// Loggers are created once at startup and passed down explicitly or through
// the context. Background refresh goroutines always log through a component
// logger so their output can be filtered from the interactive surface.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	// Level is one of "trace", "debug", "info", "warn", "error". Empty means "info".
	Level string

	// Console enables human-readable console output instead of JSON.
	Console bool

	// Output overrides the destination. Defaults to stderr.
	Output io.Writer
}

// NewLogger builds the root logger for the process.
func NewLogger(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// ComponentLogger returns a child logger tagged with a component name.
func ComponentLogger(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// ParseLevel maps a level string to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithContext attaches the logger to the context.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromContext returns the logger stored in the context, or a disabled logger
// when none was attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
