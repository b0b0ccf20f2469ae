// Package logging configures the process-global zerolog logger and
// hands out per-component child loggers (reactor, checkengine, pool,
// sweeper, coordinator) carrying a "component" field.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is the process-wide minimum severity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Format selects console (human-readable, colorized) or JSON output.
type Format string

const (
	ConsoleFormat Format = "console"
	JSONFormat    Format = "json"
)

// Logger is the process-global base logger. Use WithComponent to
// derive a labeled child rather than logging through this directly.
var Logger zerolog.Logger

// Init configures the global logger. Call once at startup before any
// component logger is derived.
func Init(level Level, format Format) {
	zerolog.SetGlobalLevel(parseLevel(level))

	if format == JSONFormat {
		Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent derives a child logger tagging every entry with
// component.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
