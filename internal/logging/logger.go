// Package logging builds the zerolog logger shared by all svcboot commands.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AppName is attached to every log line as the "app" field.
const AppName = "svcboot"

// Format selects the log encoding.
type Format string

const (
	// FormatJSON writes one JSON object per line. This is the default
	// because container platforms ingest stdout line by line.
	FormatJSON Format = "json"

	// FormatConsole writes human-readable, colorized lines.
	FormatConsole Format = "console"
)

// ParseLevel maps a level name to a zerolog level. Unknown names fall
// back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger writing to w and installs it as the global
// zerolog logger.
func New(w io.Writer, level string, format Format) zerolog.Logger {
	out := w
	if format == FormatConsole {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	logger := zerolog.New(out).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("app", AppName).
		Logger()
	log.Logger = logger
	return logger
}
