// Package logging builds the structured zerolog.Logger docsyncd uses
// throughout, grounded on the teacher's
// ws/internal/shared/monitoring/logger.go.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// New creates a structured logger. level is one of debug/info/warn/error;
// format is json (default, Loki-compatible) or console (human-readable).
func New(level, format string) zerolog.Logger {
	var output io.Writer = os.Stdout
	if format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(parseLevel(level))

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "docsyncd").
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogPanic logs a recovered panic with a full stack trace. Intended for
// use in goroutine defer/recover blocks so a single hook panic (onUpdate,
// onMessage, ...) cannot take down the process.
func LogPanic(logger zerolog.Logger, panicValue any, msg string, fields map[string]any) {
	event := logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
