package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup initializes the global zerolog level and returns the root logger.
//   - level: trace, debug, info, warn, error, fatal, panic (unknown falls back to info)
//   - format: "pretty" for console output, anything else for JSON lines
//
// Every entry carries the service name so mixed log streams stay attributable.
func Setup(level, format, service string) zerolog.Logger {
	return New(os.Stdout, level, format, service)
}

// New is Setup with an explicit writer.
func New(out io.Writer, level, format, service string) zerolog.Logger {
	writer := out
	if format == "pretty" {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.DurationFieldUnit = time.Millisecond

	return zerolog.New(writer).
		With().
		Timestamp().
		Str("service", service).
		Caller().
		Logger()
}
