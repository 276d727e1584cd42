// Package logger configures the zerolog logger shared by every component.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	// Level is a zerolog level name: "debug", "info", "warn", "error".
	Level string
	// Pretty enables a human-readable console writer instead of JSON.
	Pretty bool
}

// New builds a zerolog.Logger per cfg, with timestamp and caller fields
// attached to every event.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output = os.Stdout
	var writer zerolog.ConsoleWriter

	if cfg.Pretty {
		writer = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
		return zerolog.New(writer).With().Timestamp().Caller().Logger()
	}

	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

// SetGlobalLogger installs l as the zerolog global logger, used by packages
// that log through the package-level zerolog.Ctx/zerolog logger rather than
// holding their own instance.
func SetGlobalLogger(l zerolog.Logger) {
	zerolog.DefaultContextLogger = &l
}
