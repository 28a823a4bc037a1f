// Package log wires the supervisor's diagnostic output through zerolog.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger instance, configured once by Init.
var Logger zerolog.Logger

// Level is the supervisor's own notion of log threshold; it is also the
// value mutated by the set/get-log-mask IPC verb.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds the logging setup chosen at daemon startup.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the global Logger. Safe to call once at startup; later
// threshold changes go through SetLevel so the set-log-mask verb doesn't
// need to rebuild the writer.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(zerologLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

func zerologLevel(l Level) zerolog.Level {
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

// SetLevel adjusts the global logging threshold in place; this backs the
// set-log-mask IPC verb (spec §4.4).
func SetLevel(l Level) {
	zerolog.SetGlobalLevel(zerologLevel(l))
}

// CurrentLevel reports the active threshold; this backs get-log-mask.
func CurrentLevel() Level {
	switch zerolog.GlobalLevel() {
	case zerolog.DebugLevel:
		return DebugLevel
	case zerolog.WarnLevel:
		return WarnLevel
	case zerolog.ErrorLevel:
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// WithComponent creates a child logger tagging every event with the
// emitting component's name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithLabel creates a child logger tagging every event with a job label.
func WithLabel(logger zerolog.Logger, label string) zerolog.Logger {
	return logger.With().Str("label", label).Logger()
}

// WithPID creates a child logger tagging every event with a child pid.
func WithPID(logger zerolog.Logger, pid int) zerolog.Logger {
	return logger.With().Int("pid", pid).Logger()
}
