package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var base = newLogger(os.Stderr, "console", levelFromString(os.Getenv("LOG_LEVEL")))

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// Init replaces the process logger. format is "console" or "json".
func Init(level, format string) {
	base = newLogger(os.Stderr, format, levelFromString(level))
}

// SetOutput redirects the logger, keeping the level. Used by tests.
func SetOutput(w io.Writer) {
	base = base.Output(w)
}

func newLogger(w io.Writer, format string, lvl zerolog.Level) zerolog.Logger {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

func levelFromString(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO", "":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger carrying the given component name.
func With(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

func Debug(format string, args ...interface{}) {
	base.Debug().Msgf(format, args...)
}

func Info(format string, args ...interface{}) {
	base.Info().Msgf(format, args...)
}

func Warn(format string, args ...interface{}) {
	base.Warn().Msgf(format, args...)
}

func Error(format string, args ...interface{}) {
	base.Error().Msgf(format, args...)
}
