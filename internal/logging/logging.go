// Package logging provides leveled, structured logging for the service,
// backed by zerolog.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	LevelError = iota
	LevelInfo
	LevelWarn
	LevelDebug
)

const (
	FormatJSON = "json"
	FormatText = "text"
)

type Config struct {
	Level  int
	Format string
}

type Logger struct {
	logger zerolog.Logger
}

func NewLogger(config Config) *Logger {
	var out io.Writer = os.Stderr
	if config.Format == FormatText {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger().Level(zerologLevel(config.Level))
	return &Logger{logger: logger}
}

// NewNopLogger discards everything. Used as the default when no logger is
// configured.
func NewNopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithName returns a logger tagging every line with a component name.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", name).Logger()}
}

// WithOutput returns a logger writing to the given writer. Used by tests.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	return &Logger{logger: l.logger.Output(w)}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

func zerologLevel(level int) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.ErrorLevel
	}
}
