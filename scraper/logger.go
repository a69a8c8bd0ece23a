package scraper

import (
	"fmt"

	"github.com/rs/zerolog"
)

type Logger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Blob(key string, value []byte)
}

type ZeroLogger struct {
	Logger       zerolog.Logger
	MaybeLogBlob func(key string, value []byte)
}

func NewZeroLogger(logger zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{
		Logger:       logger,
		MaybeLogBlob: nil,
	}
}

func (l *ZeroLogger) Info(format string, args ...any) {
	l.Logger.Info().Timestamp().Msgf(format, args...)
}

func (l *ZeroLogger) Warn(format string, args ...any) {
	l.Logger.Warn().Timestamp().Msgf(format, args...)
}

func (l *ZeroLogger) Error(format string, args ...any) {
	l.Logger.Error().Timestamp().Msgf(format, args...)
}

func (l *ZeroLogger) Blob(key string, value []byte) {
	if l.MaybeLogBlob != nil {
		l.MaybeLogBlob(key, value)
	} else {
		l.Logger.Debug().Timestamp().Msgf("logging a blob skipped: %s (%d bytes)", key, len(value))
	}
}

type DummyLogger struct {
	entries []logEntry
}

type logLevel int

const (
	logLevelInfo logLevel = iota
	logLevelWarn
	logLevelError
)

type logEntry struct {
	Level   logLevel
	Message string
}

func NewDummyLogger() *DummyLogger {
	return &DummyLogger{
		entries: nil,
	}
}

func (d *DummyLogger) Info(format string, args ...any) {
	d.log(logLevelInfo, format, args...)
}

func (d *DummyLogger) Warn(format string, args ...any) {
	d.log(logLevelWarn, format, args...)
}

func (d *DummyLogger) Error(format string, args ...any) {
	d.log(logLevelError, format, args...)
}

func (d *DummyLogger) Blob(key string, value []byte) {
	d.log(logLevelInfo, "logging a blob skipped: %s (%d bytes)", key, len(value))
}

func (d *DummyLogger) log(level logLevel, format string, args ...any) {
	d.entries = append(d.entries, logEntry{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
}

// Warnings returns everything logged at warn level or above, tests assert on it.
func (d *DummyLogger) Warnings() []string {
	var result []string
	for _, entry := range d.entries {
		if entry.Level >= logLevelWarn {
			result = append(result, entry.Message)
		}
	}
	return result
}

func (d *DummyLogger) Replay(logger zerolog.Logger) {
	for _, entry := range d.entries {
		var event *zerolog.Event
		switch entry.Level {
		case logLevelInfo:
			event = logger.Info()
		case logLevelWarn:
			event = logger.Warn()
		case logLevelError:
			event = logger.Error()
		default:
			panic(fmt.Errorf("Unknown log level: %d", entry.Level))
		}
		event.Bool("replay", true).Msg(entry.Message)
	}
}
