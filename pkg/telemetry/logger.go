package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process logger. The With* methods return children and never
// modify the receiver.
type Logger struct {
	zl zerolog.Logger
}

type loggerKey struct{}

// NewLogger builds a logger writing to cfg.Output: "stdout", "stderr" or a
// file path opened for appending.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	w, err := openOutput(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}
	return NewLoggerWithWriter(cfg, w), nil
}

func openOutput(name string) (io.Writer, error) {
	switch name {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// NewLoggerWithWriter builds a logger writing to w.
func NewLoggerWithWriter(cfg LoggingConfig, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = timeFieldFormat(cfg.TimeFormat)
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zc := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		zc = zc.Caller()
	}
	return &Logger{zl: zc.Logger()}
}

func timeFieldFormat(name string) string {
	switch name {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	}
	return time.RFC3339
}

// ParseLevel maps a level name to a zerolog level. Empty and unknown names
// are info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// Zerolog returns the underlying logger, which is what the engine, the
// executors and the evaluator take.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zl: fn(l.zl.With()).Logger()}
}

// NewComponentLogger tags every entry with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

// WithField adds one field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithRunID tags every entry with an evaluation run ID.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("run_id", runID) })
}

// WithError attaches err.
func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

// WithContext stores l in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or one that discards
// everything.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }

func (l *Logger) Info(msg string) { l.zl.Info().Msg(msg) }

func (l *Logger) Infof(format string, args ...interface{}) { l.zl.Info().Msgf(format, args...) }

func (l *Logger) Warn(msg string) { l.zl.Warn().Msg(msg) }

func (l *Logger) Error(msg string) { l.zl.Error().Msg(msg) }
