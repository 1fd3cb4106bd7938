// Package corelog provides the leveled, structured logger used across the
// build and run paths. It wraps logrus the way go-synth/log wrapped a set
// of hand-rolled log files, but collapses that to a single sink since
// pop-core has no worker pool generating per-category output.
package corelog

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// EnvVar is the environment variable pop-core reads its log level from,
// analogous in spirit to a RUST_LOG bare level name (spec.md §6).
const EnvVar = "POP_CORE_LOG"

// DefaultLevel is used whenever EnvVar is unset or unparseable.
const DefaultLevel = logrus.InfoLevel

// Logger is the handle passed to every component. It is a thin facade
// over *logrus.Entry so call sites can attach component/layer/phase
// fields without repeating them.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger from a bare level name ("debug", "info", "warn",
// "error", "trace"). An empty levelSpec uses DefaultLevel; an
// unrecognized one falls back to DefaultLevel and logs a warning rather
// than failing startup.
func New(levelSpec string) *Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := DefaultLevel
	if levelSpec != "" {
		if parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(levelSpec))); err == nil {
			level = parsed
		} else {
			l.SetLevel(DefaultLevel)
			l.WithField("value", levelSpec).Warn("unrecognized log level, defaulting to info")
		}
	}
	l.SetLevel(level)

	return &Logger{entry: logrus.NewEntry(l)}
}

// FromEnv builds a Logger using EnvVar, defaulting to DefaultLevel.
func FromEnv() *Logger {
	return New(os.Getenv(EnvVar))
}

// Discard returns a Logger that writes nowhere, for tests — grounded on
// go-synth/log/testing.go's NoOpLogger.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(l)}
}

// With returns a Logger carrying an additional structured field.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// Component is shorthand for With("component", name).
func (l *Logger) Component(name string) *Logger { return l.With("component", name) }

// Layer is shorthand for With("layer", name).
func (l *Logger) Layer(name string) *Logger { return l.With("layer", name) }

// Phase is shorthand for With("phase", name).
func (l *Logger) Phase(name string) *Logger { return l.With("phase", name) }

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
