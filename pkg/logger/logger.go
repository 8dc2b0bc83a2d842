// Package logger wraps logrus with the defaults shared by every agentbank
// component.
package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/agentbank/internal/logging"
)

// LoggingConfig controls how log entries are rendered and where they go.
type LoggingConfig struct {
	Level      string
	Format     string // "json" | "text"
	Output     string // "stdout" | "stderr" | "file"
	FilePrefix string
}

// Logger is a logrus logger bound to a component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from configuration. Unknown levels fall back to info.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	base.SetOutput(openOutput(cfg))
	return &Logger{Logger: base, component: "agentbank"}
}

// NewDefault returns a JSON info-level logger writing to stdout for the named
// component.
func NewDefault(component string) *Logger {
	l := New(LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
	l.component = component
	return l
}

// WithComponent returns a logger sharing the same sink but reporting a
// different component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger, component: component}
}

// Component returns the component name attached to every entry.
func (l *Logger) Component() string {
	return l.component
}

// WithField starts an entry carrying the component and one extra field.
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.entry().WithField(key, value)
}

// WithFields starts an entry carrying the component and the given fields.
func (l *Logger) WithFields(fields map[string]any) *logrus.Entry {
	return l.entry().WithFields(logrus.Fields(fields))
}

// WithError starts an entry carrying the component and the error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry().WithError(err)
}

// WithContext attaches the request actor and trace id stored in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.entry().WithContext(ctx)
	if actor := logging.ActorID(ctx); actor != "" {
		entry = entry.WithField("actor_id", actor)
	}
	if role := logging.ActorRole(ctx); role != "" {
		entry = entry.WithField("actor_role", role)
	}
	if trace := logging.TraceID(ctx); trace != "" {
		entry = entry.WithField("trace_id", trace)
	}
	return entry
}

func (l *Logger) entry() *logrus.Entry {
	return logrus.NewEntry(l.Logger).WithField("component", l.component)
}

func openOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "agentbank"
		}
		name := filepath.Clean(prefix + "-" + time.Now().UTC().Format("20060102") + ".log")
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}
