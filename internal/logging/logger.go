// Package logging provides structured logging with trace/task id propagation,
// wrapping logrus the way the rest of the fleet does.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey namespaces values stored on a context.Context.
type ContextKey string

const (
	TraceIDKey   ContextKey = "trace_id"
	TaskIDKey    ContextKey = "task_id"
	PrincipalKey ContextKey = "principal"
)

// Logger wraps logrus.Logger with Scotty-specific field helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a Logger for the named component at the given level/format.
func New(component, level, format string) *Logger {
	l := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewFromEnv reads LOG_LEVEL/LOG_FORMAT, defaulting to info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext returns an entry enriched with trace/task/principal fields
// carried on ctx, if present.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(TaskIDKey); v != nil {
		entry = entry.WithField("task_id", v)
	}
	if v := ctx.Value(PrincipalKey); v != nil {
		entry = entry.WithField("principal", v)
	}
	return entry
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TaskIDKey, id)
}

func WithPrincipal(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, PrincipalKey, id)
}
