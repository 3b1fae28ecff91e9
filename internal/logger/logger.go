// Package logger provides structured logging on zerolog.
// It sets up a JSON logger with service-level context and provides
// trace ID propagation through context.Context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init creates a structured logger for the given service writing JSON to stdout
// and installs it as the zerolog global logger. Unknown levels fall back to info.
func Init(service, level string) zerolog.Logger {
	return New(os.Stdout, service, level)
}

// New is Init with an explicit writer.
func New(w io.Writer, service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", service).
		Logger()

	log.Logger = logger
	return logger
}

// Component returns a child logger tagged with a component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// NewTraceID returns a fresh random trace ID.
func NewTraceID() string {
	return uuid.NewString()
}

// Ctx returns base enriched with the trace ID from ctx, if any.
func Ctx(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	tid := TraceID(ctx)
	if tid == "" {
		return base
	}
	return base.With().Str("trace_id", tid).Logger()
}
