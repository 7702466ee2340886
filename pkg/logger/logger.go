package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	userIDKey        contextKey = "user_id"
	loggerKey        contextKey = "logger"
)

// Format selects how records are encoded.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Option adjusts New.
type Option func(*settings)

type settings struct {
	w      io.Writer
	format Format
}

// WithWriter sends records to w instead of stderr.
func WithWriter(w io.Writer) Option {
	return func(s *settings) { s.w = w }
}

// WithFormat picks the encoding; unknown names fall back to JSON.
func WithFormat(f string) Option {
	return func(s *settings) {
		if Format(strings.ToLower(f)) == FormatText {
			s.format = FormatText
		}
	}
}

// New creates a structured logger tagged with component. Records go to
// stderr by default so command output on stdout stays machine-readable.
func New(component, level string, opts ...Option) *slog.Logger {
	s := settings{w: os.Stderr, format: FormatJSON}
	for _, opt := range opts {
		opt(&s)
	}

	lvl := ParseLevel(level)
	ho := &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug}

	var h slog.Handler
	if s.format == FormatText {
		ho.ReplaceAttr = dropTime
		h = slog.NewTextHandler(s.w, ho)
	} else {
		h = slog.NewJSONHandler(s.w, ho)
	}
	return slog.New(h).With(slog.String("component", component))
}

// NewWithWriter is New with a JSON encoder writing to w.
func NewWithWriter(component, level string, w io.Writer) *slog.Logger {
	return New(component, level, WithWriter(w))
}

// dropTime removes the top-level timestamp from text records.
func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps a level name to a slog level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCorrelationID returns a new context with the correlation ID set.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation ID from the context.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID returns a new context with the user ID set for logging.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext extracts the user ID stored by the logger package from context.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// NewContext returns a new context with the given logger stored in it.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the request-scoped logger stored in context.
// Returns slog.Default() if no logger is stored.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithContext returns a logger with context-derived fields (correlation_id, user_id, trace_id, span_id).
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id := CorrelationIDFromContext(ctx); id != "" {
		l = l.With(slog.String("correlation_id", id))
	}

	if id := UserIDFromContext(ctx); id != "" {
		l = l.With(slog.String("user_id", id))
	}

	if spanCtx := trace.SpanFromContext(ctx).SpanContext(); spanCtx.IsValid() {
		l = l.With(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	return l
}
