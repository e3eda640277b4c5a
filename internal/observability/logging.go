package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/verdict/internal/contextkeys"
)

// ParseLevel maps a config level name to a slog.Level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", level)
	}
}

// NewJSONHandler creates a JSON handler writing to w at level.
func NewJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// NewTextHandler creates a text handler writing to w at level.
func NewTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// NewTracedLogger wraps handler so every record carries the run, finding
// and role from the context, the active trace and span IDs, and has
// sensitive attributes redacted at info level and above.
func NewTracedLogger(handler slog.Handler) *slog.Logger {
	return slog.New(&tracedHandler{next: handler})
}

// NewLogger builds the process logger from cfg. The returned closer releases
// a log file; it is a no-op for stdout and stderr.
func NewLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level, _ := ParseLevel(cfg.Level)

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	}

	var h slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		h = NewTextHandler(w, level)
	} else {
		h = NewJSONHandler(w, level)
	}
	return NewTracedLogger(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// tracedHandler decorates records with context correlation fields.
type tracedHandler struct {
	next slog.Handler
}

func (h *tracedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *tracedHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	redact := r.Level >= slog.LevelInfo
	seen := make(map[string]bool, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		if redact && isSensitive(a.Key) {
			a = slog.String(a.Key, "[REDACTED]")
		}
		seen[a.Key] = true
		out.AddAttrs(a)
		return true
	})

	addFromContext := func(key, value string) {
		if value != "" && !seen[key] {
			out.AddAttrs(slog.String(key, value))
		}
	}
	addFromContext("run_id", contextkeys.GetRunID(ctx))
	addFromContext("finding_id", contextkeys.GetFindingID(ctx))
	addFromContext("role", contextkeys.GetRole(ctx))
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		out.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, out)
}

func (h *tracedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		if isSensitive(a.Key) {
			a = slog.String(a.Key, "[REDACTED]")
		}
		clean[i] = a
	}
	return &tracedHandler{next: h.next.WithAttrs(clean)}
}

func (h *tracedHandler) WithGroup(name string) slog.Handler {
	return &tracedHandler{next: h.next.WithGroup(name)}
}

var sensitiveFields = map[string]bool{
	"prompt":     true,
	"prompts":    true,
	"apikey":     true,
	"secret":     true,
	"password":   true,
	"token":      true,
	"credential": true,
	"secretkey":  true,
}

func isSensitive(key string) bool {
	return sensitiveFields[strings.ToLower(strings.ReplaceAll(key, "_", ""))]
}
