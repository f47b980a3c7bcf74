// Package logger builds the process-wide slog logger and provides attribute
// helpers for the fields every monitoring log line carries.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// Format is json or text.
	Format string

	// Output defaults to os.Stderr so that stdout stays free for the CLI.
	Output io.Writer

	// AddSource adds file:line to each record.
	AddSource bool
}

// New builds a slog.Logger from options.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	hopts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, hopts)
	} else {
		handler = slog.NewTextHandler(out, hopts)
	}
	return slog.New(handler)
}

// Setup builds a logger and installs it as the slog default.
func Setup(opts Options) *slog.Logger {
	log := New(opts)
	slog.SetDefault(log)
	return log
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel parses a level name.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ATTRIBUTES
// ══════════════════════════════════════════════════════════════════════════════

// Component tags the subsystem that logged.
func Component(name string) slog.Attr { return slog.String("component", name) }

// Operation tags the operation in progress.
func Operation(name string) slog.Attr { return slog.String("op", name) }

// StudentID tags the student.
func StudentID(id string) slog.Attr { return slog.String("student_id", id) }

// ResourceID tags the resource.
func ResourceID(id string) slog.Attr { return slog.String("resource_id", id) }

// SessionID tags the monitoring session.
func SessionID(id string) slog.Attr { return slog.String("session_id", id) }

// Epoch tags the viewer epoch an async completion belongs to.
func Epoch(e uint64) slog.Attr { return slog.Uint64("epoch", e) }

// Latency tags how long something took.
func Latency(d time.Duration) slog.Attr { return slog.Duration("latency", d) }

// RequestID tags an outgoing HTTP request.
func RequestID(id string) slog.Attr { return slog.String("request_id", id) }

// Err tags an error. A nil error yields an empty attribute, which slog drops.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT PROPAGATION
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext stores log in ctx.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && log != nil {
		return log
	}
	return slog.Default()
}
