package rpcbench

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// runIDKey is the context key for the benchmark run ID
type runIDKey struct{}

// Logger wraps slog.Logger with run ID support
type Logger struct {
	*slog.Logger
	traceEnabled bool
}

// NewLogger creates a logger writing to stderr, keeping stdout free for
// reports.
func NewLogger(cfg LoggingConfig) *Logger {
	return newLogger(os.Stderr, cfg)
}

// NewDiscardLogger returns a logger that drops every record.
func NewDiscardLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

func newLogger(w io.Writer, cfg LoggingConfig) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Level),
	}

	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger:       slog.New(handler),
		traceEnabled: cfg.TraceEnabled,
	}
}

// WithRunID attaches a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom retrieves the run ID from the context.
func RunIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

func (l *Logger) withRunID(ctx context.Context, args []any) []any {
	if l.traceEnabled {
		if id, ok := RunIDFrom(ctx); ok {
			return append([]any{"run_id", id}, args...)
		}
	}
	return args
}

// InfoContext logs an info message with the run ID if enabled
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Logger.InfoContext(ctx, msg, l.withRunID(ctx, args)...)
}

// ErrorContext logs an error message with the run ID if enabled
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.Logger.ErrorContext(ctx, msg, l.withRunID(ctx, args)...)
}

// DebugContext logs a debug message with the run ID if enabled
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Logger.DebugContext(ctx, msg, l.withRunID(ctx, args)...)
}

// WarnContext logs a warning message with the run ID if enabled
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Logger.WarnContext(ctx, msg, l.withRunID(ctx, args)...)
}

// WithFramework returns a logger with the framework name attached
func (l *Logger) WithFramework(name string) *Logger {
	return &Logger{
		Logger:       l.Logger.With("framework", name),
		traceEnabled: l.traceEnabled,
	}
}

// WithScenario returns a logger with the scenario name attached
func (l *Logger) WithScenario(name string) *Logger {
	return &Logger{
		Logger:       l.Logger.With("scenario", name),
		traceEnabled: l.traceEnabled,
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
