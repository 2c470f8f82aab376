package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a structured text logger writing to stderr.
// app: application name (e.g., "ariaflow")
// level: one of "debug", "info", "warn", "error" (default: "info")
func New(app string, level string) *slog.Logger {
	return NewWithWriter(os.Stderr, app, level)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, app string, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	handler := slog.NewTextHandler(w, opts)
	logger := slog.New(handler)

	return logger.With(
		slog.String("app", app),
		slog.Int("pid", os.Getpid()),
	)
}

// Discard returns a logger that drops everything. Used when a component is
// constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// LevelFor maps the CLI verbosity flag onto a level name.
func LevelFor(verbose bool, configured string) string {
	if verbose {
		return "debug"
	}
	if configured == "" {
		return "info"
	}
	return configured
}

// ParseLevel converts a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
