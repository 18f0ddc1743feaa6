// Package log provides structured logging utilities for poolclean.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger writing to stdout with the specified configuration
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a new logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	var handler slog.Handler

	logLevel := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "poolclean", "test", "error", "text")
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a logger with additional context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if runID := ctx.Value(runIDKey{}); runID != nil {
		logger = logger.With("run_id", runID)
	}

	return &Logger{
		Logger:  logger,
		service: l.service,
		version: l.version,
	}
}

type runIDKey struct{}

// ContextWithRunID attaches a cleanup run identifier for WithContext to pick up
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithTable returns a logger scoped to one LMDB table
func (l *Logger) WithTable(table string) *Logger {
	return l.WithFields("table", table)
}

// WithAddress returns a logger with an abbreviated miner address
func (l *Logger) WithAddress(address string) *Logger {
	return l.WithFields("address", Abbreviate(address))
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// Abbreviate shortens a wallet address to its first and last eight characters
func Abbreviate(address string) string {
	if len(address) <= 19 {
		return address
	}
	return address[:8] + "..." + address[len(address)-8:]
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration int64) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ns", duration,
		"duration_ms", float64(duration)/1e6,
	)
}

// LogTableResult logs the outcome of one table cleanup
func (l *Logger) LogTableResult(table string, scanned, deleted, skipped int, dryRun bool) {
	verb := "deleted"
	if dryRun {
		verb = "would_delete"
	}
	l.Info("table cleanup finished",
		"table", table,
		"scanned", scanned,
		verb, deleted,
		"skipped", skipped,
		"dry_run", dryRun,
	)
}

// LogSweepResult logs the outcome of a dust sweep
func (l *Logger) LogSweepResult(scanned, swept int, total string, poolWallet string, dryRun bool) {
	l.Info("dust sweep finished",
		"balances_scanned", scanned,
		"balances_swept", swept,
		"total_swept", total,
		"pool_wallet", Abbreviate(poolWallet),
		"dry_run", dryRun,
	)
}

// LogTableStats logs LMDB page statistics for a table
func (l *Logger) LogTableStats(table string, entries, branchPages, leafPages, overflowPages uint64) {
	l.Info("table statistics",
		"table", table,
		"entries", entries,
		"branch_pages", branchPages,
		"leaf_pages", leafPages,
		"overflow_pages", overflowPages,
	)
}
