// Package logging provides structured logging for the PayMesh core.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const (
	txnIDKey  contextKey = "txn_id"
	loggerKey contextKey = "logger"
)

// New creates a structured logger writing to stdout.
func New(level string, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// WithTransactionID adds a transaction ID to the context.
func WithTransactionID(ctx context.Context, txnID string) context.Context {
	return context.WithValue(ctx, txnIDKey, txnID)
}

// TransactionID extracts the transaction ID from context.
func TransactionID(ctx context.Context) string {
	if id, ok := ctx.Value(txnIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// L returns the context logger annotated with the in-flight transaction ID.
func L(ctx context.Context) *slog.Logger {
	logger := FromContext(ctx)
	if id := TransactionID(ctx); id != "" {
		return logger.With("txn_id", id)
	}
	return logger
}
