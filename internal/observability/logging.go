// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is used by workers and services. Request access logs go
// through middleware.Logger instead.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// SetGlobalLogger replaces the worker logger, e.g. to share the request logger's handler.
func SetGlobalLogger(l *slog.Logger) {
	if l != nil {
		GlobalLogger = &Logger{Logger: l}
	}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// CorrelationID carries the id that ties a job back to the request that enqueued it.
const CorrelationID LogContextKey = "correlation_id"

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

func jobAttrs(ctx context.Context, kind, jobID string, attempt int, fields map[string]interface{}) []any {
	attrs := []any{
		slog.String("job_kind", kind),
		slog.String("job_id", jobID),
		slog.Int("attempt", attempt),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// LogJobStart logs the start of a job attempt at debug level.
func LogJobStart(ctx context.Context, kind, jobID string, attempt int, fields map[string]interface{}) {
	GlobalLogger.DebugContext(ctx, "job started", jobAttrs(ctx, kind, jobID, attempt, fields)...)
}

// LogJobEnd logs a successful job attempt.
func LogJobEnd(ctx context.Context, kind, jobID string, attempt int, fields map[string]interface{}) {
	GlobalLogger.InfoContext(ctx, "job completed", jobAttrs(ctx, kind, jobID, attempt, fields)...)
}

// LogJobRetry logs a failed attempt that will be retried.
func LogJobRetry(ctx context.Context, kind, jobID string, attempt int, err error, fields map[string]interface{}) {
	attrs := append(jobAttrs(ctx, kind, jobID, attempt, fields), slog.String("error", err.Error()))
	GlobalLogger.WarnContext(ctx, "job failed, retry scheduled", attrs...)
}

// LogJobDeadLetter logs a job that was set aside for manual inspection.
// This is the operational alert for eventual-sync failures.
func LogJobDeadLetter(ctx context.Context, kind, jobID string, attempt int, err error, fields map[string]interface{}) {
	attrs := append(jobAttrs(ctx, kind, jobID, attempt, fields), slog.String("error", err.Error()))
	GlobalLogger.ErrorContext(ctx, "job dead-lettered", attrs...)
}

// LogAsyncOperationError logs an error in an asynchronous operation that is not a job.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.ErrorContext(ctx, "async operation failed", attrs...)
}
