package karakuri

import (
	"context"
	"log/slog"
)

type ctxLoggerKey struct{}

var defaultLogger = slog.New(slog.DiscardHandler)

func ctxWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return defaultLogger
}

type ctxTaskIDKey struct{}

func ctxWithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, ctxTaskIDKey{}, taskID)
}

// TaskIDFromContext returns the task ID of the running loop, or an empty
// string outside of task execution. Tools can use it to tag external effects.
func TaskIDFromContext(ctx context.Context) string {
	if taskID, ok := ctx.Value(ctxTaskIDKey{}).(string); ok {
		return taskID
	}
	return ""
}
