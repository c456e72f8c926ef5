package logx

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type runIDContextKey struct{}

func IsUUIDv4(value string) bool {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return false
	}
	return parsed.Version() == 4
}

// NormalizeRunID keeps a caller supplied v4 UUID and replaces anything else.
// CloudFormation uses it as the client request token, so retries of the same
// run must reuse it.
func NormalizeRunID(value string) string {
	if IsUUIDv4(value) {
		return value
	}
	return uuid.NewString()
}

func WithRunID(ctx context.Context, runID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDContextKey{}, runID)
}

func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	runID, _ := ctx.Value(runIDContextKey{}).(string)
	return runID
}

// LoggerWithRunID tags base with the run ID carried by ctx, if any. A nil
// base means the default logger.
func LoggerWithRunID(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	runID := RunIDFromContext(ctx)
	if runID == "" {
		return base
	}
	return base.With("run_id", runID)
}
