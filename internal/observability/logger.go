package observability

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/sheetqa/sheetqa/internal/config"
)

type ctxKey struct{}

// requestInfo is shared by every context derived from one request, so values
// recorded deep in a handler are visible to the logging middleware.
type requestInfo struct {
	mu      sync.Mutex
	traceID string
	userID  string
}

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	attrs := []any{
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("db_driver", string(cfg.Database.Driver)),
	}
	if cfg.Ingest.ArchiveEnabled {
		attrs = append(attrs, slog.String("archive_bucket", cfg.ObjectStore.Bucket))
	}
	return slog.New(handler).With(attrs...)
}

// LoggerWithTrace annotates logger with the request trace id and calling user
// when they are known.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	traceID, userID := requestValues(ctx)
	if traceID != "" {
		logger = logger.With(slog.String("trace_id", traceID))
	}
	if userID != "" {
		logger = logger.With(slog.String("user_id", userID))
	}
	return logger
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, &requestInfo{traceID: traceID})
}

func TraceIDFromContext(ctx context.Context) string {
	traceID, _ := requestValues(ctx)
	return traceID
}

// SetUserID records the calling user on the request carried by ctx. It
// returns ctx unchanged when the request is already tracked.
func SetUserID(ctx context.Context, userID string) context.Context {
	info, ok := ctx.Value(ctxKey{}).(*requestInfo)
	if !ok {
		return context.WithValue(ctx, ctxKey{}, &requestInfo{userID: userID})
	}
	info.mu.Lock()
	info.userID = userID
	info.mu.Unlock()
	return ctx
}

func UserIDFromContext(ctx context.Context) string {
	_, userID := requestValues(ctx)
	return userID
}

func requestValues(ctx context.Context) (traceID, userID string) {
	if ctx == nil {
		return "", ""
	}
	info, ok := ctx.Value(ctxKey{}).(*requestInfo)
	if !ok {
		return "", ""
	}
	info.mu.Lock()
	defer info.mu.Unlock()
	return info.traceID, info.userID
}
