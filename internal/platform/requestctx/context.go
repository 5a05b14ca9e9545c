package requestctx

import (
	"context"

	"go.uber.org/zap"

	"github.com/wizesale/storefront/internal/domain"
)

type contextKey string

const (
	loggerContextKey  contextKey = "github.com/wizesale/storefront/internal/platform/requestctx/logger"
	traceContextKey   contextKey = "github.com/wizesale/storefront/internal/platform/requestctx/trace"
	storeContextKey   contextKey = "github.com/wizesale/storefront/internal/platform/requestctx/store"
	sessionContextKey contextKey = "github.com/wizesale/storefront/internal/platform/requestctx/session"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithStore attaches the resolved tenant to the context.
func WithStore(ctx context.Context, store domain.StoreContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, storeContextKey, store)
}

// Store returns the tenant resolved for the current request.
func Store(ctx context.Context) (domain.StoreContext, bool) {
	if ctx == nil {
		return domain.StoreContext{}, false
	}
	store, ok := ctx.Value(storeContextKey).(domain.StoreContext)
	if !ok || store.ID == 0 {
		return domain.StoreContext{}, false
	}
	return store, true
}

// StoreID returns the current tenant identifier or zero.
func StoreID(ctx context.Context) int64 {
	store, _ := Store(ctx)
	return store.ID
}

// WithSessionID attaches the browser session identifier to the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionContextKey, id)
}

// SessionID returns the browser session identifier or an empty string.
func SessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionContextKey).(string)
	return id
}
