package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/querybridge/querybridge/internal/config"
)

type ctxKey string

const (
	traceIDKey ctxKey = "trace_id"
	queryIDKey ctxKey = "query_id"
)

const redacted = "***"

// sensitiveKeys are attribute names whose values never reach a log sink.
var sensitiveKeys = []string{"secret", "password", "passwd", "api_key", "token"}

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{
		Level:       cfg.Observability.LogLevel,
		ReplaceAttr: redactSensitive,
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func redactSensitive(_ []string, attr slog.Attr) slog.Attr {
	key := strings.ToLower(attr.Key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(key, sensitive) {
			return slog.String(attr.Key, redacted)
		}
	}
	return attr
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func ContextWithQueryID(ctx context.Context, queryID string) context.Context {
	return context.WithValue(ctx, queryIDKey, queryID)
}

func QueryIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(queryIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// RequestAttrs returns the correlation attributes carried by ctx.
func RequestAttrs(ctx context.Context) []any {
	attrs := []any{slog.String("trace_id", TraceIDFromContext(ctx))}
	if queryID := QueryIDFromContext(ctx); queryID != "" {
		attrs = append(attrs, slog.String("query_id", queryID))
	}
	return attrs
}
