package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"

	"github.com/querychat/querychat/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

const redacted = "[REDACTED]"

// NewLogger returns a JSON logger when LogJSON is set and a tint text logger
// otherwise. Credential-looking attributes are masked in both.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level:       cfg.Observability.LogLevel,
			ReplaceAttr: redactSecrets,
		})
	} else {
		handler = tint.NewHandler(writer, &tint.Options{
			Level:       cfg.Observability.LogLevel,
			TimeFormat:  "15:04:05.000",
			ReplaceAttr: redactSecrets,
		})
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func redactSecrets(_ []string, attr slog.Attr) slog.Attr {
	if isSecretKey(attr.Key) && attr.Value.Kind() == slog.KindString && attr.Value.String() != "" {
		return slog.String(attr.Key, redacted)
	}
	return attr
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	switch key {
	case "password", "api_key", "gpt_api_key", "secret", "secret_key", "token":
		return true
	}
	return strings.HasSuffix(key, "_password") || strings.HasSuffix(key, "_api_key")
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
