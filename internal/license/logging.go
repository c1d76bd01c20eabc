package license

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"licensegate/internal/infrastructure"
)

// logAction writes a structured log line and mirrors it as a span event
func logAction(ctx context.Context, logger *slog.Logger, level slog.Level, action, result string, attrs ...slog.Attr) {
	all := append([]slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}, attrs...)
	logger.LogAttrs(ctx, level, "license "+action, all...)

	infrastructure.AddSpanEvent(ctx, action,
		attribute.String("result", result),
		attribute.String("level", level.String()))
}

// MaskEmail hides the local part of an email for logs
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
