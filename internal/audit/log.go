// Package audit writes security-relevant actions (sign-ins, grant changes,
// status transitions) to the structured log with request and caller context.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"campushub.org/internal/auth"
	"campushub.org/internal/obs"
)

type ctxKey struct{}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, attrs ...slog.Attr) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	all := make([]slog.Attr, 0, len(attrs)+4)
	all = append(all,
		slog.String("type", "audit"),
		slog.String("event", event),
	)
	if rid := RequestIDFromContext(ctx); rid != "" {
		all = append(all, slog.String("request_id", rid))
	}
	if u, ok := auth.UserFromContext(ctx); ok {
		all = append(all, slog.String("user_id", u.ID), slog.String("role", string(u.Role)))
	}
	if len(attrs) > 0 {
		args := make([]any, len(attrs))
		for i, a := range attrs {
			args[i] = a
		}
		all = append(all, slog.Group("fields", args...))
	}
	obs.Logger().LogAttrs(ctx, slog.LevelInfo, "audit", all...)
	return nil
}
