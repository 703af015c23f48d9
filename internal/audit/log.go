// Package audit emits structured audit events for security-relevant
// operations: logins, role changes, token issuance and the like.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/obs"
)

type ctxKey struct{}

// logger is swappable by tests.
var logger *slog.Logger

func log() *slog.Logger {
	if logger != nil {
		return logger
	}
	return obs.Component("audit")
}

// WithRequestID attaches the request identifier to the context so audit
// events can be correlated with access logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFromContext returns the attached request identifier, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// Event writes one audit entry enriched with the request id and acting
// principal when the context carries them.
func Event(ctx context.Context, event string, attrs ...any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	fields := []any{"type", "audit", "event", event}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, "request_id", rid)
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok && principal.User != nil {
		fields = append(fields, "actor_id", principal.User.PublicID)
	}
	fields = append(fields, attrs...)
	log().LogAttrs(ctx, slog.LevelInfo, event, argsToAttrs(fields)...)
	return nil
}

func argsToAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}
