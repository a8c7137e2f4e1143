// Package ctxutil provides context utilities that can be safely imported anywhere.
// This package has no internal dependencies to avoid import cycles.
package ctxutil

import (
	"context"
	"log/slog"
)

// ActorKey is the context key for actor ID.
type ActorKey struct{}

// OperationKey is the context key for the operation ID of a multi-step call.
type OperationKey struct{}

// WithActorID returns a context with the actor ID embedded.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorKey{}, actorID)
}

// ActorFromContext returns the actor ID from context, or empty string if not set.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ActorKey{}).(string); ok {
		return v
	}
	return ""
}

// WithOperationID returns a context tagged with an operation ID so log lines
// from nested calls can be correlated.
func WithOperationID(ctx context.Context, operationID string) context.Context {
	return context.WithValue(ctx, OperationKey{}, operationID)
}

// OperationFromContext returns the operation ID, or empty string if not set.
func OperationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(OperationKey{}).(string); ok {
		return v
	}
	return ""
}

// LogAttrs returns the slog attributes carried by ctx.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if actor := ActorFromContext(ctx); actor != "" {
		attrs = append(attrs, slog.String("actor", actor))
	}
	if op := OperationFromContext(ctx); op != "" {
		attrs = append(attrs, slog.String("operation", op))
	}
	return attrs
}
