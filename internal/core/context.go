package core

import (
	"context"

	"github.com/JonMunkholm/lakeingest/internal/logging"
)

type contextKey string

const ctxKeyActor contextKey = "audit_actor"

// ContextWithActor records who started the work, for the schema evolution log.
// The CLI uses "cli"; the HTTP surface uses the remote address.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyActor).(string); ok {
		return v
	}
	return ""
}

// ContextWithBatchID tags ctx with the running batch so log lines and audit
// entries carry it.
func ContextWithBatchID(ctx context.Context, batchID string) context.Context {
	return logging.WithBatchID(ctx, batchID)
}

// BatchIDFromContext returns the running batch id, or "".
func BatchIDFromContext(ctx context.Context) string {
	return logging.BatchIDFromContext(ctx)
}
