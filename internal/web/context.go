package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/lakeingest/internal/core"
	"github.com/go-chi/chi/v5/middleware"
)

// WithRequestMetadata tags ctx with the caller for audit entries and with
// the request id for log correlation.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	actor := "http:" + r.RemoteAddr // already rewritten by TrustedRealIP
	if id := middleware.GetReqID(ctx); id != "" {
		actor += " req:" + id
	}
	return core.ContextWithActor(ctx, actor)
}
