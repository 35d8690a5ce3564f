package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// HeaderAPIKey carries the operator API key.
const HeaderAPIKey = "api_key"

// RequireScope rejects requests without an API key granting scope.
func (h *Handler) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, err := h.auth.Authenticate(ctx, r.Header.Get(HeaderAPIKey), scope)
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			ctx = zctx.With(ctx, zap.String("api_key", info.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
