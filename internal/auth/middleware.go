package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// authenticatorer is the subset of Authenticator that Middleware depends on,
// narrowed for testability with a fake.
type authenticatorer interface {
	Authenticate(ctx context.Context, rawKey string) (*Identity, error)
}

// Middleware authenticates every request via Bearer agent key and stores
// the resulting Identity in the request context. Missing or invalid keys,
// and keys belonging to a non-active agent, are rejected with 401.
func Middleware(authenticator authenticatorer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				respondUnauthorized(w, "missing bearer token")
				return
			}
			rawKey := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			identity, err := authenticator.Authenticate(r.Context(), rawKey)
			if err != nil {
				if !errors.Is(err, ErrUnauthorized) {
					logger.Error("authenticating agent", "error", err)
				}
				respondUnauthorized(w, "invalid or inactive API key")
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// respondUnauthorized writes a 401 in the {error:{code,message}} envelope.
// It does not go through httpserver.RespondError because httpserver imports
// this package to mount Middleware.
func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "UNAUTHORIZED", "message": message},
	})
}
