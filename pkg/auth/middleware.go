// Package auth provides API-key authentication for issuer and operator endpoints.
// Verification endpoints are public and never pass through it.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/bturcanu/certproof/pkg/types"
)

type contextKey string

const issuerKey contextKey = "issuer"

// IssuerFromContext extracts the authenticated issuer from the context.
func IssuerFromContext(ctx context.Context) string {
	v, _ := ctx.Value(issuerKey).(string)
	return v
}

// WithIssuer returns a context carrying an authenticated issuer.
func WithIssuer(ctx context.Context, issuer string) context.Context {
	return context.WithValue(ctx, issuerKey, issuer)
}

// APIKeyAuth returns middleware that validates API keys and sets issuer context.
func APIKeyAuth(keys *KeyStore) func(http.Handler) http.Handler {
	skipPaths := map[string]bool{
		"/healthz": true,
		"/readyz":  true,
		"/metrics": true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
					apiKey = strings.TrimPrefix(h, "Bearer ")
				}
			}

			if apiKey == "" {
				types.ErrUnauthorized("missing API key").WriteJSON(w)
				return
			}

			issuer, ok := keys.Lookup(apiKey)
			if !ok {
				types.ErrUnauthorized("invalid API key").WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIssuer(r.Context(), issuer)))
		})
	}
}
