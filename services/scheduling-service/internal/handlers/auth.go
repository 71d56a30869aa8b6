package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/aline-moraes/chairbook/libs/auth"
	"github.com/aline-moraes/chairbook/libs/httpx"
)

type ctxKey int

const claimsKey ctxKey = iota

// ClaimsFrom returns the verified claims attached by WithAuth, if any.
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok
}

// WithAuth verifies a Bearer token and attaches its claims to the request
// context. With required=false, requests without an Authorization header
// pass through anonymously; a present but invalid token is always rejected.
func WithAuth(secret string, required bool) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				if required {
					http.Error(w, "authorization required", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok {
				http.Error(w, "malformed authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// RequireRole gates a handler behind an authenticated role. It assumes
// WithAuth ran earlier in the chain.
func RequireRole(role string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				http.Error(w, "authorization required", http.StatusUnauthorized)
				return
			}
			if claims.Role != role {
				http.Error(w, "insufficient role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// scopedResources narrows a requested resource set to the caller's scope.
// An empty claim scope means access to every resource. The second return
// is false when the request names a resource outside the scope.
func scopedResources(claims *auth.Claims, requested []string) ([]string, bool) {
	if claims == nil || len(claims.Resources) == 0 {
		return requested, true
	}
	if len(requested) == 0 {
		return claims.Resources, true
	}
	allowed := make(map[string]struct{}, len(claims.Resources))
	for _, id := range claims.Resources {
		allowed[id] = struct{}{}
	}
	for _, id := range requested {
		if _, ok := allowed[id]; !ok {
			return nil, false
		}
	}
	return requested, true
}
