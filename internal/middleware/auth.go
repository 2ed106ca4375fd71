// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/identity"
)

// ContextKey is a type for context keys.
type ContextKey string

// Authenticator resolves a bearer credential to a principal.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (*identity.Principal, error)
}

// Auth creates bearer authentication middleware. The resolved principal is
// available through identity.FromContext.
func Auth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := identity.BearerToken(r.Header.Get("Authorization"))
			if !ok || token == "" {
				writeError(w, apperr.Unauthenticated("missing or malformed authorization header"))
				return
			}

			p, err := auth.Resolve(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}

			if meta := requestMetaFrom(r.Context()); meta != nil {
				meta.userID = p.UserID
			}
			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireWritable refuses state-changing requests from suspended accounts.
func RequireWritable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		p, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, apperr.Unauthenticated("authentication required"))
			return
		}
		if err := identity.RequireWritable(p); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserID gets the authenticated user ID from context.
func GetUserID(ctx context.Context) string {
	if p, ok := identity.FromContext(ctx); ok {
		return p.UserID
	}
	return ""
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(apperr.KindOf(err)))
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": apperr.PublicMessage(err),
	})
}
