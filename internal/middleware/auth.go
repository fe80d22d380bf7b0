// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/campusdesk/helpdesk/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// IdentityKey is the context key for the authenticated caller.
	IdentityKey ContextKey = "identity"
)

// TokenParser turns a bearer token into the caller's identity.
type TokenParser interface {
	Parse(token string) (model.Identity, error)
}

// Auth creates bearer-token authentication middleware. Browsers cannot set
// headers on EventSource or WebSocket requests, so a token query parameter
// is accepted as well.
func Auth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			id, err := tokens.Parse(tokenString)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			recordIdentity(r.Context(), id.UserID, string(id.Role))
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

// WithIdentity stores the caller in ctx.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentity gets the caller from context.
func GetIdentity(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(model.Identity)
	return id, ok
}

// GetUserID gets the caller's user ID from context.
func GetUserID(ctx context.Context) string {
	id, _ := GetIdentity(ctx)
	return id.UserID
}

// RequireRole creates middleware that admits only callers with role.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := GetIdentity(r.Context())
			if !ok || id.Role != role {
				http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
