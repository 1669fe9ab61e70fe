package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/config"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserID returns the authenticated user id stored by the auth middleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// Authenticator resolves requests to user identities. Bearer tokens map to
// user ids; dev mode additionally accepts a bare X-User-ID header.
type Authenticator struct {
	tokens  map[string]string
	devUser bool
}

// NewAuthenticator creates an authenticator from config.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{tokens: cfg.Tokens, devUser: cfg.DevUser}
}

// Middleware rejects unauthenticated requests with 401 before any handler or
// upgrade runs.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := a.identify(r)
		if !ok {
			respondJSON(w, http.StatusUnauthorized, errorBody(core.ErrAuth("authentication required")))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func (a *Authenticator) identify(r *http.Request) (string, bool) {
	// Authorization header, or access_token query for websocket clients that
	// cannot set headers.
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("access_token"); q != "" {
		token = q
	}
	if token != "" {
		if userID, ok := a.tokens[token]; ok {
			return userID, true
		}
		return "", false
	}

	if a.devUser {
		if userID := r.Header.Get("X-User-ID"); userID != "" {
			return userID, true
		}
	}
	return "", false
}
