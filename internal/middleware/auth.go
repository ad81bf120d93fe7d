// Package middleware provides HTTP middleware for the gateway.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/civic-reports/chat-gateway/internal/upstream"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// SessionKey is the context key for the caller's upstream session.
	SessionKey ContextKey = "session"
)

// Auth builds the caller's session from the bearer token and stores it in
// the request context. With a jwtSecret the token signature is checked
// here; without one the claims are only decoded and the backend remains
// the verifier on every forwarded call.
//
// Browsers cannot set headers on EventSource, so a token query parameter
// is accepted as well. When fallbackToken is set, requests without
// credentials run as that token.
func Auth(fallbackToken, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, err.Error())
				return
			}
			if token == "" {
				token = fallbackToken
			}

			var sess *upstream.Session
			if jwtSecret != "" {
				sess, err = upstream.VerifySession(token, jwtSecret)
			} else {
				sess, err = upstream.NewSession(token)
			}
			if err != nil {
				if errors.Is(err, upstream.ErrMissingToken) {
					writeJSONError(w, http.StatusUnauthorized, "missing authorization header")
					return
				}
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), SessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return r.URL.Query().Get("token"), nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// GetSession gets the caller's session from context.
func GetSession(ctx context.Context) *upstream.Session {
	if v, ok := ctx.Value(SessionKey).(*upstream.Session); ok {
		return v
	}
	return nil
}

// GetUserID gets the caller's user ID from context.
func GetUserID(ctx context.Context) string {
	if sess := GetSession(ctx); sess != nil {
		return sess.UserID
	}
	return ""
}
