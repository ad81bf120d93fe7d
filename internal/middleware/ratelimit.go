package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// UserRateLimit creates per-caller rate limiting middleware. It must run
// after Auth. Callers are keyed by session scope, so an unverified user id
// cannot spend someone else's budget; requests without a session are keyed
// by IP.
func UserRateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if sess := GetSession(r.Context()); sess.Valid() {
				return sess.Scope(), nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}
