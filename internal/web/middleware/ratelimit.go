package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/web/auth"
	"github.com/conduit-lang/collections/internal/web/ratelimit"
	"github.com/conduit-lang/collections/internal/web/response"
)

// RateLimit throttles requests per project, falling back to the remote
// address for unauthenticated requests. Safe methods are not counted. A
// failing limiter lets the request through.
func RateLimit(l ratelimit.Limiter, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			key := "ip:" + r.RemoteAddr
			if c, ok := auth.ClaimsFrom(r.Context()); ok {
				key = "project:" + string(c.ProjectID)
			}
			info, err := l.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))
			if !info.Allowed {
				retry := int(time.Until(info.ResetAt).Seconds()) + 1
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				response.Message(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
