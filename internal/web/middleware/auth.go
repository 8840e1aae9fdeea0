package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/conduit-lang/collections/internal/web/auth"
	"github.com/conduit-lang/collections/internal/web/response"
)

// Auth requires a bearer token and stores its claims in the request
// context. Requests to skipPaths pass through unauthenticated.
func Auth(tokens *auth.TokenService, skipPaths ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range skipPaths {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				response.Message(w, http.StatusUnauthorized, "unauthorized", "authorization required")
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				response.Message(w, http.StatusUnauthorized, "unauthorized", "invalid authorization format")
				return
			}
			claims, err := tokens.Validate(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrMissingProject) {
					msg = "token has no project"
				}
				response.Message(w, http.StatusUnauthorized, "unauthorized", msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}
