package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitByPrincipal limits requests per token subject, falling back to
// the client IP for unauthenticated deployments.
func RateLimitByPrincipal(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if p := GetPrincipal(r.Context()); p != nil && p.Subject != "" {
				return "sub:" + p.Subject, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}
