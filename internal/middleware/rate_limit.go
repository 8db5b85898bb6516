package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/medauth/internal/auth"
	"github.com/BradenHooton/medauth/internal/models"
	pkghttp "github.com/BradenHooton/medauth/pkg/http"
	"github.com/go-chi/httprate"
)

const msgRateLimited = "Too many requests. Please try again later."

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit is applied per client IP to the public auth routes
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10}
}

// DefaultAccountRateLimit is applied per account to authenticated routes
func DefaultAccountRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 60}
}

func limitHandler(w http.ResponseWriter, _ *http.Request) {
	pkghttp.WriteJSON(w, http.StatusTooManyRequests, &models.AuthResult{
		Success: false,
		Message: msgRateLimited,
		Kind:    "rate_limit_exceeded",
	})
}

// RateLimitByIP limits requests per client address. Forwarding headers
// count only when they come from a trusted proxy.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(limitHandler),
	)
}

// RateLimitByAccount limits requests per authenticated account and falls
// back to the client address when no principal is present. It must run
// after AuthMiddleware.
func RateLimitByAccount(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if p := auth.PrincipalFromContext(r.Context()); p != nil {
				return "account:" + p.AccountID, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(limitHandler),
	)
}
