package middleware

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/BradenHooton/medauth/internal/auth"
	"github.com/BradenHooton/medauth/internal/models"
	pkghttp "github.com/BradenHooton/medauth/pkg/http"
)

const msgCrossSite = "Cross-site request rejected"

// CookieOriginGuard rejects state-changing requests that carry the session
// cookie unless Origin (or Referer) names an allowed origin. Requests without
// the cookie authenticate by header and are not exposed to CSRF.
func CookieOriginGuard(cors *CORSConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) || auth.GetSessionCookie(r) == "" {
				next.ServeHTTP(w, r)
				return
			}

			origin := requestOrigin(r)
			if origin == "" || !cors.AllowedOrigin(origin) {
				logger.Warn("cookie request from disallowed origin",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin))
				pkghttp.WriteJSON(w, http.StatusForbidden, &models.AuthResult{
					Success: false,
					Message: msgCrossSite,
					Kind:    "forbidden",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	ref, err := url.Parse(r.Header.Get("Referer"))
	if err != nil || ref.Scheme == "" || ref.Host == "" {
		return ""
	}
	return ref.Scheme + "://" + ref.Host
}

func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
