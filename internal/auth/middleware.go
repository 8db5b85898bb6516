package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/medauth/internal/models"
	pkghttp "github.com/BradenHooton/medauth/pkg/http"
)

type contextKey string

const principalContextKey contextKey = "principal"

// MsgNotAuthorized is returned when a request carries no credentials at all
const MsgNotAuthorized = "Not Authorized Login Again"

// Authenticator resolves an AuthContext to a validated principal.
// Domain failures are *models.AuthError; anything else is infrastructure.
type Authenticator interface {
	Authenticate(ctx context.Context, ac models.AuthContext) (*models.Principal, error)
}

// SessionResolver turns a cookie reference into a side-channel context
type SessionResolver interface {
	Resolve(ctx context.Context, ref string) (models.SideChannel, error)
}

// AuthMiddleware builds the request's AuthContext and rejects requests that
// do not resolve to a live session. The cookie reference wins; the bearer
// token is the fallback. resolver may be nil when cookie sessions are off.
func AuthMiddleware(authn Authenticator, resolver SessionResolver, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := authContextFromRequest(r, resolver, logger)
			if ac == nil {
				pkghttp.WriteResult(w, http.StatusOK, models.NewAuthError(models.ErrUnauthorized, MsgNotAuthorized).Result())
				return
			}

			principal, err := authn.Authenticate(r.Context(), ac)
			if err != nil {
				var authErr *models.AuthError
				if errors.As(err, &authErr) {
					pkghttp.WriteResult(w, http.StatusOK, authErr.Result())
					return
				}
				logger.Error("authentication failed", slog.String("error", err.Error()))
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func authContextFromRequest(r *http.Request, resolver SessionResolver, logger *slog.Logger) models.AuthContext {
	if ref := GetSessionCookie(r); ref != "" && resolver != nil {
		sc, err := resolver.Resolve(r.Context(), ref)
		if err == nil {
			return sc
		}
		if !errors.Is(err, models.ErrSessionInvalid) {
			logger.Warn("session store lookup failed, falling back to bearer token",
				slog.String("error", err.Error()))
		}
	}

	if raw := BearerFromRequest(r); raw != "" {
		return models.BearerToken{Raw: raw}
	}
	return nil
}

// BearerFromRequest reads "Authorization: Bearer <jwt>" or the legacy token header
func BearerFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("token"))
}

// WithPrincipal stores the authenticated principal on ctx
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the principal set by AuthMiddleware, or nil
func PrincipalFromContext(ctx context.Context) *models.Principal {
	p, ok := ctx.Value(principalContextKey).(*models.Principal)
	if !ok {
		return nil
	}
	return p
}
