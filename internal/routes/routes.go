package routes

import (
	"log/slog"

	"github.com/BradenHooton/medauth/internal/auth"
	"github.com/BradenHooton/medauth/internal/handlers"
	"github.com/BradenHooton/medauth/internal/middleware"
	pkghttp "github.com/BradenHooton/medauth/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Deps bundles what the route tree needs. Resolver is nil when cookie
// sessions are disabled.
type Deps struct {
	AuthHandler   *handlers.AuthHandler
	Authenticator auth.Authenticator
	Resolver      auth.SessionResolver
	CORS          *middleware.CORSConfig
	IPConfig      *pkghttp.IPConfig
	Logger        *slog.Logger
}

// RegisterRoutes mounts the auth API under /api/auth
func RegisterRoutes(router chi.Router, deps Deps) {
	h := deps.AuthHandler

	router.Route("/api/auth", func(r chi.Router) {
		r.Use(middleware.CookieOriginGuard(deps.CORS, deps.Logger))

		// Public routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(middleware.DefaultAuthRateLimit(), deps.IPConfig))
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/verify-email", h.VerifyEmail)
			r.Post("/resend-verification", h.ResendVerification)
			r.Post("/forgot-password", h.ForgotPassword)
			r.Post("/reset-password", h.ResetPassword)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(deps.Authenticator, deps.Resolver, deps.Logger))
			r.Use(middleware.RateLimitByAccount(middleware.DefaultAccountRateLimit(), deps.IPConfig))
			r.Get("/session", h.Session)
			r.Post("/logout", h.Logout)
			r.Post("/change-password", h.ChangePassword)
		})
	})
}
