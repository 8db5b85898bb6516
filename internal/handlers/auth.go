package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/medauth/internal/auth"
	"github.com/BradenHooton/medauth/internal/models"
	"github.com/BradenHooton/medauth/internal/services"
	pkghttp "github.com/BradenHooton/medauth/pkg/http"
	pkglogger "github.com/BradenHooton/medauth/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.AuthResult, error)
	Login(ctx context.Context, in services.LoginInput) (*models.AuthResult, error)
	Logout(ctx context.Context, accountID, sessionID string) (*models.AuthResult, error)
	VerifyEmail(ctx context.Context, email, code string) (*models.AuthResult, error)
	ResendVerification(ctx context.Context, email string) (*models.AuthResult, error)
	ChangePassword(ctx context.Context, accountID string, in services.ChangePasswordInput) (*models.AuthResult, error)
	ForgotPassword(ctx context.Context, email string) (*models.AuthResult, error)
	ResetPassword(ctx context.Context, token, newPassword string) (*models.AuthResult, error)
	CurrentSession(p *models.Principal) *models.AuthResult
}

// CookieSessionStore maps opaque cookie references to sessions
type CookieSessionStore interface {
	Save(ctx context.Context, accountID, sessionID string) (string, error)
	Destroy(ctx context.Context, ref string) error
	DestroyAccount(ctx context.Context, accountID string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service      AuthServiceInterface
	cookies      CookieSessionStore
	cookieConfig auth.CookieConfig
	sessionTTL   time.Duration
	ipConfig     *pkghttp.IPConfig
	logger       *slog.Logger
}

// AuthHandlerConfig carries the optional cookie-session settings
type AuthHandlerConfig struct {
	Cookies      CookieSessionStore
	CookieConfig auth.CookieConfig
	SessionTTL   time.Duration
	IPConfig     *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler. A nil cfg.Cookies disables the
// cookie side channel; bearer tokens keep working.
func NewAuthHandler(service AuthServiceInterface, cfg AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:      service,
		cookies:      cfg.Cookies,
		cookieConfig: cfg.CookieConfig,
		sessionTTL:   cfg.SessionTTL,
		ipConfig:     cfg.IPConfig,
		logger:       logger,
	}
}

// Request DTOs. Presence is checked by the service so that every missing
// field yields the same message; tags only bound the sizes.

type RegisterRequest struct {
	Name     string `json:"name" validate:"max=100"`
	Email    string `json:"email" validate:"max=254"`
	Password string `json:"password" validate:"max=128"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"max=254"`
	Password string `json:"password" validate:"max=128"`
}

type VerifyEmailRequest struct {
	Email string `json:"email" validate:"max=254"`
	OTP   string `json:"otp" validate:"max=16"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"max=254"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"max=128"`
	NewPassword     string `json:"newPassword" validate:"max=128"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"max=512"`
	NewPassword string `json:"newPassword" validate:"max=128"`
}

// decode reads and bounds a request body, writing the 400 itself on failure
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := pkghttp.DecodeJSON(w, r, dst); err != nil {
		pkghttp.WriteResult(w, http.StatusOK, models.NewAuthError(models.ErrValidation, err.Error()).Result())
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteResult(w, http.StatusOK, models.NewAuthError(models.ErrValidation, err.Error()).Result())
		return false
	}
	return true
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func (h *AuthHandler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("auth operation failed",
		slog.String("operation", op),
		slog.String("request_id", requestID(r)),
		slog.Any("error", err))
	pkghttp.WriteInternalError(w, "Internal server error")
}

// openCookieSession binds a freshly issued session to a cookie reference.
// Failure leaves the bearer token as the only credential.
func (h *AuthHandler) openCookieSession(w http.ResponseWriter, r *http.Request, result *models.AuthResult) {
	if h.cookies == nil || result.Token == nil || result.SessionID == "" {
		return
	}

	ref, err := h.cookies.Save(r.Context(), result.AccountID, result.SessionID)
	if err != nil {
		h.logger.Warn("cookie session not stored",
			slog.String("account_id", result.AccountID), slog.Any("error", err))
		return
	}
	auth.SetSessionCookie(w, ref, h.sessionTTL, h.cookieConfig)
}

// Register handles account creation
// @Router /api/auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.internalError(w, r, "register", err)
		return
	}

	if result.Success {
		h.openCookieSession(w, r, result)
	}
	pkghttp.WriteResult(w, http.StatusCreated, result)
}

// Login handles credential login
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		h.internalError(w, r, "login", err)
		return
	}

	if result.Success {
		h.openCookieSession(w, r, result)
	} else {
		h.logger.Info("login rejected",
			pkglogger.EmailAttr(req.Email),
			slog.String("kind", result.Kind),
			slog.String("ip_address", pkghttp.ExtractClientIP(r, h.ipConfig)))
	}
	pkghttp.WriteResult(w, http.StatusOK, result)
}

// Logout revokes the current session
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		pkghttp.WriteResult(w, http.StatusOK, models.NewAuthError(models.ErrUnauthorized, auth.MsgNotAuthorized).Result())
		return
	}

	result, err := h.service.Logout(r.Context(), principal.AccountID, principal.SessionID)
	if err != nil {
		h.internalError(w, r, "logout", err)
		return
	}

	if ref := auth.GetSessionCookie(r); ref != "" && h.cookies != nil {
		if err := h.cookies.Destroy(r.Context(), ref); err != nil {
			h.logger.Warn("cookie session not destroyed", slog.Any("error", err))
		}
	}
	auth.ClearSessionCookie(w, h.cookieConfig)

	pkghttp.WriteResult(w, http.StatusOK, result)
}

// Session reports the authenticated session
// @Router /api/auth/session [get]
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		pkghttp.WriteResult(w, http.StatusOK, models.NewAuthError(models.ErrUnauthorized, auth.MsgNotAuthorized).Result())
		return
	}
	pkghttp.WriteResult(w, http.StatusOK, h.service.CurrentSession(principal))
}

// VerifyEmail consumes an emailed code
// @Router /api/auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.VerifyEmail(r.Context(), req.Email, req.OTP)
	if err != nil {
		h.internalError(w, r, "verify_email", err)
		return
	}
	pkghttp.WriteResult(w, http.StatusOK, result)
}

// ResendVerification emails a fresh code
// @Router /api/auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.ResendVerification(r.Context(), req.Email)
	if err != nil {
		h.internalError(w, r, "resend_verification", err)
		return
	}
	pkghttp.WriteResult(w, http.StatusOK, result)
}

// ChangePassword replaces the caller's password
// @Router /api/auth/change-password [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		pkghttp.WriteResult(w, http.StatusOK, models.NewAuthError(models.ErrUnauthorized, auth.MsgNotAuthorized).Result())
		return
	}

	var req ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.ChangePassword(r.Context(), principal.AccountID, services.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		h.internalError(w, r, "change_password", err)
		return
	}
	pkghttp.WriteResult(w, http.StatusOK, result)
}

// ForgotPassword starts a password reset
// @Router /api/auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		h.internalError(w, r, "forgot_password", err)
		return
	}
	pkghttp.WriteResult(w, http.StatusOK, result)
}

// ResetPassword completes a password reset and drops every cookie session
// of the account.
// @Router /api/auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		h.internalError(w, r, "reset_password", err)
		return
	}

	if result.Success && h.cookies != nil {
		if err := h.cookies.DestroyAccount(r.Context(), result.AccountID); err != nil {
			h.logger.Warn("cookie sessions not destroyed",
				slog.String("account_id", result.AccountID), slog.Any("error", err))
		}
	}
	pkghttp.WriteResult(w, http.StatusOK, result)
}
