package handlers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/medauth/internal/auth"
	"github.com/BradenHooton/medauth/internal/handlers"
	"github.com/BradenHooton/medauth/internal/models"
	"github.com/BradenHooton/medauth/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(svc handlers.AuthServiceInterface, cookies handlers.CookieSessionStore) *handlers.AuthHandler {
	cfg := handlers.AuthHandlerConfig{SessionTTL: time.Hour, CookieConfig: auth.CookieConfig{SameSite: "lax"}}
	if cookies != nil {
		cfg.Cookies = cookies
	}
	return handlers.NewAuthHandler(svc, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func tokenResult(accountID, sessionID string) *models.AuthResult {
	token := "signed.jwt.token"
	verified := false
	return &models.AuthResult{
		Success:       true,
		Token:         &token,
		SessionID:     sessionID,
		EmailVerified: &verified,
		AccountID:     accountID,
	}
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	return nil
}

func TestRegister_Success(t *testing.T) {
	var got services.RegisterInput
	mockAuth := &handlers.MockAuthService{
		RegisterFunc: func(_ context.Context, in services.RegisterInput) (*models.AuthResult, error) {
			got = in
			r := tokenResult("acc-1", "s-1")
			r.Message = services.MsgRegistered
			return r, nil
		},
	}
	cookies := &handlers.MockCookieStore{}
	handler := newHandler(mockAuth, cookies)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/register", handlers.RegisterRequest{
		Name: "Pat", Email: "pat@example.com", Password: "Str0ng!Pass",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	result := handlers.AssertResult(t, w, http.StatusCreated)
	assert.True(t, result.Success)
	assert.Equal(t, services.MsgRegistered, result.Message)
	require.NotNil(t, result.Token)
	assert.Equal(t, "Pat", got.Name)
	assert.Contains(t, w.Body.String(), `"emailVerified":false`)

	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.Equal(t, "ref-s-1", cookie.Value)
	assert.True(t, cookie.HttpOnly)
}

func TestRegister_DomainFailureStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *models.AuthError
		status int
	}{
		{"validation", &models.AuthError{Kind: models.ErrValidation, Message: services.MsgPasswordRequirements, Errors: []string{"x"}}, http.StatusBadRequest},
		{"conflict", models.NewAuthError(models.ErrConflict, services.MsgUserExists), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				RegisterFunc: func(context.Context, services.RegisterInput) (*models.AuthResult, error) {
					return tt.err.Result(), nil
				},
			}
			handler := newHandler(mockAuth, &handlers.MockCookieStore{})

			req := handlers.NewTestRequest(t, "POST", "/api/auth/register", handlers.RegisterRequest{Name: "A", Email: "a@b.com", Password: "abc"})
			w := httptest.NewRecorder()
			handler.Register(w, req)

			result := handlers.AssertResult(t, w, tt.status)
			assert.False(t, result.Success)
			assert.Equal(t, tt.err.Message, result.Message)
			assert.Nil(t, sessionCookie(w))
		})
	}
}

func TestRegister_WeakPasswordCarriesStrength(t *testing.T) {
	score := 1
	mockAuth := &handlers.MockAuthService{
		RegisterFunc: func(context.Context, services.RegisterInput) (*models.AuthResult, error) {
			return (&models.AuthError{
				Kind:                  models.ErrValidation,
				Message:               services.MsgPasswordRequirements,
				Errors:                []string{"x"},
				PasswordStrength:      &score,
				PasswordStrengthLabel: "Very Weak",
			}).Result(), nil
		},
	}
	handler := newHandler(mockAuth, nil)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/register", handlers.RegisterRequest{Name: "A", Email: "a@b.com", Password: "abc"})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	result := handlers.AssertResult(t, w, http.StatusBadRequest)
	require.NotNil(t, result.PasswordStrength)
	assert.Equal(t, 1, *result.PasswordStrength)
	assert.Contains(t, w.Body.String(), `"passwordStrengthLabel":"Very Weak"`)
}

func TestRegister_InvalidBody(t *testing.T) {
	handler := newHandler(&handlers.MockAuthService{}, nil)

	req := httptest.NewRequest("POST", "/api/auth/register", strings.NewReader(`{"email":`))
	w := httptest.NewRecorder()
	handler.Register(w, req)

	result := handlers.AssertResult(t, w, http.StatusBadRequest)
	assert.Equal(t, "validation_error", result.Kind)
}

func TestRegister_OversizedField(t *testing.T) {
	handler := newHandler(&handlers.MockAuthService{}, nil)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/register", handlers.RegisterRequest{
		Name: "A", Email: "a@b.com", Password: strings.Repeat("a", 200),
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	result := handlers.AssertResult(t, w, http.StatusBadRequest)
	assert.Contains(t, result.Message, "Password")
}

func TestLogin_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(_ context.Context, in services.LoginInput) (*models.AuthResult, error) {
			assert.Equal(t, "pat@example.com", in.Email)
			return tokenResult("acc-1", "s-1"), nil
		},
	}
	handler := newHandler(mockAuth, &handlers.MockCookieStore{})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{Email: "pat@example.com", Password: "Str0ng!Pass"})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	result := handlers.AssertResult(t, w, http.StatusOK)
	assert.True(t, result.Success)
	assert.Equal(t, "signed.jwt.token", *result.Token)
	assert.NotNil(t, sessionCookie(w))
}

func TestLogin_WithoutCookieStore(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(context.Context, services.LoginInput) (*models.AuthResult, error) {
			return tokenResult("acc-1", "s-1"), nil
		},
	}
	handler := newHandler(mockAuth, nil)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{Email: "pat@example.com", Password: "Str0ng!Pass"})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertResult(t, w, http.StatusOK)
	assert.Nil(t, sessionCookie(w))
}

func TestLogin_CookieStoreFailureStillReturnsToken(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(context.Context, services.LoginInput) (*models.AuthResult, error) {
			return tokenResult("acc-1", "s-1"), nil
		},
	}
	cookies := &handlers.MockCookieStore{SaveFunc: func(context.Context, string, string) (string, error) {
		return "", errors.New("redis down")
	}}
	handler := newHandler(mockAuth, cookies)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{Email: "pat@example.com", Password: "Str0ng!Pass"})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	result := handlers.AssertResult(t, w, http.StatusOK)
	assert.NotNil(t, result.Token)
	assert.Nil(t, sessionCookie(w))
}

func TestLogin_FailureStatuses(t *testing.T) {
	until := time.Now().Add(30 * time.Minute)

	tests := []struct {
		name   string
		err    *models.AuthError
		status int
	}{
		{"unknown user", models.NewAuthError(models.ErrNotFound, services.MsgUserDoesNotExist), http.StatusNotFound},
		{"wrong password", models.NewAuthError(models.ErrUnauthorized, "Invalid credentials. 4 attempts remaining"), http.StatusUnauthorized},
		{"locked", &models.AuthError{Kind: models.ErrAccountLocked, Message: services.LockedMessage(until), LockedUntil: &until}, http.StatusLocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				LoginFunc: func(context.Context, services.LoginInput) (*models.AuthResult, error) {
					return tt.err.Result(), nil
				},
			}
			handler := newHandler(mockAuth, &handlers.MockCookieStore{})

			req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{Email: "pat@example.com", Password: "x"})
			w := httptest.NewRecorder()
			handler.Login(w, req)

			result := handlers.AssertResult(t, w, tt.status)
			assert.Equal(t, tt.err.Message, result.Message)
			assert.Nil(t, result.Token)
		})
	}
}

func TestLogin_InfrastructureError(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(context.Context, services.LoginInput) (*models.AuthResult, error) {
			return nil, errors.New("connection refused")
		},
	}
	handler := newHandler(mockAuth, nil)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{Email: "pat@example.com", Password: "x"})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestLogout(t *testing.T) {
	var revoked string
	mockAuth := &handlers.MockAuthService{
		LogoutFunc: func(_ context.Context, accountID, sessionID string) (*models.AuthResult, error) {
			revoked = accountID + "/" + sessionID
			return &models.AuthResult{Success: true, Message: services.MsgLoggedOut}, nil
		},
	}
	cookies := &handlers.MockCookieStore{}
	handler := newHandler(mockAuth, cookies)

	req := handlers.WithPrincipal(handlers.NewTestRequest(t, "POST", "/api/auth/logout", nil), "acc-1", "s-1")
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "ref-s-1"})
	w := httptest.NewRecorder()
	handler.Logout(w, req)

	result := handlers.AssertResult(t, w, http.StatusOK)
	assert.Equal(t, services.MsgLoggedOut, result.Message)
	assert.Equal(t, "acc-1/s-1", revoked)
	assert.Equal(t, []string{"ref-s-1"}, cookies.Destroyed)

	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.Equal(t, -1, cookie.MaxAge)
}

func TestLogout_Unauthenticated(t *testing.T) {
	handler := newHandler(&handlers.MockAuthService{}, nil)

	w := httptest.NewRecorder()
	handler.Logout(w, handlers.NewTestRequest(t, "POST", "/api/auth/logout", nil))

	result := handlers.AssertResult(t, w, http.StatusUnauthorized)
	assert.Equal(t, auth.MsgNotAuthorized, result.Message)
}

func TestSession(t *testing.T) {
	handler := newHandler(&handlers.MockAuthService{}, nil)

	req := handlers.WithPrincipal(handlers.NewTestRequest(t, "GET", "/api/auth/session", nil), "acc-1", "s-9")
	w := httptest.NewRecorder()
	handler.Session(w, req)

	result := handlers.AssertResult(t, w, http.StatusOK)
	assert.Equal(t, "s-9", result.SessionID)
	require.NotNil(t, result.EmailVerified)
}

func TestVerifyEmail(t *testing.T) {
	tests := []struct {
		name   string
		result *models.AuthResult
		status int
	}{
		{"verified", &models.AuthResult{Success: true, Message: services.MsgEmailVerified}, http.StatusOK},
		{"expired", models.NewAuthError(models.ErrCodeExpired, services.MsgCodeExpired).Result(), http.StatusGone},
		{"mismatch", models.NewAuthError(models.ErrCodeMismatch, services.MsgCodeMismatch).Result(), http.StatusUnauthorized},
		{"already verified", models.NewAuthError(models.ErrAlreadyVerified, services.MsgAlreadyVerified).Result(), http.StatusConflict},
		{"no code", models.NewAuthError(models.ErrNoCodeIssued, services.MsgNoCode).Result(), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				VerifyEmailFunc: func(_ context.Context, email, code string) (*models.AuthResult, error) {
					assert.Equal(t, "pat@example.com", email)
					assert.Equal(t, "123456", code)
					return tt.result, nil
				},
			}
			handler := newHandler(mockAuth, nil)

			req := handlers.NewTestRequest(t, "POST", "/api/auth/verify-email", handlers.VerifyEmailRequest{Email: "pat@example.com", OTP: "123456"})
			w := httptest.NewRecorder()
			handler.VerifyEmail(w, req)

			result := handlers.AssertResult(t, w, tt.status)
			assert.Equal(t, tt.result.Message, result.Message)
		})
	}
}

func TestResendVerification_DispatchFailure(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ResendVerificationFunc: func(context.Context, string) (*models.AuthResult, error) {
			return models.NewAuthError(models.ErrEmailDispatch, services.MsgVerificationFailed).Result(), nil
		},
	}
	handler := newHandler(mockAuth, nil)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/resend-verification", handlers.EmailRequest{Email: "pat@example.com"})
	w := httptest.NewRecorder()
	handler.ResendVerification(w, req)

	result := handlers.AssertResult(t, w, http.StatusBadGateway)
	assert.Equal(t, services.MsgVerificationFailed, result.Message)
}

func TestChangePassword(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ChangePasswordFunc: func(_ context.Context, accountID string, in services.ChangePasswordInput) (*models.AuthResult, error) {
			assert.Equal(t, "acc-1", accountID)
			assert.Equal(t, "Old!Pass1", in.CurrentPassword)
			assert.Equal(t, "N3w!Secret", in.NewPassword)
			return &models.AuthResult{Success: true, Message: services.MsgPasswordChanged}, nil
		},
	}
	handler := newHandler(mockAuth, nil)

	req := handlers.WithPrincipal(handlers.NewTestRequest(t, "POST", "/api/auth/change-password", handlers.ChangePasswordRequest{
		CurrentPassword: "Old!Pass1", NewPassword: "N3w!Secret",
	}), "acc-1", "s-1")
	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	result := handlers.AssertResult(t, w, http.StatusOK)
	assert.Equal(t, services.MsgPasswordChanged, result.Message)
}

func TestChangePassword_Reused(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ChangePasswordFunc: func(context.Context, string, services.ChangePasswordInput) (*models.AuthResult, error) {
			return models.NewAuthError(models.ErrPasswordReused, services.MsgPasswordReused).Result(), nil
		},
	}
	handler := newHandler(mockAuth, nil)

	req := handlers.WithPrincipal(handlers.NewTestRequest(t, "POST", "/api/auth/change-password", handlers.ChangePasswordRequest{
		CurrentPassword: "Old!Pass1", NewPassword: "Old!Pass1",
	}), "acc-1", "s-1")
	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	result := handlers.AssertResult(t, w, http.StatusConflict)
	assert.Equal(t, services.MsgPasswordReused, result.Message)
}

func TestForgotPassword(t *testing.T) {
	handler := newHandler(&handlers.MockAuthService{}, nil)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/forgot-password", handlers.EmailRequest{Email: "pat@example.com"})
	w := httptest.NewRecorder()
	handler.ForgotPassword(w, req)

	result := handlers.AssertResult(t, w, http.StatusOK)
	assert.Equal(t, services.MsgResetRequested, result.Message)
}

func TestResetPassword_DropsCookieSessions(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ResetPasswordFunc: func(_ context.Context, token, newPassword string) (*models.AuthResult, error) {
			assert.Equal(t, "reset-token", token)
			return &models.AuthResult{Success: true, Message: services.MsgResetComplete, AccountID: "acc-1"}, nil
		},
	}
	cookies := &handlers.MockCookieStore{}
	handler := newHandler(mockAuth, cookies)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/reset-password", handlers.ResetPasswordRequest{Token: "reset-token", NewPassword: "N3w!Secret"})
	w := httptest.NewRecorder()
	handler.ResetPassword(w, req)

	handlers.AssertResult(t, w, http.StatusOK)
	assert.Equal(t, []string{"acc-1"}, cookies.DestroyedAccounts)
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ResetPasswordFunc: func(context.Context, string, string) (*models.AuthResult, error) {
			return models.NewAuthError(models.ErrResetTokenExpired, services.MsgResetExpired).Result(), nil
		},
	}
	cookies := &handlers.MockCookieStore{}
	handler := newHandler(mockAuth, cookies)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/reset-password", handlers.ResetPasswordRequest{Token: "old", NewPassword: "N3w!Secret"})
	w := httptest.NewRecorder()
	handler.ResetPassword(w, req)

	handlers.AssertResult(t, w, http.StatusGone)
	assert.Empty(t, cookies.DestroyedAccounts)
}
