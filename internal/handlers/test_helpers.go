package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/medauth/internal/auth"
	"github.com/BradenHooton/medauth/internal/models"
	"github.com/BradenHooton/medauth/internal/services"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithPrincipal attaches an authenticated principal as AuthMiddleware would
func WithPrincipal(req *http.Request, accountID, sessionID string) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), &models.Principal{
		AccountID: accountID,
		SessionID: sessionID,
		Email:     "patient@example.com",
	}))
}

// AssertResult checks the status and decodes the auth result body
func AssertResult(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int) models.AuthResult {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result models.AuthResult
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &result), "Failed to decode response JSON")
	return result
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc           func(ctx context.Context, in services.RegisterInput) (*models.AuthResult, error)
	LoginFunc              func(ctx context.Context, in services.LoginInput) (*models.AuthResult, error)
	LogoutFunc             func(ctx context.Context, accountID, sessionID string) (*models.AuthResult, error)
	VerifyEmailFunc        func(ctx context.Context, email, code string) (*models.AuthResult, error)
	ResendVerificationFunc func(ctx context.Context, email string) (*models.AuthResult, error)
	ChangePasswordFunc     func(ctx context.Context, accountID string, in services.ChangePasswordInput) (*models.AuthResult, error)
	ForgotPasswordFunc     func(ctx context.Context, email string) (*models.AuthResult, error)
	ResetPasswordFunc      func(ctx context.Context, token, newPassword string) (*models.AuthResult, error)
}

func okResult(message string) *models.AuthResult {
	return &models.AuthResult{Success: true, Message: message}
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) (*models.AuthResult, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, in)
	}
	return okResult(services.MsgRegistered), nil
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*models.AuthResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, in)
	}
	return okResult(""), nil
}

func (m *MockAuthService) Logout(ctx context.Context, accountID, sessionID string) (*models.AuthResult, error) {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, accountID, sessionID)
	}
	return okResult(services.MsgLoggedOut), nil
}

func (m *MockAuthService) VerifyEmail(ctx context.Context, email, code string) (*models.AuthResult, error) {
	if m.VerifyEmailFunc != nil {
		return m.VerifyEmailFunc(ctx, email, code)
	}
	return okResult(services.MsgEmailVerified), nil
}

func (m *MockAuthService) ResendVerification(ctx context.Context, email string) (*models.AuthResult, error) {
	if m.ResendVerificationFunc != nil {
		return m.ResendVerificationFunc(ctx, email)
	}
	return okResult(services.MsgVerificationSent), nil
}

func (m *MockAuthService) ChangePassword(ctx context.Context, accountID string, in services.ChangePasswordInput) (*models.AuthResult, error) {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, accountID, in)
	}
	return okResult(services.MsgPasswordChanged), nil
}

func (m *MockAuthService) ForgotPassword(ctx context.Context, email string) (*models.AuthResult, error) {
	if m.ForgotPasswordFunc != nil {
		return m.ForgotPasswordFunc(ctx, email)
	}
	return okResult(services.MsgResetRequested), nil
}

func (m *MockAuthService) ResetPassword(ctx context.Context, token, newPassword string) (*models.AuthResult, error) {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, token, newPassword)
	}
	return okResult(services.MsgResetComplete), nil
}

func (m *MockAuthService) CurrentSession(p *models.Principal) *models.AuthResult {
	verified := p.EmailVerified
	return &models.AuthResult{Success: true, SessionID: p.SessionID, EmailVerified: &verified, AccountID: p.AccountID}
}

// MockCookieStore implements CookieSessionStore for testing
type MockCookieStore struct {
	SaveFunc func(ctx context.Context, accountID, sessionID string) (string, error)

	Destroyed         []string
	DestroyedAccounts []string
}

func (m *MockCookieStore) Save(ctx context.Context, accountID, sessionID string) (string, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, accountID, sessionID)
	}
	return "ref-" + sessionID, nil
}

func (m *MockCookieStore) Destroy(_ context.Context, ref string) error {
	m.Destroyed = append(m.Destroyed, ref)
	return nil
}

func (m *MockCookieStore) DestroyAccount(_ context.Context, accountID string) error {
	m.DestroyedAccounts = append(m.DestroyedAccounts, accountID)
	return nil
}
