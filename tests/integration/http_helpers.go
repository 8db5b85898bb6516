//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/medauth/internal/auth"
	"github.com/BradenHooton/medauth/internal/database"
	"github.com/BradenHooton/medauth/internal/handlers"
	middlewareCustom "github.com/BradenHooton/medauth/internal/middleware"
	"github.com/BradenHooton/medauth/internal/models"
	"github.com/BradenHooton/medauth/internal/repositories"
	"github.com/BradenHooton/medauth/internal/routes"
	"github.com/BradenHooton/medauth/internal/services"
	pkghttp "github.com/BradenHooton/medauth/pkg/http"
	pkglogger "github.com/BradenHooton/medauth/pkg/logger"
)

const (
	testJWTSecret  = "integration-secret-32-characters-long"
	testSessionTTL = time.Hour
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// CapturingEmailService records outbound codes and reset tokens
type CapturingEmailService struct {
	mu          sync.Mutex
	codes       map[string]string
	resetTokens map[string]string
}

func NewCapturingEmailService() *CapturingEmailService {
	return &CapturingEmailService{codes: map[string]string{}, resetTokens: map[string]string{}}
}

func (m *CapturingEmailService) SendVerificationCode(_ context.Context, email, code string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[email] = code
	return nil
}

func (m *CapturingEmailService) SendPasswordResetLink(_ context.Context, email, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetTokens[email] = token
	return nil
}

// LastCode returns the most recent verification code sent to email
func (m *CapturingEmailService) LastCode(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

// LastResetToken returns the most recent reset token sent to email
func (m *CapturingEmailService) LastResetToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetTokens[email]
}

// TestServer wraps httptest.Server with the full middleware and route stack
type TestServer struct {
	Server *httptest.Server
	Repo   *repositories.AccountRepository
	Email  *CapturingEmailService
	Redis  *miniredis.Miniredis
}

// NewTestServer wires the real Postgres repository, a miniredis cookie
// store and a capturing email service behind the production router.
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := discardLogger()
	auditLogger := pkglogger.NewAuditLogger(logger)

	mr, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	sessionStore := auth.NewSessionStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testSessionTTL)

	repo := repositories.NewAccountRepository(db)
	email := NewCapturingEmailService()

	lockout := services.NewLockoutService(repo, services.DefaultLockoutPolicy(), logger, auditLogger)
	sessions := services.NewSessionService(repo, auth.NewTokenManager(testJWTSecret, testSessionTTL), logger, auditLogger)
	verification := services.NewVerificationService(repo, email, 10*time.Minute, logger, auditLogger)
	authService := services.NewAuthService(services.AuthServiceDeps{
		Repo:         repo,
		Lockout:      lockout,
		Sessions:     sessions,
		Verification: verification,
		Email:        email,
		Timing:       auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 1}),
		Logger:       logger,
		AuditLogger:  auditLogger,
	})

	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(authService, handlers.AuthHandlerConfig{
		Cookies:      sessionStore,
		CookieConfig: auth.CookieConfig{SameSite: "lax"},
		SessionTTL:   testSessionTTL,
		IPConfig:     ipConfig,
	}, logger)

	cors := middlewareCustom.DefaultCORSConfig([]string{"http://localhost:5173"})

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	router.Use(middlewareCustom.CORS(cors))
	router.Use(chiMiddleware.Recoverer)
	routes.RegisterRoutes(router, routes.Deps{
		AuthHandler:   authHandler,
		Authenticator: authService,
		Resolver:      sessionStore,
		CORS:          cors,
		IPConfig:      ipConfig,
		Logger:        logger,
	})

	return &TestServer{
		Server: httptest.NewServer(router),
		Repo:   repo,
		Email:  email,
		Redis:  mr,
	}, nil
}

// Close stops the HTTP server and miniredis
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.Redis.Close()
}

// Client returns an HTTP client with its own cookie jar
func (ts *TestServer) Client() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

// Request sends a JSON request. A non-empty token is sent as a bearer credential.
func (ts *TestServer) Request(client *http.Client, method, path string, body any, token string) (*http.Response, models.AuthResult, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, models.AuthResult{}, err
		}
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, &buf)
	if err != nil {
		return nil, models.AuthResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:5173")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, models.AuthResult{}, err
	}
	defer resp.Body.Close()

	var result models.AuthResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return resp, result, err
	}
	return resp, result, nil
}
