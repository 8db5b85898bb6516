package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/medauth/internal/auth"
	"github.com/BradenHooton/medauth/internal/background"
	"github.com/BradenHooton/medauth/internal/config"
	"github.com/BradenHooton/medauth/internal/database"
	"github.com/BradenHooton/medauth/internal/handlers"
	middlewareCustom "github.com/BradenHooton/medauth/internal/middleware"
	"github.com/BradenHooton/medauth/internal/repositories"
	"github.com/BradenHooton/medauth/internal/routes"
	"github.com/BradenHooton/medauth/internal/services"
	pkgauth "github.com/BradenHooton/medauth/pkg/auth"
	pkghttp "github.com/BradenHooton/medauth/pkg/http"
	pkglogger "github.com/BradenHooton/medauth/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// accountStore is the selected persistence backend
type accountStore struct {
	repo        services.AccountRepository
	sweeper     background.SessionSweeper
	healthCheck func(ctx context.Context) error
	close       func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("db_driver", cfg.Database.Driver),
		slog.String("email_provider", cfg.Email.Provider))

	if err := pkgauth.SetHashAlgorithm(cfg.Auth.PasswordHashAlgorithm); err != nil {
		logger.Error("invalid password hash algorithm", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := openAccountStore(ctx, cfg, logger)
	if err != nil {
		cancel()
		logger.Error("failed to open account store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.close()

	emailService, err := newEmailService(ctx, &cfg.Email, logger)
	cancel()
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Cookie sessions are optional and need Redis
	var (
		cookieStore handlers.CookieSessionStore
		resolver    auth.SessionResolver
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		sessionStore := auth.NewSessionStore(rdb, cfg.Auth.SessionTTL)
		cookieStore = sessionStore
		resolver = sessionStore
		logger.Info("cookie sessions enabled")
	}

	// Initialize services
	auditLogger := pkglogger.NewAuditLogger(logger)
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)

	lockoutService := services.NewLockoutService(store.repo, services.LockoutPolicy{
		MaxFailedAttempts: cfg.Auth.MaxFailedLogins,
		LockoutDuration:   cfg.Auth.LockoutDuration,
	}, logger, auditLogger)
	sessionService := services.NewSessionService(store.repo, tokenManager, logger, auditLogger)
	verificationService := services.NewVerificationService(store.repo, emailService, cfg.Auth.VerificationCodeTTL, logger, auditLogger)

	authService := services.NewAuthService(services.AuthServiceDeps{
		Repo:         store.repo,
		Lockout:      lockoutService,
		Sessions:     sessionService,
		Verification: verificationService,
		Email:        emailService,
		Timing: auth.NewTimingDelay(auth.TimingConfig{
			BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
			RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
			DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
		}),
		Logger:               logger,
		AuditLogger:          auditLogger,
		PasswordHistoryLimit: cfg.Auth.PasswordHistoryLimit,
		PasswordResetTTL:     cfg.Auth.PasswordResetTTL,
	})

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, handlers.AuthHandlerConfig{
		Cookies: cookieStore,
		CookieConfig: auth.CookieConfig{
			Secure:   cfg.Server.IsProduction(),
			SameSite: "lax",
		},
		SessionTTL: cfg.Auth.SessionTTL,
		IPConfig:   ipConfig,
	}, logger)

	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger, cfg.Server.Env))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Deps{
		AuthHandler:   authHandler,
		Authenticator: authService,
		Resolver:      resolver,
		CORS:          corsConfig,
		IPConfig:      ipConfig,
		Logger:        logger,
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.healthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start session cleanup
	cleanupManager := background.NewCleanupManager(store.sweeper, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func openAccountStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*accountStore, error) {
	switch cfg.Database.Driver {
	case config.DriverMongo:
		mdb, err := database.NewMongoConnection(&cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		repo, err := repositories.NewAccountMongoRepository(ctx, mdb.Database)
		if err != nil {
			_ = mdb.Close(context.Background())
			return nil, err
		}
		return &accountStore{
			repo:        repo,
			sweeper:     repo,
			healthCheck: mdb.HealthCheck,
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = mdb.Close(ctx)
			},
		}, nil

	case config.DriverPostgres:
		db, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		repo := repositories.NewAccountRepository(db)
		return &accountStore{
			repo:        repo,
			sweeper:     repo,
			healthCheck: db.HealthCheck,
			close:       db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Database.Driver)
	}
}

func newEmailService(ctx context.Context, cfg *config.EmailConfig, logger *slog.Logger) (*services.TemplatedEmailService, error) {
	var transport services.MailTransport
	switch cfg.Provider {
	case config.EmailProviderSES:
		ses, err := services.NewSESTransport(ctx, cfg.AWSRegion, cfg.FromAddress)
		if err != nil {
			return nil, err
		}
		transport = ses
	default:
		transport = services.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromAddress)
	}
	return services.NewTemplatedEmailService(transport, cfg.ResetURLBase, logger), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
