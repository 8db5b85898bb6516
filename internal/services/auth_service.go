package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/medauth/internal/auth"
	"github.com/BradenHooton/medauth/internal/models"
	pkgauth "github.com/BradenHooton/medauth/pkg/auth"
	pkglogger "github.com/BradenHooton/medauth/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// User-facing messages
const (
	MsgMissingDetails       = "Missing Details"
	MsgInvalidEmail         = "Enter a valid email"
	MsgPasswordRequirements = "Password requirements not met"
	MsgUserExists           = "User already exists"
	MsgRegistered           = "Account created successfully! Please check your email for verification."
	MsgRegisteredNoEmail    = "Account created but verification email could not be sent. Please contact support."
	MsgUserDoesNotExist     = "User does not exist"
	MsgUserNotFound         = "User not found"
	MsgLoggedOut            = "Logged out successfully"
	MsgEmailVerified        = "Email verified successfully!"
	MsgAlreadyVerified      = "Email already verified"
	MsgNoCode               = "No verification code found"
	MsgCodeExpired          = "Verification code has expired"
	MsgCodeMismatch         = "Invalid verification code"
	MsgVerificationSent     = "Verification email sent successfully!"
	MsgVerificationFailed   = "Failed to send verification email"
	MsgCurrentPasswordWrong = "Current password is incorrect"
	MsgNewPasswordWeak      = "New password does not meet requirements"
	MsgPasswordReused       = "New password cannot be the same as any of your previous passwords"
	MsgPasswordChanged      = "Password changed successfully"
	MsgPasswordRace         = "Password was changed by another request. Please try again."
	MsgInvalidToken         = "Invalid or expired token"
	MsgSessionInvalid       = "Session expired or invalid"
)

// RegisterInput is the payload for Register
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput is the payload for Login
type LoginInput struct {
	Email    string
	Password string
}

// ChangePasswordInput is the payload for ChangePassword
type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

// AuthServiceDeps wires the collaborators of AuthService
type AuthServiceDeps struct {
	Repo                 AccountRepository
	Lockout              *LockoutService
	Sessions             *SessionService
	Verification         *VerificationService
	Email                EmailService
	Timing               *auth.TimingDelay
	Logger               *slog.Logger
	AuditLogger          *pkglogger.AuditLogger
	PasswordHistoryLimit int
	PasswordResetTTL     time.Duration
}

// AuthService orchestrates the inbound auth operations. Domain failures are
// returned as unsuccessful results; only infrastructure failures are errors.
type AuthService struct {
	repo         AccountRepository
	lockout      *LockoutService
	sessions     *SessionService
	verification *VerificationService
	email        EmailService
	timing       *auth.TimingDelay
	validate     *validator.Validate
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
	historyLimit int
	resetTTL     time.Duration
	now          func() time.Time
}

func NewAuthService(deps AuthServiceDeps) *AuthService {
	historyLimit := deps.PasswordHistoryLimit
	if historyLimit <= 0 {
		historyLimit = models.DefaultPasswordHistoryLimit
	}
	resetTTL := deps.PasswordResetTTL
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}

	return &AuthService{
		repo:         deps.Repo,
		lockout:      deps.Lockout,
		sessions:     deps.Sessions,
		verification: deps.Verification,
		email:        deps.Email,
		timing:       deps.Timing,
		validate:     validator.New(),
		logger:       deps.Logger,
		auditLogger:  deps.AuditLogger,
		historyLimit: historyLimit,
		resetTTL:     resetTTL,
		now:          time.Now,
	}
}

func fail(err *models.AuthError) (*models.AuthResult, error) {
	return err.Result(), nil
}

func failWith(kind error, message string) (*models.AuthResult, error) {
	return fail(models.NewAuthError(kind, message))
}

// weakPassword lists every violated rule along with the advisory strength
// clients render next to the password field
func weakPassword(message, password string, policy pkgauth.ComplexityResult) *models.AuthError {
	score := pkgauth.StrengthScore(password)
	return &models.AuthError{
		Kind:                  models.ErrValidation,
		Message:               message,
		Errors:                policy.Violations,
		PasswordStrength:      &score,
		PasswordStrengthLabel: pkgauth.StrengthLabel(score),
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) validEmail(email string) bool {
	return s.validate.Var(email, "required,email") == nil
}

// Register creates an unverified account, emails its code and opens a session.
// When the email cannot be sent the account still exists but no session is issued.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.AuthResult, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)

	if name == "" || email == "" || in.Password == "" {
		return failWith(models.ErrValidation, MsgMissingDetails)
	}
	if !s.validEmail(email) {
		return failWith(models.ErrValidation, MsgInvalidEmail)
	}

	if policy := pkgauth.ValidateComplexity(in.Password, email); !policy.Valid {
		return fail(weakPassword(MsgPasswordRequirements, in.Password, policy))
	}

	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return failWith(models.ErrConflict, MsgUserExists)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	hash, err := pkgauth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	code, codeExpiresAt, err := s.verification.NewCode()
	if err != nil {
		return nil, err
	}

	now := s.now()
	account := &models.Account{
		ID:                         uuid.NewString(),
		Email:                      email,
		Name:                       name,
		PasswordHash:               hash,
		PasswordCreatedAt:          now,
		PreviousPasswordHashes:     []string{},
		PasswordHistoryLimit:       s.historyLimit,
		EmailVerificationCode:      &code,
		EmailVerificationExpiresAt: &codeExpiresAt,
		ActiveSessions:             []models.Session{},
	}

	if err := s.repo.Create(ctx, account); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return failWith(models.ErrConflict, MsgUserExists)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("account registered", slog.String("account_id", account.ID))
	s.auditLogger.LogAccountAction("account_registered", account.ID, nil)

	if err := s.verification.Dispatch(ctx, email, code, codeExpiresAt); err != nil {
		return &models.AuthResult{
			Success:       true,
			Message:       MsgRegisteredNoEmail,
			Token:         nil,
			EmailVerified: boolPtr(false),
			AccountID:     account.ID,
		}, nil
	}

	session, err := s.sessions.Issue(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if err := s.lockout.RecordSuccess(ctx, account.ID); err != nil {
		return nil, err
	}

	return &models.AuthResult{
		Success:       true,
		Message:       MsgRegistered,
		Token:         &session.Token,
		SessionID:     session.SessionID,
		EmailVerified: boolPtr(false),
		AccountID:     account.ID,
	}, nil
}

// Login checks credentials under the lockout state machine and opens a session
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*models.AuthResult, error) {
	start := s.now()
	email := normalizeEmail(in.Email)

	if email == "" || in.Password == "" {
		return failWith(models.ErrValidation, MsgMissingDetails)
	}

	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.timing.WaitFrom(start, false)
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				FailureReason: "unknown_account",
			})
			return failWith(models.ErrNotFound, MsgUserDoesNotExist)
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if err := s.lockout.Check(ctx, account); err != nil {
		return s.lockedLogin(account.ID, err)
	}

	attempt, err := s.lockout.Reserve(ctx, account.ID)
	if err != nil {
		return s.lockedLogin(account.ID, err)
	}

	if !pkgauth.VerifyPassword(in.Password, account.PasswordHash) {
		s.timing.WaitFrom(start, false)
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			AccountID:     account.ID,
			FailureReason: "invalid_credentials",
		})
		return fail(s.lockout.Fail(attempt))
	}

	if err := s.lockout.Succeed(ctx, attempt); err != nil {
		return s.lockedLogin(account.ID, err)
	}

	session, err := s.sessions.Issue(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	s.timing.WaitFrom(start, true)
	s.logger.Info("account logged in", slog.String("account_id", account.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		AccountID: account.ID,
		SessionID: session.SessionID,
		Success:   true,
	})

	return &models.AuthResult{
		Success:       true,
		Token:         &session.Token,
		SessionID:     session.SessionID,
		EmailVerified: boolPtr(account.EmailVerified),
		AccountID:     account.ID,
	}, nil
}

// lockedLogin answers a login refused by the lockout state machine. Any
// error that is not an AuthError is an infrastructure failure.
func (s *AuthService) lockedLogin(accountID string, err error) (*models.AuthResult, error) {
	var authErr *models.AuthError
	if !errors.As(err, &authErr) {
		return nil, err
	}
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		AccountID:     accountID,
		FailureReason: "account_locked",
	})
	return fail(authErr)
}

// Logout revokes the caller's session; it succeeds whether or not the session still existed
func (s *AuthService) Logout(ctx context.Context, accountID, sessionID string) (*models.AuthResult, error) {
	if err := s.sessions.Revoke(ctx, accountID, sessionID); err != nil {
		return nil, err
	}
	return &models.AuthResult{Success: true, Message: MsgLoggedOut, AccountID: accountID}, nil
}

func verificationMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrAlreadyVerified):
		return MsgAlreadyVerified
	case errors.Is(err, models.ErrNoCodeIssued):
		return MsgNoCode
	case errors.Is(err, models.ErrCodeExpired):
		return MsgCodeExpired
	case errors.Is(err, models.ErrCodeMismatch):
		return MsgCodeMismatch
	default:
		return ""
	}
}

// VerifyEmail consumes the emailed code for the account behind email
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) (*models.AuthResult, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return failWith(models.ErrValidation, MsgMissingDetails)
	}

	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return failWith(models.ErrNotFound, MsgUserNotFound)
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if err := s.verification.Verify(ctx, account, code); err != nil {
		if msg := verificationMessage(err); msg != "" {
			return failWith(err, msg)
		}
		return nil, err
	}

	return &models.AuthResult{
		Success:       true,
		Message:       MsgEmailVerified,
		EmailVerified: boolPtr(true),
		AccountID:     account.ID,
	}, nil
}

// ResendVerification issues and emails a fresh code to an unverified account
func (s *AuthService) ResendVerification(ctx context.Context, email string) (*models.AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" {
		return failWith(models.ErrValidation, MsgMissingDetails)
	}

	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return failWith(models.ErrNotFound, MsgUserNotFound)
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if err := s.verification.Resend(ctx, account); err != nil {
		switch {
		case errors.Is(err, models.ErrAlreadyVerified):
			return failWith(models.ErrAlreadyVerified, MsgAlreadyVerified)
		case errors.Is(err, models.ErrEmailDispatch):
			return failWith(models.ErrEmailDispatch, MsgVerificationFailed)
		default:
			return nil, err
		}
	}

	return &models.AuthResult{Success: true, Message: MsgVerificationSent, AccountID: account.ID}, nil
}

// ChangePassword replaces the password of an authenticated account
func (s *AuthService) ChangePassword(ctx context.Context, accountID string, in ChangePasswordInput) (*models.AuthResult, error) {
	if in.CurrentPassword == "" || in.NewPassword == "" {
		return failWith(models.ErrValidation, MsgMissingDetails)
	}

	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return failWith(models.ErrNotFound, MsgUserNotFound)
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if !pkgauth.VerifyPassword(in.CurrentPassword, account.PasswordHash) {
		s.auditLogger.LogPasswordChange("password_change", account.ID, false, "current_password_incorrect")
		return failWith(models.ErrUnauthorized, MsgCurrentPasswordWrong)
	}

	if authErr := s.checkNewPassword(account, in.NewPassword); authErr != nil {
		s.auditLogger.LogPasswordChange("password_change", account.ID, false, models.ErrorKind(authErr))
		return fail(authErr)
	}

	newHash, history, err := pkgauth.RotatePassword(in.NewPassword, account.PasswordHash, account.PreviousPasswordHashes, account.HistoryLimit())
	if err != nil {
		return nil, err
	}

	if err := s.repo.RotatePassword(ctx, account.ID, account.PasswordHash, newHash, history, s.now()); err != nil {
		if errors.Is(err, models.ErrPasswordChanged) {
			return failWith(models.ErrPasswordChanged, MsgPasswordRace)
		}
		return nil, fmt.Errorf("failed to rotate password: %w", err)
	}

	s.auditLogger.LogPasswordChange("password_change", account.ID, true, "")
	return &models.AuthResult{Success: true, Message: MsgPasswordChanged, AccountID: account.ID}, nil
}

// checkNewPassword applies the complexity policy and the reuse check.
// The current hash counts as history.
func (s *AuthService) checkNewPassword(account *models.Account, newPassword string) *models.AuthError {
	if policy := pkgauth.ValidateComplexity(newPassword, account.Email); !policy.Valid {
		return weakPassword(MsgNewPasswordWeak, newPassword, policy)
	}

	used := append([]string{account.PasswordHash}, account.PreviousPasswordHashes...)
	if pkgauth.WasPreviouslyUsed(newPassword, used) {
		return models.NewAuthError(models.ErrPasswordReused, MsgPasswordReused)
	}
	return nil
}

// Authenticate resolves ac to a live session of an unlocked account
func (s *AuthService) Authenticate(ctx context.Context, ac models.AuthContext) (*models.Principal, error) {
	accountID, sessionID, err := s.sessions.Resolve(ac)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenInvalid):
			return nil, models.NewAuthError(models.ErrTokenInvalid, MsgInvalidToken)
		case errors.Is(err, models.ErrSessionInvalid):
			return nil, models.NewAuthError(models.ErrSessionInvalid, MsgSessionInvalid)
		case errors.Is(err, models.ErrUnauthorized):
			return nil, models.NewAuthError(models.ErrUnauthorized, auth.MsgNotAuthorized)
		default:
			return nil, err
		}
	}

	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewAuthError(models.ErrUnauthorized, MsgUserNotFound)
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	ok, err := s.sessions.Validate(ctx, accountID, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewAuthError(models.ErrSessionInvalid, MsgSessionInvalid)
	}

	if account.IsLocked(s.now()) {
		return nil, lockedError(*account.LockoutUntil)
	}

	return &models.Principal{
		AccountID:     account.ID,
		SessionID:     sessionID,
		Email:         account.Email,
		EmailVerified: account.EmailVerified,
	}, nil
}

// CurrentSession describes the authenticated session
func (s *AuthService) CurrentSession(p *models.Principal) *models.AuthResult {
	return &models.AuthResult{
		Success:       true,
		SessionID:     p.SessionID,
		EmailVerified: boolPtr(p.EmailVerified),
		AccountID:     p.AccountID,
	}
}
