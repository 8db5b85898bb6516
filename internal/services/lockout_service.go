package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/medauth/internal/models"
	pkglogger "github.com/BradenHooton/medauth/pkg/logger"
)

// LockoutPolicy configures the failed-login state machine
type LockoutPolicy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxFailedAttempts: 5, LockoutDuration: 30 * time.Minute}
}

// LockoutService tracks failed logins per account. States are Open and
// Locked; an elapsed lock is cleared lazily on the next attempt.
type LockoutService struct {
	repo        AccountRepository
	policy      LockoutPolicy
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

func NewLockoutService(repo AccountRepository, policy LockoutPolicy, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *LockoutService {
	return &LockoutService{
		repo:        repo,
		policy:      policy,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// LockedMessage is shown for any attempt made while a lock is in force
func LockedMessage(until time.Time) string {
	return "Account is locked until " + until.UTC().Format(time.RFC1123)
}

func lockedError(until time.Time) *models.AuthError {
	u := until
	return &models.AuthError{
		Kind:        models.ErrAccountLocked,
		Message:     LockedMessage(u),
		LockedUntil: &u,
	}
}

// Check rejects an account under a live lock and lazily reopens one whose
// window has elapsed. account is updated in place when a stale lock is cleared.
func (s *LockoutService) Check(ctx context.Context, account *models.Account) error {
	now := s.now()

	if account.IsLocked(now) {
		return lockedError(*account.LockoutUntil)
	}

	if account.HasStaleLock(now) {
		cleared, err := s.repo.ClearExpiredLockout(ctx, account.ID, now)
		if err != nil {
			return fmt.Errorf("failed to clear expired lockout: %w", err)
		}
		if cleared {
			s.logger.Info("expired lockout cleared", slog.String("account_id", account.ID))
		}
		account.AccountLocked = false
		account.LockoutUntil = nil
		account.FailedLoginAttempts = 0
	}

	return nil
}

// Attempt is a login attempt already counted against the account. It
// is settled by Fail or Succeed once the password has been checked.
type Attempt struct {
	accountID string
	state     *models.LockoutState
}

// Reserve counts the attempt before the password is checked, so a burst of
// parallel guesses cannot outrun the threshold. An account under a live lock
// is refused with a *models.AuthError.
func (s *LockoutService) Reserve(ctx context.Context, accountID string) (*Attempt, error) {
	now := s.now()
	lockUntil := now.Add(s.policy.LockoutDuration)

	state, err := s.repo.IncrementFailedLogin(ctx, accountID, s.policy.MaxFailedAttempts, lockUntil, now)
	if err != nil {
		if errors.Is(err, models.ErrAccountLocked) && state != nil && state.LockedUntil != nil {
			return nil, lockedError(*state.LockedUntil)
		}
		return nil, fmt.Errorf("failed to reserve login attempt: %w", err)
	}

	return &Attempt{accountID: accountID, state: state}, nil
}

// Fail settles a reserved attempt whose password did not match. The result
// reports the attempts remaining, or the lock notice when this attempt
// reached the threshold.
func (s *LockoutService) Fail(attempt *Attempt) *models.AuthError {
	state := attempt.state

	if state.Locked && state.LockedUntil != nil {
		s.logger.Warn("account locked after repeated failures",
			slog.String("account_id", attempt.accountID),
			slog.Int("failed_attempts", state.FailedAttempts))
		s.auditLogger.LogLockout(attempt.accountID, state.FailedAttempts, *state.LockedUntil)

		authErr := lockedError(*state.LockedUntil)
		authErr.Message = "Invalid credentials. Account locked for " + humanMinutes(s.policy.LockoutDuration)
		return authErr
	}

	remaining := s.policy.MaxFailedAttempts - state.FailedAttempts
	return models.NewAuthError(models.ErrUnauthorized,
		fmt.Sprintf("Invalid credentials. %d attempts remaining", remaining))
}

// Succeed settles a reserved attempt whose password matched. A lock taken by
// other requests while the password was being checked wins and is returned
// as a *models.AuthError; a lock set by this attempt's own reservation is
// released.
func (s *LockoutService) Succeed(ctx context.Context, attempt *Attempt) error {
	var held *time.Time
	if attempt.state.Locked {
		held = attempt.state.LockedUntil
	}
	return s.recordSuccess(ctx, attempt.accountID, held)
}

// RecordSuccess returns the account to Open with a zero counter unless a
// live lock is in force
func (s *LockoutService) RecordSuccess(ctx context.Context, accountID string) error {
	return s.recordSuccess(ctx, accountID, nil)
}

func (s *LockoutService) recordSuccess(ctx context.Context, accountID string, held *time.Time) error {
	state, err := s.repo.RecordSuccessfulLogin(ctx, accountID, held, s.now())
	if err != nil {
		if errors.Is(err, models.ErrAccountLocked) && state != nil && state.LockedUntil != nil {
			return lockedError(*state.LockedUntil)
		}
		return fmt.Errorf("failed to reset lockout: %w", err)
	}
	return nil
}
