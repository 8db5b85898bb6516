package services

import (
	"context"
	"time"

	"github.com/BradenHooton/medauth/internal/models"
)

// AccountRepository is the persistence collaborator. Every mutating method
// is a single atomic update against the stored account; callers never
// read-modify-write counters or session lists.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error

	IncrementFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (*models.LockoutState, error)
	ClearExpiredLockout(ctx context.Context, id string, now time.Time) (bool, error)
	// RecordSuccessfulLogin refuses with models.ErrAccountLocked while a live
	// lock other than held is in force
	RecordSuccessfulLogin(ctx context.Context, id string, held *time.Time, now time.Time) (*models.LockoutState, error)

	PushSession(ctx context.Context, id string, session models.Session) error
	PullSession(ctx context.Context, id, sessionID string) error
	PullAllSessions(ctx context.Context, id string) error
	PruneExpiredSessions(ctx context.Context, id string, now time.Time) error
	HasActiveSession(ctx context.Context, id, sessionID string, now time.Time) (bool, error)

	RotatePassword(ctx context.Context, id, expectedHash, newHash string, history []string, now time.Time) error

	SetVerificationCode(ctx context.Context, id, code string, expiresAt time.Time) error
	MarkEmailVerified(ctx context.Context, id, code string, now time.Time) (bool, error)

	SetPasswordResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	GetByPasswordResetToken(ctx context.Context, tokenHash string) (*models.Account, error)
	ClearPasswordResetToken(ctx context.Context, id string) error
	CompletePasswordReset(ctx context.Context, id, tokenHash, expectedHash, newHash string, history []string, now time.Time) error
}
