//go:build integration

package integration

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/medauth/internal/models"
	"github.com/BradenHooton/medauth/internal/repositories"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		panic(err)
	}
	testDB = db

	code := m.Run()

	_ = testDB.Teardown(ctx)
	if testMongo != nil {
		_ = testMongo.Teardown(ctx)
	}
	os.Exit(code)
}

func newRepo(t *testing.T) *repositories.AccountRepository {
	t.Helper()
	require.NoError(t, testDB.CleanupTables(context.Background()))
	return repositories.NewAccountRepository(testDB.DB)
}

func TestAccountRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	account, err := SeedAccount(ctx, repo, "  Patient@Example.COM ", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "patient@example.com", account.Email)

	byEmail, err := repo.GetByEmail(ctx, "PATIENT@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byEmail.ID)
	assert.Empty(t, byEmail.ActiveSessions)
	assert.Equal(t, models.DefaultPasswordHistoryLimit, byEmail.PasswordHistoryLimit)

	_, err = SeedAccount(ctx, repo, "patient@example.com", testPassword)
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = repo.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountRepository_IncrementFailedLoginIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	account, err := SeedAccount(ctx, repo, TestEmail("lockout"), testPassword)
	require.NoError(t, err)

	now := time.Now()
	lockUntil := now.Add(30 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.IncrementFailedLogin(ctx, account.ID, 5, lockUntil, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.FailedLoginAttempts)
	assert.False(t, stored.AccountLocked)

	state, err := repo.IncrementFailedLogin(ctx, account.ID, 5, lockUntil, now)
	require.NoError(t, err)
	assert.Equal(t, 5, state.FailedAttempts)
	assert.True(t, state.Locked)
	require.NotNil(t, state.LockedUntil)
	assert.WithinDuration(t, lockUntil, *state.LockedUntil, time.Millisecond)

	// A live lock is not touched
	state, err = repo.IncrementFailedLogin(ctx, account.ID, 5, lockUntil.Add(time.Hour), now)
	assert.ErrorIs(t, err, models.ErrAccountLocked)
	assert.Equal(t, 5, state.FailedAttempts)

	cleared, err := repo.ClearExpiredLockout(ctx, account.ID, now)
	require.NoError(t, err)
	assert.False(t, cleared, "lock still live")

	cleared, err = repo.ClearExpiredLockout(ctx, account.ID, lockUntil.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, cleared)

	stored, err = repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.False(t, stored.AccountLocked)
	assert.Nil(t, stored.LockoutUntil)
}

func TestAccountRepository_RecordSuccessfulLoginRespectsLiveLock(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	account, err := SeedAccount(ctx, repo, TestEmail("success-lock"), testPassword)
	require.NoError(t, err)

	now := time.Now()
	lockUntil := now.Add(30 * time.Minute)

	// The reservation that reaches the threshold owns the lock
	own, err := repo.IncrementFailedLogin(ctx, account.ID, 1, lockUntil, now)
	require.NoError(t, err)
	require.True(t, own.Locked)

	state, err := repo.RecordSuccessfulLogin(ctx, account.ID, nil, now)
	assert.ErrorIs(t, err, models.ErrAccountLocked)
	require.NotNil(t, state)
	assert.True(t, state.Locked)
	assert.Equal(t, 1, state.FailedAttempts)

	other := lockUntil.Add(time.Minute)
	_, err = repo.RecordSuccessfulLogin(ctx, account.ID, &other, now)
	assert.ErrorIs(t, err, models.ErrAccountLocked)

	_, err = repo.RecordSuccessfulLogin(ctx, account.ID, own.LockedUntil, now)
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, stored.AccountLocked)
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.NotNil(t, stored.LastLoginAt)

	_, err = repo.RecordSuccessfulLogin(ctx, uuid.NewString(), nil, now)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountRepository_Sessions(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	account, err := SeedAccount(ctx, repo, TestEmail("sessions"), testPassword)
	require.NoError(t, err)

	now := time.Now()
	live := models.Session{SessionID: uuid.NewString(), Token: "live", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	stale := models.Session{SessionID: uuid.NewString(), Token: "stale", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, repo.PushSession(ctx, account.ID, live))
	require.NoError(t, repo.PushSession(ctx, account.ID, stale))

	ok, err := repo.HasActiveSession(ctx, account.ID, live.SessionID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.HasActiveSession(ctx, account.ID, stale.SessionID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := repo.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	require.NoError(t, repo.PruneExpiredSessions(ctx, account.ID, now))

	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, stored.ActiveSessions, 1)
	assert.Equal(t, live.SessionID, stored.ActiveSessions[0].SessionID)

	require.NoError(t, repo.PullSession(ctx, account.ID, live.SessionID))
	require.NoError(t, repo.PullSession(ctx, account.ID, live.SessionID), "pulling an absent session is not an error")

	ok, err = repo.HasActiveSession(ctx, account.ID, live.SessionID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	err = repo.PushSession(ctx, uuid.NewString(), live)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountRepository_RotatePasswordCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	account, err := SeedAccount(ctx, repo, TestEmail("rotate"), testPassword)
	require.NoError(t, err)

	now := time.Now()
	history := []string{account.PasswordHash}
	require.NoError(t, repo.RotatePassword(ctx, account.ID, account.PasswordHash, "new-hash", history, now))

	err = repo.RotatePassword(ctx, account.ID, account.PasswordHash, "other-hash", history, now)
	assert.ErrorIs(t, err, models.ErrPasswordChanged)

	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", stored.PasswordHash)
	assert.Equal(t, history, stored.PreviousPasswordHashes)
}

func TestAccountRepository_CompletePasswordResetCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	account, err := SeedAccount(ctx, repo, TestEmail("reset-cas"), testPassword)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, repo.SetPasswordResetToken(ctx, account.ID, "token-hash", now.Add(time.Hour)))

	// A password change commits between the reset's read and its write
	changed := []string{account.PasswordHash}
	require.NoError(t, repo.RotatePassword(ctx, account.ID, account.PasswordHash, "changed-hash", changed, now))

	err = repo.CompletePasswordReset(ctx, account.ID, "token-hash", account.PasswordHash, "reset-hash", []string{account.PasswordHash}, now)
	assert.ErrorIs(t, err, models.ErrPasswordChanged)

	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed-hash", stored.PasswordHash)
	assert.Equal(t, changed, stored.PreviousPasswordHashes)
	require.NotNil(t, stored.PasswordResetTokenHash)

	history := []string{"changed-hash", account.PasswordHash}
	require.NoError(t, repo.CompletePasswordReset(ctx, account.ID, "token-hash", "changed-hash", "reset-hash", history, now))

	stored, err = repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "reset-hash", stored.PasswordHash)
	assert.Equal(t, history, stored.PreviousPasswordHashes)
}

func TestAccountRepository_EmailVerification(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	account, err := SeedAccount(ctx, repo, TestEmail("verify"), testPassword)
	require.NoError(t, err)
	// Seeded accounts are verified; make this one pending
	_, err = testDB.Pool.Exec(ctx, `UPDATE accounts SET email_verified = FALSE WHERE id = $1`, account.ID)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, repo.SetVerificationCode(ctx, account.ID, "123456", now.Add(10*time.Minute)))

	ok, err := repo.MarkEmailVerified(ctx, account.ID, "654321", now)
	require.NoError(t, err)
	assert.False(t, ok, "wrong code")

	ok, err = repo.MarkEmailVerified(ctx, account.ID, "123456", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkEmailVerified(ctx, account.ID, "123456", now)
	require.NoError(t, err)
	assert.False(t, ok, "code is single use")

	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)
	assert.Nil(t, stored.EmailVerificationCode)
	assert.Nil(t, stored.EmailVerificationExpiresAt)

	err = repo.SetVerificationCode(ctx, account.ID, "111111", now.Add(time.Minute))
	assert.ErrorIs(t, err, models.ErrAlreadyVerified)
}

func TestAccountRepository_CompletePasswordReset(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	account, err := SeedAccount(ctx, repo, TestEmail("reset"), testPassword)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, repo.PushSession(ctx, account.ID, models.Session{
		SessionID: uuid.NewString(), Token: "t", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	_, err = repo.IncrementFailedLogin(ctx, account.ID, 1, now.Add(time.Hour), now)
	require.NoError(t, err)

	require.NoError(t, repo.SetPasswordResetToken(ctx, account.ID, "token-hash", now.Add(time.Hour)))

	found, err := repo.GetByPasswordResetToken(ctx, "token-hash")
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)

	err = repo.CompletePasswordReset(ctx, account.ID, "wrong-hash", account.PasswordHash, "new-hash", nil, now)
	assert.ErrorIs(t, err, models.ErrResetTokenExpired)

	history := []string{account.PasswordHash}
	require.NoError(t, repo.CompletePasswordReset(ctx, account.ID, "token-hash", account.PasswordHash, "new-hash", history, now))

	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", stored.PasswordHash)
	assert.Nil(t, stored.PasswordResetTokenHash)
	assert.False(t, stored.AccountLocked)
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.Empty(t, stored.ActiveSessions)

	_, err = repo.GetByPasswordResetToken(ctx, "token-hash")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
