package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/medauth/internal/database"
	"github.com/BradenHooton/medauth/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRepository persists accounts in PostgreSQL. Sessions live in
// account_sessions so push and pull are single INSERT/DELETE statements.
type AccountRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db, pool: db.Pool}
}

const accountColumns = `
	id, email, name, password_hash, password_created_at, previous_password_hashes,
	password_history_limit, failed_login_attempts, account_locked, lockout_until,
	email_verified, email_verification_code, email_verification_expires_at,
	password_reset_token_hash, password_reset_expires_at, last_login_at,
	created_at, updated_at`

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var a models.Account
	err := scanner.Scan(
		&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.PasswordCreatedAt, &a.PreviousPasswordHashes,
		&a.PasswordHistoryLimit, &a.FailedLoginAttempts, &a.AccountLocked, &a.LockoutUntil,
		&a.EmailVerified, &a.EmailVerificationCode, &a.EmailVerificationExpiresAt,
		&a.PasswordResetTokenHash, &a.PasswordResetExpiresAt, &a.LastLoginAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	if a.PreviousPasswordHashes == nil {
		a.PreviousPasswordHashes = []string{}
	}
	return &a, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *AccountRepository) getOne(ctx context.Context, where string, arg any) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where

	account, err := scanAccountRow(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}

	sessions, err := r.listSessions(ctx, account.ID, time.Now())
	if err != nil {
		return nil, err
	}
	account.ActiveSessions = sessions

	return account, nil
}

func (r *AccountRepository) listSessions(ctx context.Context, accountID string, now time.Time) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, token, created_at, expires_at
		FROM account_sessions
		WHERE account_id = $1 AND expires_at > $2
		ORDER BY created_at
	`, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.SessionID, &s.Token, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	return r.getOne(ctx, `id = $1`, id)
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getOne(ctx, `email = $1`, normalizeEmail(email))
}

// Create inserts a new account. A duplicate email yields models.ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.Email = normalizeEmail(account.Email)
	if account.PreviousPasswordHashes == nil {
		account.PreviousPasswordHashes = []string{}
	}
	if account.PasswordHistoryLimit <= 0 {
		account.PasswordHistoryLimit = models.DefaultPasswordHistoryLimit
	}

	query := `
		INSERT INTO accounts (
			id, email, name, password_hash, password_created_at, previous_password_hashes,
			password_history_limit, email_verified, email_verification_code,
			email_verification_expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		account.ID, account.Email, account.Name, account.PasswordHash, account.PasswordCreatedAt,
		account.PreviousPasswordHashes, account.PasswordHistoryLimit, account.EmailVerified,
		account.EmailVerificationCode, account.EmailVerificationExpiresAt,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}

	account.ActiveSessions = []models.Session{}
	return nil
}

// IncrementFailedLogin adds one failure and locks when the new count reaches
// threshold. It refuses to touch an account under a live lock and then
// returns the current state with models.ErrAccountLocked.
func (r *AccountRepository) IncrementFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (*models.LockoutState, error) {
	query := `
		UPDATE accounts SET
			failed_login_attempts = failed_login_attempts + 1,
			account_locked = (failed_login_attempts + 1 >= $2),
			lockout_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3::timestamptz ELSE NULL END,
			updated_at = $4
		WHERE id = $1 AND NOT (account_locked AND lockout_until IS NOT NULL AND lockout_until > $4)
		RETURNING failed_login_attempts, account_locked, lockout_until
	`

	var state models.LockoutState
	err := r.pool.QueryRow(ctx, query, id, threshold, lockUntil, now).
		Scan(&state.FailedAttempts, &state.Locked, &state.LockedUntil)
	if err == nil {
		return &state, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, database.MapPostgresError(err)
	}

	err = r.pool.QueryRow(ctx, `
		SELECT failed_login_attempts, account_locked, lockout_until FROM accounts WHERE id = $1
	`, id).Scan(&state.FailedAttempts, &state.Locked, &state.LockedUntil)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &state, models.ErrAccountLocked
}

// ClearExpiredLockout resets the counter and lock only when the lock window
// has elapsed. It reports whether a stale lock was cleared.
func (r *AccountRepository) ClearExpiredLockout(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET failed_login_attempts = 0, account_locked = FALSE, lockout_until = NULL, updated_at = $2
		WHERE id = $1 AND account_locked AND (lockout_until IS NULL OR lockout_until <= $2)
	`, id, now)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordSuccessfulLogin zeroes the lockout state and stamps last_login_at.
// A live lock other than held is left in place and reported with
// models.ErrAccountLocked.
func (r *AccountRepository) RecordSuccessfulLogin(ctx context.Context, id string, held *time.Time, now time.Time) (*models.LockoutState, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET failed_login_attempts = 0, account_locked = FALSE, lockout_until = NULL,
		    last_login_at = $2, updated_at = $2
		WHERE id = $1 AND NOT (account_locked AND lockout_until IS NOT NULL AND lockout_until > $2
		                       AND lockout_until IS DISTINCT FROM $3::timestamptz)
	`, id, now, held)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	var state models.LockoutState
	err = r.pool.QueryRow(ctx, `
		SELECT failed_login_attempts, account_locked, lockout_until FROM accounts WHERE id = $1
	`, id).Scan(&state.FailedAttempts, &state.Locked, &state.LockedUntil)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &state, models.ErrAccountLocked
}

func (r *AccountRepository) PushSession(ctx context.Context, id string, session models.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO account_sessions (account_id, session_id, token, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, session.SessionID, session.Token, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrBadRequest) {
			return models.ErrNotFound
		}
		return database.MapPostgresError(err)
	}
	return nil
}

// PullSession removes one session. Removing an absent session is not an error.
func (r *AccountRepository) PullSession(ctx context.Context, id, sessionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM account_sessions WHERE account_id = $1 AND session_id = $2`, id, sessionID)
	return database.MapPostgresError(err)
}

func (r *AccountRepository) PullAllSessions(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM account_sessions WHERE account_id = $1`, id)
	return database.MapPostgresError(err)
}

func (r *AccountRepository) PruneExpiredSessions(ctx context.Context, id string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM account_sessions WHERE account_id = $1 AND expires_at <= $2`, id, now)
	return database.MapPostgresError(err)
}

// DeleteExpiredSessions removes expired sessions across all accounts
func (r *AccountRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM account_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

func (r *AccountRepository) HasActiveSession(ctx context.Context, id, sessionID string, now time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM account_sessions
			WHERE account_id = $1 AND session_id = $2 AND expires_at > $3
		)
	`, id, sessionID, now).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// RotatePassword swaps in newHash only if the stored hash still equals
// expectedHash, so history derived from a stale read is never written.
func (r *AccountRepository) RotatePassword(ctx context.Context, id, expectedHash, newHash string, history []string, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET password_hash = $3, previous_password_hashes = $4, password_created_at = $5, updated_at = $5
		WHERE id = $1 AND password_hash = $2
	`, id, expectedHash, newHash, history, now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrPasswordChanged
	}
	return nil
}

// SetVerificationCode stores a fresh code on an unverified account
func (r *AccountRepository) SetVerificationCode(ctx context.Context, id, code string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET email_verification_code = $2, email_verification_expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND NOT email_verified
	`, id, code, expiresAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMissingUnverified(ctx, id)
	}
	return nil
}

// MarkEmailVerified flips the flag only if code is still the live stored code.
// It reports false when another request consumed or replaced the code first.
func (r *AccountRepository) MarkEmailVerified(ctx context.Context, id, code string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET email_verified = TRUE, email_verification_code = NULL,
		    email_verification_expires_at = NULL, updated_at = $3
		WHERE id = $1 AND NOT email_verified
		  AND email_verification_code = $2 AND email_verification_expires_at >= $3
	`, id, code, now)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AccountRepository) classifyMissingUnverified(ctx context.Context, id string) error {
	var verified bool
	err := r.pool.QueryRow(ctx, `SELECT email_verified FROM accounts WHERE id = $1`, id).Scan(&verified)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if verified {
		return models.ErrAlreadyVerified
	}
	return models.ErrConflict
}

func (r *AccountRepository) SetPasswordResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET password_reset_token_hash = $2, password_reset_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`, id, tokenHash, expiresAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) GetByPasswordResetToken(ctx context.Context, tokenHash string) (*models.Account, error) {
	return r.getOne(ctx, `password_reset_token_hash = $1`, tokenHash)
}

func (r *AccountRepository) ClearPasswordResetToken(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET password_reset_token_hash = NULL, password_reset_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	return database.MapPostgresError(err)
}

// CompletePasswordReset consumes a live reset token, rotates the password,
// clears the lockout and revokes every session in one transaction. The
// rotation only applies while the stored hash is still expectedHash.
func (r *AccountRepository) CompletePasswordReset(ctx context.Context, id, tokenHash, expectedHash, newHash string, history []string, now time.Time) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var currentHash string
		err := tx.QueryRow(ctx, `
			SELECT password_hash FROM accounts
			WHERE id = $1 AND password_reset_token_hash = $2 AND password_reset_expires_at > $3
			FOR UPDATE
		`, id, tokenHash, now).Scan(&currentHash)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrResetTokenExpired
		}
		if err != nil {
			return database.MapPostgresError(err)
		}
		if currentHash != expectedHash {
			return models.ErrPasswordChanged
		}

		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET password_hash = $3, previous_password_hashes = $4, password_created_at = $5,
			    password_reset_token_hash = NULL, password_reset_expires_at = NULL,
			    failed_login_attempts = 0, account_locked = FALSE, lockout_until = NULL,
			    updated_at = $5
			WHERE id = $1 AND password_hash = $2
		`, id, expectedHash, newHash, history, now)
		if err != nil {
			return database.MapPostgresError(err)
		}

		_, err = tx.Exec(ctx, `DELETE FROM account_sessions WHERE account_id = $1`, id)
		return database.MapPostgresError(err)
	})
}
