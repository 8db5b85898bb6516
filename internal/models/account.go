package models

import (
	"time"
)

// DefaultPasswordHistoryLimit bounds PreviousPasswordHashes to limit-1 entries
const DefaultPasswordHistoryLimit = 5

// Account is the unit of consistency shared by every auth operation
type Account struct {
	ID                         string     `bson:"_id"`
	Email                      string     `bson:"email"`
	Name                       string     `bson:"name"`
	PasswordHash               string     `bson:"password_hash"`
	PasswordCreatedAt          time.Time  `bson:"password_created_at"`
	PreviousPasswordHashes     []string   `bson:"previous_password_hashes"`
	PasswordHistoryLimit       int        `bson:"password_history_limit"`
	FailedLoginAttempts        int        `bson:"failed_login_attempts"`
	AccountLocked              bool       `bson:"account_locked"`
	LockoutUntil               *time.Time `bson:"lockout_until,omitempty"`
	EmailVerified              bool       `bson:"email_verified"`
	EmailVerificationCode      *string    `bson:"email_verification_code,omitempty"`
	EmailVerificationExpiresAt *time.Time `bson:"email_verification_expires_at,omitempty"`
	PasswordResetTokenHash     *string    `bson:"password_reset_token_hash,omitempty"`
	PasswordResetExpiresAt     *time.Time `bson:"password_reset_expires_at,omitempty"`
	ActiveSessions             []Session  `bson:"active_sessions"`
	LastLoginAt                *time.Time `bson:"last_login_at,omitempty"`
	CreatedAt                  time.Time  `bson:"created_at"`
	UpdatedAt                  time.Time  `bson:"updated_at"`
}

// HistoryLimit returns the configured history limit, falling back to the default
func (a *Account) HistoryLimit() int {
	if a.PasswordHistoryLimit <= 0 {
		return DefaultPasswordHistoryLimit
	}
	return a.PasswordHistoryLimit
}

// IsLocked reports whether a lock is in force at now.
// A lock whose window has elapsed is stale and reported as open.
func (a *Account) IsLocked(now time.Time) bool {
	return a.AccountLocked && a.LockoutUntil != nil && now.Before(*a.LockoutUntil)
}

// HasStaleLock reports a lock flag whose window has already elapsed
func (a *Account) HasStaleLock(now time.Time) bool {
	return a.AccountLocked && (a.LockoutUntil == nil || !now.Before(*a.LockoutUntil))
}

// HasVerificationCode reports whether both OTP fields are present
func (a *Account) HasVerificationCode() bool {
	return a.EmailVerificationCode != nil && *a.EmailVerificationCode != "" && a.EmailVerificationExpiresAt != nil
}

// Session is a server-tracked record authorizing a bearer token
type Session struct {
	SessionID string    `bson:"session_id" json:"session_id"`
	Token     string    `bson:"token" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
}

// IsExpired checks whether the session is past its expiry at now
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// LockoutState is the lockout view returned by atomic counter updates
type LockoutState struct {
	FailedAttempts int
	Locked         bool
	LockedUntil    *time.Time
}
