package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrAccountLocked  = errors.New("account is temporarily locked")
	ErrExpired        = errors.New("expired")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Verification flow
	ErrAlreadyVerified = fmt.Errorf("%w: email already verified", ErrConflict)
	ErrNoCodeIssued    = fmt.Errorf("%w: no verification code issued", ErrNotFound)
	ErrCodeExpired     = fmt.Errorf("%w: verification code expired", ErrExpired)
	ErrCodeMismatch    = fmt.Errorf("%w: verification code mismatch", ErrUnauthorized)

	// Credentials and sessions
	ErrPasswordReused    = fmt.Errorf("%w: password previously used", ErrConflict)
	ErrPasswordChanged   = fmt.Errorf("%w: password changed concurrently", ErrConflict)
	ErrSessionInvalid    = fmt.Errorf("%w: session expired or invalid", ErrUnauthorized)
	ErrTokenInvalid      = fmt.Errorf("%w: invalid or expired token", ErrUnauthorized)
	ErrResetTokenExpired = fmt.Errorf("%w: password reset token expired", ErrExpired)

	// Collaborators
	ErrEmailDispatch = errors.New("email dispatch failed")
)

// AuthError is a user-facing failure recovered at the gateway boundary
type AuthError struct {
	Kind        error
	Message     string
	Errors      []string
	LockedUntil *time.Time

	// Advisory strength of a rejected password
	PasswordStrength      *int
	PasswordStrengthLabel string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Kind
}

// NewAuthError builds an AuthError with the given kind and message
func NewAuthError(kind error, message string) *AuthError {
	return &AuthError{Kind: kind, Message: message}
}

// ErrorKind returns the taxonomy code for an error, as used in API responses
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBadRequest):
		return "validation_error"
	case errors.Is(err, ErrAccountLocked):
		return "locked"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrExpired):
		return "expired_token"
	case errors.Is(err, ErrEmailDispatch):
		return "email_dispatch_failed"
	default:
		return "internal_error"
	}
}

// Result renders the error as a failed AuthResult
func (e *AuthError) Result() *AuthResult {
	return &AuthResult{
		Success:     false,
		Message:     e.Error(),
		Errors:      e.Errors,
		LockedUntil: e.LockedUntil,
		Kind:        ErrorKind(e),

		PasswordStrength:      e.PasswordStrength,
		PasswordStrengthLabel: e.PasswordStrengthLabel,
	}
}
