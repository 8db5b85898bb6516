package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims binds a bearer token to one account session
type TokenClaims struct {
	AccountID string `json:"id"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// AuthContext is how a request claims to be authenticated.
// It is either a SideChannel reference or a BearerToken, never both.
type AuthContext interface {
	authContext()
}

// SideChannel is a server-trusted session reference (cookie-backed)
type SideChannel struct {
	AccountID string
	SessionID string
}

// BearerToken is a raw signed token presented by the client
type BearerToken struct {
	Raw string
}

func (SideChannel) authContext() {}
func (BearerToken) authContext() {}

// Principal is a resolved, validated request identity
type Principal struct {
	AccountID     string
	SessionID     string
	Email         string
	EmailVerified bool
}

// AuthResult is the structured outcome of every inbound auth operation
type AuthResult struct {
	Success       bool       `json:"success"`
	Message       string     `json:"message,omitempty"`
	Errors        []string   `json:"errors,omitempty"`
	Token         *string    `json:"token"`
	SessionID     string     `json:"sessionId,omitempty"`
	EmailVerified *bool      `json:"emailVerified,omitempty"`
	LockedUntil   *time.Time `json:"lockedUntil,omitempty"`
	Kind          string     `json:"kind,omitempty"`
	AccountID     string     `json:"-"`

	PasswordStrength      *int   `json:"passwordStrength,omitempty"`
	PasswordStrengthLabel string `json:"passwordStrengthLabel,omitempty"`
}
