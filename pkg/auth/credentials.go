package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/matthewhartstonge/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost      = 12
	SessionIDLength = 32
)

// Algorithm names accepted by SetHashAlgorithm
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

var ErrUnknownHashAlgorithm = errors.New("unknown password hash algorithm")

// hashAlgorithm is process-wide; it is set once at startup from configuration
var hashAlgorithm = AlgorithmBcrypt

// SetHashAlgorithm selects the algorithm used by HashPassword for new hashes.
// Existing hashes of either kind keep verifying.
func SetHashAlgorithm(name string) error {
	switch strings.ToLower(name) {
	case "", AlgorithmBcrypt:
		hashAlgorithm = AlgorithmBcrypt
	case AlgorithmArgon2id:
		hashAlgorithm = AlgorithmArgon2id
	default:
		return fmt.Errorf("%w: %s", ErrUnknownHashAlgorithm, name)
	}
	return nil
}

// HashPassword produces a salted one-way hash with a fresh salt per call
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	if hashAlgorithm == AlgorithmArgon2id {
		cfg := argon2.DefaultConfig()
		encoded, err := cfg.HashEncoded([]byte(password))
		if err != nil {
			return "", fmt.Errorf("failed to hash password: %w", err)
		}
		return string(encoded), nil
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// ComparePassword returns nil when password matches hashedPassword
func ComparePassword(hashedPassword, password string) error {
	if strings.HasPrefix(hashedPassword, "$argon2") {
		ok, err := argon2.VerifyEncoded([]byte(password), []byte(hashedPassword))
		if err != nil {
			return err
		}
		if !ok {
			return bcrypt.ErrMismatchedHashAndPassword
		}
		return nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// VerifyPassword is ComparePassword as a bool
func VerifyPassword(password, hashedPassword string) bool {
	return ComparePassword(hashedPassword, password) == nil
}

// WasPreviouslyUsed reports whether password matches any hash in history
func WasPreviouslyUsed(password string, history []string) bool {
	for _, h := range history {
		if VerifyPassword(password, h) {
			return true
		}
	}
	return false
}

// RotatePassword hashes newPassword and pushes currentHash onto the front of
// history, keeping at most limit-1 entries. The caller persists both results.
func RotatePassword(newPassword, currentHash string, history []string, limit int) (string, []string, error) {
	newHash, err := HashPassword(newPassword)
	if err != nil {
		return "", nil, err
	}

	keep := limit - 1
	if keep < 0 {
		keep = 0
	}

	newHistory := make([]string, 0, len(history)+1)
	if currentHash != "" {
		newHistory = append(newHistory, currentHash)
	}
	newHistory = append(newHistory, history...)
	if len(newHistory) > keep {
		newHistory = newHistory[:keep]
	}

	return newHash, newHistory, nil
}

const sessionIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSessionID returns an unguessable alphanumeric identifier
func GenerateSessionID() (string, error) {
	max := big.NewInt(int64(len(sessionIDAlphabet)))
	b := make([]byte, SessionIDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate session id: %w", err)
		}
		b[i] = sessionIDAlphabet[n.Int64()]
	}
	return string(b), nil
}
