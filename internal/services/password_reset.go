package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/medauth/internal/models"
	pkgauth "github.com/BradenHooton/medauth/pkg/auth"
	pkglogger "github.com/BradenHooton/medauth/pkg/logger"
)

const (
	MsgResetRequested = "If an account exists for this email, a password reset link has been sent."
	MsgResetInvalid   = "Invalid or expired reset token"
	MsgResetExpired   = "Password reset link has expired"
	MsgResetComplete  = "Password has been reset. Please log in with your new password."

	resetTokenBytes = 32
)

// HashResetToken is the form a reset token is stored and looked up by
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ForgotPassword emails a single-use reset link. The response is identical
// whether or not the account exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (*models.AuthResult, error) {
	start := s.now()
	email = normalizeEmail(email)

	if email == "" {
		return failWith(models.ErrValidation, MsgMissingDetails)
	}
	if !s.validEmail(email) {
		return failWith(models.ErrValidation, MsgInvalidEmail)
	}

	done := &models.AuthResult{Success: true, Message: MsgResetRequested}

	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.timing.WaitFrom(start, false)
			return done, nil
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	token, err := generateResetToken()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.resetTTL)

	if err := s.repo.SetPasswordResetToken(ctx, account.ID, HashResetToken(token), expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store reset token: %w", err)
	}

	if err := s.email.SendPasswordResetLink(ctx, account.Email, token, expiresAt); err != nil {
		s.logger.Warn("password reset email dispatch failed",
			pkglogger.EmailAttr(account.Email), slog.Any("error", err))
	}

	s.auditLogger.LogPasswordChange("password_reset_requested", account.ID, true, "")
	s.timing.WaitFrom(start, false)
	done.AccountID = account.ID
	return done, nil
}

// ResetPassword consumes a reset token and sets a new password. Every
// session of the account is revoked and any lockout is cleared.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (*models.AuthResult, error) {
	if token == "" || newPassword == "" {
		return failWith(models.ErrValidation, MsgMissingDetails)
	}

	tokenHash := HashResetToken(token)

	account, err := s.repo.GetByPasswordResetToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return failWith(models.ErrTokenInvalid, MsgResetInvalid)
		}
		return nil, fmt.Errorf("failed to look up reset token: %w", err)
	}

	now := s.now()
	if account.PasswordResetExpiresAt == nil || !now.Before(*account.PasswordResetExpiresAt) {
		if err := s.repo.ClearPasswordResetToken(ctx, account.ID); err != nil {
			s.logger.Warn("failed to clear expired reset token",
				slog.String("account_id", account.ID), slog.Any("error", err))
		}
		return failWith(models.ErrResetTokenExpired, MsgResetExpired)
	}

	if authErr := s.checkNewPassword(account, newPassword); authErr != nil {
		s.auditLogger.LogPasswordChange("password_reset", account.ID, false, models.ErrorKind(authErr))
		return fail(authErr)
	}

	newHash, history, err := pkgauth.RotatePassword(newPassword, account.PasswordHash, account.PreviousPasswordHashes, account.HistoryLimit())
	if err != nil {
		return nil, err
	}

	if err := s.repo.CompletePasswordReset(ctx, account.ID, tokenHash, account.PasswordHash, newHash, history, now); err != nil {
		if errors.Is(err, models.ErrResetTokenExpired) {
			return failWith(models.ErrResetTokenExpired, MsgResetExpired)
		}
		if errors.Is(err, models.ErrPasswordChanged) {
			s.auditLogger.LogPasswordChange("password_reset", account.ID, false, "password_changed")
			return failWith(models.ErrPasswordChanged, MsgPasswordRace)
		}
		return nil, fmt.Errorf("failed to reset password: %w", err)
	}

	s.auditLogger.LogPasswordChange("password_reset", account.ID, true, "")
	return &models.AuthResult{Success: true, Message: MsgResetComplete, AccountID: account.ID}, nil
}
