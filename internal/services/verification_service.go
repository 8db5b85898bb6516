package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/BradenHooton/medauth/internal/models"
	pkglogger "github.com/BradenHooton/medauth/pkg/logger"
)

const (
	otpMin = 100000
	otpMax = 999999
)

// GenerateCode returns a 6-digit code drawn uniformly from 100000..999999
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}

// VerificationService runs the emailed one-time-code flow
type VerificationService struct {
	repo        AccountRepository
	email       EmailService
	ttl         time.Duration
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

func NewVerificationService(repo AccountRepository, email EmailService, ttl time.Duration, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *VerificationService {
	return &VerificationService{
		repo:        repo,
		email:       email,
		ttl:         ttl,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// NewCode returns a fresh code and its expiry
func (s *VerificationService) NewCode() (string, time.Time, error) {
	code, err := GenerateCode()
	if err != nil {
		return "", time.Time{}, err
	}
	return code, s.now().Add(s.ttl), nil
}

// Dispatch emails code to address. A failure wraps models.ErrEmailDispatch.
func (s *VerificationService) Dispatch(ctx context.Context, address, code string, expiresAt time.Time) error {
	if err := s.email.SendVerificationCode(ctx, address, code, expiresAt); err != nil {
		s.logger.Warn("verification email dispatch failed", pkglogger.EmailAttr(address), slog.Any("error", err))
		return errors.Join(models.ErrEmailDispatch, err)
	}
	return nil
}

// Issue stores a new code on an unverified account and emails it
func (s *VerificationService) Issue(ctx context.Context, account *models.Account) error {
	if account.EmailVerified {
		return models.ErrAlreadyVerified
	}

	code, expiresAt, err := s.NewCode()
	if err != nil {
		return err
	}

	if err := s.repo.SetVerificationCode(ctx, account.ID, code, expiresAt); err != nil {
		return err
	}
	account.EmailVerificationCode = &code
	account.EmailVerificationExpiresAt = &expiresAt

	return s.Dispatch(ctx, account.Email, code, expiresAt)
}

// Resend is Issue for an account that asked for another code
func (s *VerificationService) Resend(ctx context.Context, account *models.Account) error {
	return s.Issue(ctx, account)
}

// classify applies the verification checks in order against a snapshot
func (s *VerificationService) classify(account *models.Account, submitted string, now time.Time) error {
	if account.EmailVerified {
		return models.ErrAlreadyVerified
	}
	if !account.HasVerificationCode() {
		return models.ErrNoCodeIssued
	}
	if now.After(*account.EmailVerificationExpiresAt) {
		return models.ErrCodeExpired
	}
	if subtle.ConstantTimeCompare([]byte(*account.EmailVerificationCode), []byte(submitted)) != 1 {
		return models.ErrCodeMismatch
	}
	return nil
}

// Verify checks submitted against the stored code and marks the email
// verified. The write is conditional on the stored code, so a code succeeds
// at most once even under concurrent submissions.
func (s *VerificationService) Verify(ctx context.Context, account *models.Account, submitted string) error {
	now := s.now()

	if err := s.classify(account, submitted, now); err != nil {
		s.auditLogger.LogAccountAction("email_verification_failed", account.ID,
			map[string]string{"reason": models.ErrorKind(err)})
		return err
	}

	ok, err := s.repo.MarkEmailVerified(ctx, account.ID, submitted, now)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}

	if !ok {
		current, err := s.repo.GetByID(ctx, account.ID)
		if err != nil {
			return err
		}
		if err := s.classify(current, submitted, now); err != nil {
			return err
		}
		return models.ErrCodeMismatch
	}

	account.EmailVerified = true
	account.EmailVerificationCode = nil
	account.EmailVerificationExpiresAt = nil

	s.auditLogger.LogAccountAction("email_verified", account.ID, nil)
	return nil
}
