package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/medauth/internal/auth"
	"github.com/BradenHooton/medauth/internal/models"
	pkgauth "github.com/BradenHooton/medauth/pkg/auth"
	pkglogger "github.com/BradenHooton/medauth/pkg/logger"
)

// SessionService is the session registry: it issues, validates and revokes
// the server-side sessions that bearer tokens are bound to.
type SessionService struct {
	repo        AccountRepository
	tm          *auth.TokenManager
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

func NewSessionService(repo AccountRepository, tm *auth.TokenManager, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *SessionService {
	return &SessionService{
		repo:        repo,
		tm:          tm,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// Issue creates a session for accountID, mints its bearer token and appends
// it to the account.
func (s *SessionService) Issue(ctx context.Context, accountID string) (*models.Session, error) {
	sessionID, err := pkgauth.GenerateSessionID()
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tm.Generate(accountID, sessionID)
	if err != nil {
		return nil, err
	}

	session := models.Session{
		SessionID: sessionID,
		Token:     token,
		CreatedAt: s.now(),
		ExpiresAt: expiresAt,
	}

	if err := s.repo.PushSession(ctx, accountID, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.auditLogger.LogSessionEvent(pkglogger.AuditEvent{
		EventType: "session_issued",
		AccountID: accountID,
		SessionID: sessionID,
		Success:   true,
	})

	return &session, nil
}

// Validate prunes the account's expired sessions and reports whether
// sessionID is still live.
func (s *SessionService) Validate(ctx context.Context, accountID, sessionID string) (bool, error) {
	now := s.now()

	if err := s.repo.PruneExpiredSessions(ctx, accountID, now); err != nil {
		return false, fmt.Errorf("failed to prune sessions: %w", err)
	}

	ok, err := s.repo.HasActiveSession(ctx, accountID, sessionID, now)
	if err != nil {
		return false, fmt.Errorf("failed to look up session: %w", err)
	}
	return ok, nil
}

// Revoke removes one session. Revoking an absent session succeeds.
func (s *SessionService) Revoke(ctx context.Context, accountID, sessionID string) error {
	if err := s.repo.PullSession(ctx, accountID, sessionID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	s.auditLogger.LogSessionEvent(pkglogger.AuditEvent{
		EventType: "session_revoked",
		AccountID: accountID,
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// RevokeAll removes every session of the account
func (s *SessionService) RevokeAll(ctx context.Context, accountID string) error {
	if err := s.repo.PullAllSessions(ctx, accountID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.auditLogger.LogSessionEvent(pkglogger.AuditEvent{
		EventType: "sessions_revoked_all",
		AccountID: accountID,
		Success:   true,
	})
	return nil
}

// Resolve reduces an AuthContext to its (account, session) pair. Bearer
// tokens are verified cryptographically here; side-channel pairs are
// trusted as given and still go through Validate.
func (s *SessionService) Resolve(ac models.AuthContext) (string, string, error) {
	switch c := ac.(type) {
	case models.SideChannel:
		if c.AccountID == "" || c.SessionID == "" {
			return "", "", models.ErrSessionInvalid
		}
		return c.AccountID, c.SessionID, nil
	case models.BearerToken:
		claims, err := s.tm.Validate(c.Raw)
		if err != nil {
			return "", "", err
		}
		return claims.AccountID, claims.SessionID, nil
	case nil:
		return "", "", models.ErrUnauthorized
	default:
		return "", "", errors.New("unsupported auth context")
	}
}
