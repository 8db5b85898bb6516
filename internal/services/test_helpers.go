package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/medauth/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockAccountRepository is an in-memory AccountRepository for tests. Any
// Func field that is set replaces the in-memory behaviour of that method.
type MockAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*models.Account

	GetByIDFunc               func(ctx context.Context, id string) (*models.Account, error)
	GetByEmailFunc            func(ctx context.Context, email string) (*models.Account, error)
	CreateFunc                func(ctx context.Context, account *models.Account) error
	IncrementFailedLoginFunc  func(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (*models.LockoutState, error)
	PushSessionFunc           func(ctx context.Context, id string, session models.Session) error
	RotatePasswordFunc        func(ctx context.Context, id, expectedHash, newHash string, history []string, now time.Time) error
	MarkEmailVerifiedFunc     func(ctx context.Context, id, code string, now time.Time) (bool, error)
	CompletePasswordResetFunc func(ctx context.Context, id, tokenHash, expectedHash, newHash string, history []string, now time.Time) error
}

func NewMockAccountRepository(accounts ...*models.Account) *MockAccountRepository {
	m := &MockAccountRepository{accounts: make(map[string]*models.Account)}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return m
}

// Stored returns a copy of the stored account, or nil
func (m *MockAccountRepository) Stored(id string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil
	}
	return cloneAccount(a)
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	c.PreviousPasswordHashes = append([]string{}, a.PreviousPasswordHashes...)
	c.ActiveSessions = append([]models.Session{}, a.ActiveSessions...)
	return &c
}

func (m *MockAccountRepository) get(id string) (*models.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return a, nil
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return cloneAccount(a), nil
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			return cloneAccount(a), nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == account.Email {
			return models.ErrConflict
		}
	}
	m.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (m *MockAccountRepository) IncrementFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (*models.LockoutState, error) {
	if m.IncrementFailedLoginFunc != nil {
		return m.IncrementFailedLoginFunc(ctx, id, threshold, lockUntil, now)
	}
	return m.incrementFailedLogin(id, threshold, lockUntil, now)
}

func (m *MockAccountRepository) incrementFailedLogin(id string, threshold int, lockUntil, now time.Time) (*models.LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if a.IsLocked(now) {
		return &models.LockoutState{FailedAttempts: a.FailedLoginAttempts, Locked: true, LockedUntil: a.LockoutUntil}, models.ErrAccountLocked
	}
	a.FailedLoginAttempts++
	if a.FailedLoginAttempts >= threshold {
		u := lockUntil
		a.AccountLocked = true
		a.LockoutUntil = &u
	}
	return &models.LockoutState{FailedAttempts: a.FailedLoginAttempts, Locked: a.AccountLocked, LockedUntil: a.LockoutUntil}, nil
}

func (m *MockAccountRepository) ClearExpiredLockout(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return false, err
	}
	if !a.HasStaleLock(now) {
		return false, nil
	}
	a.AccountLocked = false
	a.LockoutUntil = nil
	a.FailedLoginAttempts = 0
	return true, nil
}

func (m *MockAccountRepository) RecordSuccessfulLogin(_ context.Context, id string, held *time.Time, now time.Time) (*models.LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if a.IsLocked(now) && (held == nil || !a.LockoutUntil.Equal(*held)) {
		return &models.LockoutState{FailedAttempts: a.FailedLoginAttempts, Locked: true, LockedUntil: a.LockoutUntil}, models.ErrAccountLocked
	}
	a.FailedLoginAttempts = 0
	a.AccountLocked = false
	a.LockoutUntil = nil
	a.LastLoginAt = &now
	return nil, nil
}

func (m *MockAccountRepository) PushSession(ctx context.Context, id string, session models.Session) error {
	if m.PushSessionFunc != nil {
		return m.PushSessionFunc(ctx, id, session)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.ActiveSessions = append(a.ActiveSessions, session)
	return nil
}

func (m *MockAccountRepository) PullSession(_ context.Context, id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil
	}
	kept := a.ActiveSessions[:0]
	for _, s := range a.ActiveSessions {
		if s.SessionID != sessionID {
			kept = append(kept, s)
		}
	}
	a.ActiveSessions = kept
	return nil
}

func (m *MockAccountRepository) PullAllSessions(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.ActiveSessions = []models.Session{}
	}
	return nil
}

func (m *MockAccountRepository) PruneExpiredSessions(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil
	}
	kept := a.ActiveSessions[:0]
	for _, s := range a.ActiveSessions {
		if !s.IsExpired(now) {
			kept = append(kept, s)
		}
	}
	a.ActiveSessions = kept
	return nil
}

func (m *MockAccountRepository) HasActiveSession(_ context.Context, id, sessionID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return false, nil
	}
	for _, s := range a.ActiveSessions {
		if s.SessionID == sessionID && !s.IsExpired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockAccountRepository) RotatePassword(ctx context.Context, id, expectedHash, newHash string, history []string, now time.Time) error {
	if m.RotatePasswordFunc != nil {
		return m.RotatePasswordFunc(ctx, id, expectedHash, newHash, history, now)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return err
	}
	if a.PasswordHash != expectedHash {
		return models.ErrPasswordChanged
	}
	a.PasswordHash = newHash
	a.PreviousPasswordHashes = append([]string{}, history...)
	a.PasswordCreatedAt = now
	return nil
}

func (m *MockAccountRepository) SetVerificationCode(_ context.Context, id, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return err
	}
	if a.EmailVerified {
		return models.ErrAlreadyVerified
	}
	a.EmailVerificationCode = &code
	a.EmailVerificationExpiresAt = &expiresAt
	return nil
}

func (m *MockAccountRepository) MarkEmailVerified(ctx context.Context, id, code string, now time.Time) (bool, error) {
	if m.MarkEmailVerifiedFunc != nil {
		return m.MarkEmailVerifiedFunc(ctx, id, code, now)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return false, err
	}
	if a.EmailVerified || !a.HasVerificationCode() || *a.EmailVerificationCode != code || now.After(*a.EmailVerificationExpiresAt) {
		return false, nil
	}
	a.EmailVerified = true
	a.EmailVerificationCode = nil
	a.EmailVerificationExpiresAt = nil
	return true, nil
}

func (m *MockAccountRepository) SetPasswordResetToken(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.PasswordResetTokenHash = &tokenHash
	a.PasswordResetExpiresAt = &expiresAt
	return nil
}

func (m *MockAccountRepository) GetByPasswordResetToken(_ context.Context, tokenHash string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.PasswordResetTokenHash != nil && *a.PasswordResetTokenHash == tokenHash {
			return cloneAccount(a), nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) ClearPasswordResetToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.PasswordResetTokenHash = nil
		a.PasswordResetExpiresAt = nil
	}
	return nil
}

func (m *MockAccountRepository) CompletePasswordReset(ctx context.Context, id, tokenHash, expectedHash, newHash string, history []string, now time.Time) error {
	if m.CompletePasswordResetFunc != nil {
		return m.CompletePasswordResetFunc(ctx, id, tokenHash, expectedHash, newHash, history, now)
	}
	return m.completePasswordReset(id, tokenHash, expectedHash, newHash, history, now)
}

func (m *MockAccountRepository) completePasswordReset(id, tokenHash, expectedHash, newHash string, history []string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return err
	}
	if a.PasswordResetTokenHash == nil || *a.PasswordResetTokenHash != tokenHash ||
		a.PasswordResetExpiresAt == nil || !now.Before(*a.PasswordResetExpiresAt) {
		return models.ErrResetTokenExpired
	}
	if a.PasswordHash != expectedHash {
		return models.ErrPasswordChanged
	}
	a.PasswordHash = newHash
	a.PreviousPasswordHashes = append([]string{}, history...)
	a.PasswordCreatedAt = now
	a.FailedLoginAttempts = 0
	a.AccountLocked = false
	a.LockoutUntil = nil
	a.PasswordResetTokenHash = nil
	a.PasswordResetExpiresAt = nil
	a.ActiveSessions = []models.Session{}
	return nil
}

// MockEmailService records what would have been sent
type MockEmailService struct {
	mu sync.Mutex

	SendVerificationCodeFunc  func(ctx context.Context, email, code string, expiresAt time.Time) error
	SendPasswordResetLinkFunc func(ctx context.Context, email, token string, expiresAt time.Time) error

	Codes      map[string]string
	ResetLinks map[string]string
}

func (m *MockEmailService) SendVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	if m.SendVerificationCodeFunc != nil {
		return m.SendVerificationCodeFunc(ctx, email, code, expiresAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Codes == nil {
		m.Codes = make(map[string]string)
	}
	m.Codes[email] = code
	return nil
}

func (m *MockEmailService) SendPasswordResetLink(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendPasswordResetLinkFunc != nil {
		return m.SendPasswordResetLinkFunc(ctx, email, token, expiresAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ResetLinks == nil {
		m.ResetLinks = make(map[string]string)
	}
	m.ResetLinks[email] = token
	return nil
}
