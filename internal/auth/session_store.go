package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/medauth/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	sessionRefPrefix = "medauth:sid:"
	accountRefPrefix = "medauth:acct:"
	sessionRefBytes  = 32
)

// ErrSessionStoreUnavailable wraps Redis transport failures
var ErrSessionStoreUnavailable = errors.New("session store unavailable")

// SessionStore maps opaque cookie references to (account, session) pairs.
// It is the server-side half of the cookie-backed session.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func newSessionRef() (string, error) {
	b := make([]byte, sessionRefBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session reference: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Save stores a new reference for the pair and returns it
func (s *SessionStore) Save(ctx context.Context, accountID, sessionID string) (string, error) {
	ref, err := newSessionRef()
	if err != nil {
		return "", err
	}

	key := sessionRefPrefix + ref
	index := accountRefPrefix + accountID

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "account_id", accountID, "session_id", sessionID)
		pipe.Expire(ctx, key, s.ttl)
		pipe.SAdd(ctx, index, ref)
		pipe.Expire(ctx, index, s.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}

	return ref, nil
}

// Resolve returns the side-channel context for ref
func (s *SessionStore) Resolve(ctx context.Context, ref string) (models.SideChannel, error) {
	if ref == "" {
		return models.SideChannel{}, models.ErrSessionInvalid
	}

	values, err := s.rdb.HGetAll(ctx, sessionRefPrefix+ref).Result()
	if err != nil {
		return models.SideChannel{}, fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}

	sc := models.SideChannel{AccountID: values["account_id"], SessionID: values["session_id"]}
	if sc.AccountID == "" || sc.SessionID == "" {
		return models.SideChannel{}, models.ErrSessionInvalid
	}
	return sc, nil
}

// Destroy removes ref. Removing an unknown reference is not an error.
func (s *SessionStore) Destroy(ctx context.Context, ref string) error {
	key := sessionRefPrefix + ref

	accountID, err := s.rdb.HGet(ctx, key, "account_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if accountID != "" {
			pipe.SRem(ctx, accountRefPrefix+accountID, ref)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}
	return nil
}

// DestroyAccount removes every reference issued for accountID
func (s *SessionStore) DestroyAccount(ctx context.Context, accountID string) error {
	index := accountRefPrefix + accountID

	refs, err := s.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}

	keys := make([]string, 0, len(refs)+1)
	for _, ref := range refs {
		keys = append(keys, sessionRefPrefix+ref)
	}
	keys = append(keys, index)

	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}
	return nil
}
