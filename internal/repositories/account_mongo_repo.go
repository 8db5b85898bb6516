package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/medauth/internal/database"
	"github.com/BradenHooton/medauth/internal/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const accountCollection = "accounts"

// AccountMongoRepository keeps each account as one document with its
// sessions embedded, so every mutation is a single document update.
type AccountMongoRepository struct {
	coll *mongo.Collection
}

func NewAccountMongoRepository(ctx context.Context, db *mongo.Database) (*AccountMongoRepository, error) {
	coll := db.Collection(accountCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "password_reset_token_hash", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.M{"password_reset_token_hash": bson.M{"$type": "string"}},
			),
		},
	}

	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create account indexes: %w", err)
	}

	return &AccountMongoRepository{coll: coll}, nil
}

// liveLock matches documents under a lock whose window has not elapsed
func liveLock(now time.Time) bson.M {
	return bson.M{"account_locked": true, "lockout_until": bson.M{"$gt": now}}
}

func (r *AccountMongoRepository) findOne(ctx context.Context, filter bson.M) (*models.Account, error) {
	var account models.Account
	if err := r.coll.FindOne(ctx, filter).Decode(&account); err != nil {
		return nil, database.MapMongoError(err)
	}

	now := time.Now()
	live := make([]models.Session, 0, len(account.ActiveSessions))
	for _, s := range account.ActiveSessions {
		if !s.IsExpired(now) {
			live = append(live, s)
		}
	}
	account.ActiveSessions = live
	if account.PreviousPasswordHashes == nil {
		account.PreviousPasswordHashes = []string{}
	}

	return &account, nil
}

func (r *AccountMongoRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *AccountMongoRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"email": normalizeEmail(email)})
}

func (r *AccountMongoRepository) Create(ctx context.Context, account *models.Account) error {
	now := time.Now()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.Email = normalizeEmail(account.Email)
	if account.PreviousPasswordHashes == nil {
		account.PreviousPasswordHashes = []string{}
	}
	if account.ActiveSessions == nil {
		account.ActiveSessions = []models.Session{}
	}
	if account.PasswordHistoryLimit <= 0 {
		account.PasswordHistoryLimit = models.DefaultPasswordHistoryLimit
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, account); err != nil {
		return database.MapMongoError(err)
	}
	return nil
}

// IncrementFailedLogin uses an update pipeline so the lock decision sees the
// incremented counter within the same document write.
func (r *AccountMongoRepository) IncrementFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (*models.LockoutState, error) {
	filter := bson.M{"_id": id, "$nor": bson.A{liveLock(now)}}

	reached := bson.M{"$gte": bson.A{"$failed_login_attempts", threshold}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"failed_login_attempts": bson.M{"$add": bson.A{"$failed_login_attempts", 1}},
		}}},
		{{Key: "$set", Value: bson.M{
			"account_locked": reached,
			"lockout_until":  bson.M{"$cond": bson.A{reached, lockUntil, nil}},
			"updated_at":     now,
		}}},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var account models.Account
	err := r.coll.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&account)
	if err == nil {
		return lockoutState(&account), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, database.MapMongoError(err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return lockoutState(current), models.ErrAccountLocked
}

func lockoutState(a *models.Account) *models.LockoutState {
	return &models.LockoutState{
		FailedAttempts: a.FailedLoginAttempts,
		Locked:         a.AccountLocked,
		LockedUntil:    a.LockoutUntil,
	}
}

func (r *AccountMongoRepository) ClearExpiredLockout(ctx context.Context, id string, now time.Time) (bool, error) {
	filter := bson.M{
		"_id":            id,
		"account_locked": true,
		"$or": bson.A{
			bson.M{"lockout_until": bson.M{"$lte": now}},
			bson.M{"lockout_until": nil},
		},
	}
	update := bson.M{
		"$set":   bson.M{"failed_login_attempts": 0, "account_locked": false, "updated_at": now},
		"$unset": bson.M{"lockout_until": ""},
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, database.MapMongoError(err)
	}
	return res.ModifiedCount == 1, nil
}

// RecordSuccessfulLogin leaves a live lock other than held in place and
// reports it with models.ErrAccountLocked.
func (r *AccountMongoRepository) RecordSuccessfulLogin(ctx context.Context, id string, held *time.Time, now time.Time) (*models.LockoutState, error) {
	lock := liveLock(now)
	if held != nil {
		lock["lockout_until"] = bson.M{"$gt": now, "$ne": *held}
	}
	filter := bson.M{"_id": id, "$nor": bson.A{lock}}
	update := bson.M{
		"$set": bson.M{
			"failed_login_attempts": 0, "account_locked": false,
			"last_login_at": now, "updated_at": now,
		},
		"$unset": bson.M{"lockout_until": ""},
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, database.MapMongoError(err)
	}
	if res.MatchedCount == 1 {
		return nil, nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return lockoutState(current), models.ErrAccountLocked
}

func (r *AccountMongoRepository) updateByID(ctx context.Context, id string, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return database.MapMongoError(err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *AccountMongoRepository) PushSession(ctx context.Context, id string, session models.Session) error {
	return r.updateByID(ctx, id, bson.M{"$push": bson.M{"active_sessions": session}})
}

func (r *AccountMongoRepository) PullSession(ctx context.Context, id, sessionID string) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$pull": bson.M{"active_sessions": bson.M{"session_id": sessionID}}})
	return database.MapMongoError(err)
}

func (r *AccountMongoRepository) PullAllSessions(ctx context.Context, id string) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"active_sessions": bson.A{}}})
	return database.MapMongoError(err)
}

func (r *AccountMongoRepository) PruneExpiredSessions(ctx context.Context, id string, now time.Time) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$pull": bson.M{"active_sessions": bson.M{"expires_at": bson.M{"$lte": now}}}})
	return database.MapMongoError(err)
}

// DeleteExpiredSessions pulls expired sessions from every account and
// reports how many documents changed.
func (r *AccountMongoRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	expired := bson.M{"expires_at": bson.M{"$lte": now}}
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"active_sessions": bson.M{"$elemMatch": expired}},
		bson.M{"$pull": bson.M{"active_sessions": expired}})
	if err != nil {
		return 0, database.MapMongoError(err)
	}
	return res.ModifiedCount, nil
}

func (r *AccountMongoRepository) HasActiveSession(ctx context.Context, id, sessionID string, now time.Time) (bool, error) {
	filter := bson.M{
		"_id": id,
		"active_sessions": bson.M{"$elemMatch": bson.M{
			"session_id": sessionID,
			"expires_at": bson.M{"$gt": now},
		}},
	}

	n, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return false, database.MapMongoError(err)
	}
	return n > 0, nil
}

func (r *AccountMongoRepository) RotatePassword(ctx context.Context, id, expectedHash, newHash string, history []string, now time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "password_hash": expectedHash},
		bson.M{"$set": bson.M{
			"password_hash":            newHash,
			"previous_password_hashes": history,
			"password_created_at":      now,
			"updated_at":               now,
		}},
	)
	if err != nil {
		return database.MapMongoError(err)
	}
	if res.MatchedCount == 0 {
		return models.ErrPasswordChanged
	}
	return nil
}

func (r *AccountMongoRepository) SetVerificationCode(ctx context.Context, id, code string, expiresAt time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "email_verified": false},
		bson.M{"$set": bson.M{
			"email_verification_code":       code,
			"email_verification_expires_at": expiresAt,
			"updated_at":                    time.Now(),
		}},
	)
	if err != nil {
		return database.MapMongoError(err)
	}
	if res.MatchedCount == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.EmailVerified {
			return models.ErrAlreadyVerified
		}
		return models.ErrConflict
	}
	return nil
}

func (r *AccountMongoRepository) MarkEmailVerified(ctx context.Context, id, code string, now time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{
			"_id":                           id,
			"email_verified":                false,
			"email_verification_code":       code,
			"email_verification_expires_at": bson.M{"$gte": now},
		},
		bson.M{
			"$set":   bson.M{"email_verified": true, "updated_at": now},
			"$unset": bson.M{"email_verification_code": "", "email_verification_expires_at": ""},
		},
	)
	if err != nil {
		return false, database.MapMongoError(err)
	}
	return res.ModifiedCount == 1, nil
}

func (r *AccountMongoRepository) SetPasswordResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.updateByID(ctx, id, bson.M{"$set": bson.M{
		"password_reset_token_hash": tokenHash,
		"password_reset_expires_at": expiresAt,
		"updated_at":                time.Now(),
	}})
}

func (r *AccountMongoRepository) GetByPasswordResetToken(ctx context.Context, tokenHash string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"password_reset_token_hash": tokenHash})
}

func (r *AccountMongoRepository) ClearPasswordResetToken(ctx context.Context, id string) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$unset": bson.M{"password_reset_token_hash": "", "password_reset_expires_at": ""},
		"$set":   bson.M{"updated_at": time.Now()},
	})
	return database.MapMongoError(err)
}

// CompletePasswordReset applies the whole reset as one document update keyed
// on the live token hash and the password hash the caller read.
func (r *AccountMongoRepository) CompletePasswordReset(ctx context.Context, id, tokenHash, expectedHash, newHash string, history []string, now time.Time) error {
	liveToken := bson.M{
		"_id":                       id,
		"password_reset_token_hash": tokenHash,
		"password_reset_expires_at": bson.M{"$gt": now},
	}
	filter := bson.M{
		"_id":                       id,
		"password_reset_token_hash": tokenHash,
		"password_reset_expires_at": bson.M{"$gt": now},
		"password_hash":             expectedHash,
	}

	res, err := r.coll.UpdateOne(ctx, filter,
		bson.M{
			"$set": bson.M{
				"password_hash":            newHash,
				"previous_password_hashes": history,
				"password_created_at":      now,
				"failed_login_attempts":    0,
				"account_locked":           false,
				"active_sessions":          bson.A{},
				"updated_at":               now,
			},
			"$unset": bson.M{
				"password_reset_token_hash": "",
				"password_reset_expires_at": "",
				"lockout_until":             "",
			},
		},
	)
	if err != nil {
		return database.MapMongoError(err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := r.coll.CountDocuments(ctx, liveToken)
	if err != nil {
		return database.MapMongoError(err)
	}
	if n > 0 {
		return models.ErrPasswordChanged
	}
	return models.ErrResetTokenExpired
}
