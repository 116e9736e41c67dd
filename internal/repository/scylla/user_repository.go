package scylla

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"estate-auth/internal/bucketing"
	"estate-auth/internal/encryption"
	"estate-auth/internal/models"
	"estate-auth/internal/util"
)

// UserRepository reads and updates admin panel users. Phone numbers are
// stored encrypted; lookups go through a deterministic sha256 phone hash in
// a separate index table.
type UserRepository struct {
	client     *ScyllaClient
	encryption *encryption.Manager
	bucketing  *bucketing.Manager
	logger     *zap.Logger
}

func NewUserRepository(client *ScyllaClient, enc *encryption.Manager, buckets *bucketing.Manager, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		client:     client,
		encryption: enc,
		bucketing:  buckets,
		logger:     logger,
	}
}

func phoneHash(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}

// FindByPhone tries each phone representation in order and returns the first
// matching user. Legacy rows were indexed under prefixed formats, so callers
// pass every candidate form of the same number.
func (r *UserRepository) FindByPhone(ctx context.Context, candidates []string) (*models.AuthUser, error) {
	for _, candidate := range candidates {
		var userBucket int
		var userID string
		err := r.client.Session.Query(r.client.Prepared.SelectRefByPhoneHash, phoneHash(candidate)).
			WithContext(ctx).Scan(&userBucket, &userID)
		if err == gocql.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("phone index lookup failed: %w", err)
		}
		return r.loadUser(ctx, userBucket, userID)
	}
	return nil, ErrUserNotFound
}

// FindByID loads a user by id. The partition bucket is derived from the id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (*models.AuthUser, error) {
	return r.loadUser(ctx, r.bucketing.GetUserBucket(userID), userID)
}

func (r *UserRepository) loadUser(ctx context.Context, userBucket int, userID string) (*models.AuthUser, error) {
	user := &models.AuthUser{}
	var encryptedPhone string

	err := r.client.Session.Query(r.client.Prepared.SelectUserByID, userBucket, userID).
		WithContext(ctx).Scan(
		&user.UserBucket,
		&user.UserID,
		&encryptedPhone,
		&user.Role,
		&user.IsActive,
		&user.PasswordHash,
		&user.LastLogin,
		&user.LastActivity,
		&user.LoginCount,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == gocql.ErrNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	phone, err := r.encryption.DecryptField(ctx, encryptedPhone)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt phone number for user %s: %w", userID, err)
	}
	user.PhoneNumber = phone

	return user, nil
}

// UpdateLoginBookkeeping bumps login stats on the row. The caller holds the
// freshly loaded user, so the count is written as loaded value plus one.
func (r *UserRepository) UpdateLoginBookkeeping(ctx context.Context, user *models.AuthUser) error {
	now := time.Now().UTC()
	err := r.client.Session.Query(r.client.Prepared.UpdateLoginBookkeeping,
		now, now, user.LoginCount+1, now, user.UserBucket, user.UserID).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to update login bookkeeping: %w", err)
	}

	r.logger.Debug("Login bookkeeping updated",
		util.String("user_id", user.UserID),
		util.Int("login_count", user.LoginCount+1),
	)
	return nil
}

// UpdatePassword stores a new password hash for the user.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	now := time.Now().UTC()
	err := r.client.Session.Query(r.client.Prepared.UpdatePassword,
		passwordHash, now, r.bucketing.GetUserBucket(userID), userID).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	r.logger.Info("Password updated", util.String("user_id", userID))
	return nil
}
