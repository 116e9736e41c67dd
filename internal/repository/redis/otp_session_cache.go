// Package redis holds the Redis-backed stores for ephemeral auth state:
// OTP sessions, per-IP attempt tracking, and password reset sessions.
// Everything here has a TTL; nothing in this package outlives its window.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"estate-auth/internal/client"
	"estate-auth/internal/models"
	"estate-auth/internal/util"
)

const otpSessionPrefix = "otp_session:"

// OTPSessionCache stores login OTP sessions as Redis hashes. The hash TTL is
// set longer than the logical session lifetime so that an expired session can
// still be read and reported as expired instead of silently vanishing.
type OTPSessionCache struct {
	redis  *client.RedisClient
	logger *zap.Logger
	now    func() time.Time
}

func NewOTPSessionCache(redisClient *client.RedisClient, logger *zap.Logger) *OTPSessionCache {
	return &OTPSessionCache{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

func (c *OTPSessionCache) key(sessionID string) string {
	return otpSessionPrefix + sessionID
}

// Save writes a new session hash. Attempts always start at zero.
func (c *OTPSessionCache) Save(ctx context.Context, session *models.OTPSession) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := c.key(session.SessionID)
	fields := []interface{}{
		"phone_number", session.PhoneNumber,
		"created_at", session.CreatedAt.Unix(),
		"expires_at", session.ExpiresAt.Unix(),
		"attempts", session.Attempts,
		"verified", strconv.FormatBool(session.Verified),
		"channel", session.Channel,
		"is_fallback", strconv.FormatBool(session.IsFallback),
	}

	if err := c.redis.HSet(ctx, key, fields...); err != nil {
		return fmt.Errorf("failed to save OTP session: %w", err)
	}
	if err := c.redis.Expire(ctx, key, models.OTPSessionGCTTL); err != nil {
		return fmt.Errorf("failed to set OTP session TTL: %w", err)
	}

	c.logger.Debug("OTP session saved",
		util.String("session_id", session.SessionID),
		util.String("channel", session.Channel),
	)
	return nil
}

// Get returns the session or nil when no hash exists under the id.
func (c *OTPSessionCache) Get(ctx context.Context, sessionID string) (*models.OTPSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := c.redis.HGetAll(ctx, c.key(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to load OTP session: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	session := &models.OTPSession{
		SessionID:   sessionID,
		PhoneNumber: data["phone_number"],
		Channel:     data["channel"],
	}
	if v, err := strconv.ParseInt(data["created_at"], 10, 64); err == nil {
		session.CreatedAt = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(data["expires_at"], 10, 64); err == nil {
		session.ExpiresAt = time.Unix(v, 0)
	}
	if v, err := strconv.Atoi(data["attempts"]); err == nil {
		session.Attempts = v
	}
	session.Verified = data["verified"] == "true"
	session.IsFallback = data["is_fallback"] == "true"

	return session, nil
}

// IncrementAttempts atomically bumps the attempt counter and returns the new
// value. Concurrent verifications each observe a distinct count, so the
// attempt cap holds without any lock around the gateway call.
func (c *OTPSessionCache) IncrementAttempts(ctx context.Context, sessionID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	n, err := c.redis.HIncrBy(ctx, c.key(sessionID), "attempts", 1)
	if err != nil {
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}
	return int(n), nil
}

// MarkVerified flips the verified flag on an existing session.
func (c *OTPSessionCache) MarkVerified(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.redis.HSet(ctx, c.key(sessionID), "verified", "true"); err != nil {
		return fmt.Errorf("failed to mark OTP session verified: %w", err)
	}
	return nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (c *OTPSessionCache) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.redis.Del(ctx, c.key(sessionID)); err != nil {
		return fmt.Errorf("failed to delete OTP session: %w", err)
	}
	return nil
}

// IsExpired reports whether the session's logical lifetime has passed.
func (c *OTPSessionCache) IsExpired(session *models.OTPSession) bool {
	return c.now().After(session.ExpiresAt)
}
