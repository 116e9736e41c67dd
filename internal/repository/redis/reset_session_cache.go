package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"estate-auth/internal/client"
	"estate-auth/internal/models"
	"estate-auth/internal/util"
)

const (
	resetSessionPrefix = "reset_session:"
	resetLimitPrefix   = "reset_limit:"
	resetBlockPrefix   = "reset_block:"
)

// resetLimitScript enforces the per-phone reset request limit. Same shape as
// the IP attempt script but keyed by phone number and with a one hour block.
// Returns {attempt_count, blocked_until_unix}.
const resetLimitScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local first = redis.call('HGET', KEYS[1], 'first_attempt')
if first and (now - tonumber(first)) >= window then
    redis.call('DEL', KEYS[1])
end

local count = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if count == 1 then
    redis.call('HSET', KEYS[1], 'first_attempt', now)
    redis.call('EXPIRE', KEYS[1], window)
end

local blocked_until = 0
if count >= limit then
    local first_ts = tonumber(redis.call('HGET', KEYS[1], 'first_attempt'))
    local until_ts = first_ts + window
    if redis.call('SETNX', KEYS[2], until_ts) == 1 then
        redis.call('EXPIRE', KEYS[2], until_ts - now)
    end
    blocked_until = tonumber(redis.call('GET', KEYS[2]))
end

return {count, blocked_until}
`

// ResetSessionCache stores password reset sessions and the per-phone rate
// limiter for reset OTP requests.
type ResetSessionCache struct {
	redis  *client.RedisClient
	logger *zap.Logger
	now    func() time.Time
}

func NewResetSessionCache(redisClient *client.RedisClient, logger *zap.Logger) *ResetSessionCache {
	return &ResetSessionCache{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// Save writes a reset session hash with the reset flow TTL.
func (c *ResetSessionCache) Save(ctx context.Context, session *models.PasswordResetSession) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := resetSessionPrefix + session.SessionID
	fields := []interface{}{
		"phone_number", session.PhoneNumber,
		"user_id", session.UserID,
		"provider_session_id", session.ProviderSessionID,
		"created_at", session.CreatedAt.Unix(),
		"expires_at", session.ExpiresAt.Unix(),
		"verified", strconv.FormatBool(session.Verified),
	}

	if err := c.redis.HSet(ctx, key, fields...); err != nil {
		return fmt.Errorf("failed to save reset session: %w", err)
	}
	if err := c.redis.Expire(ctx, key, models.ResetSessionTTL); err != nil {
		return fmt.Errorf("failed to set reset session TTL: %w", err)
	}

	c.logger.Debug("Password reset session saved",
		util.String("session_id", session.SessionID),
	)
	return nil
}

// Get returns the reset session or nil when it does not exist.
func (c *ResetSessionCache) Get(ctx context.Context, sessionID string) (*models.PasswordResetSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := c.redis.HGetAll(ctx, resetSessionPrefix+sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reset session: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	session := &models.PasswordResetSession{
		SessionID:         sessionID,
		PhoneNumber:       data["phone_number"],
		UserID:            data["user_id"],
		ProviderSessionID: data["provider_session_id"],
	}
	if v, err := strconv.ParseInt(data["created_at"], 10, 64); err == nil {
		session.CreatedAt = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(data["expires_at"], 10, 64); err == nil {
		session.ExpiresAt = time.Unix(v, 0)
	}
	session.Verified = data["verified"] == "true"

	return session, nil
}

// MarkVerified flips the verified flag after a successful OTP check.
func (c *ResetSessionCache) MarkVerified(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.redis.HSet(ctx, resetSessionPrefix+sessionID, "verified", "true"); err != nil {
		return fmt.Errorf("failed to mark reset session verified: %w", err)
	}
	return nil
}

// Delete removes a reset session. Idempotent.
func (c *ResetSessionCache) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.redis.Del(ctx, resetSessionPrefix+sessionID); err != nil {
		return fmt.Errorf("failed to delete reset session: %w", err)
	}
	return nil
}

// IsExpired reports whether the session's logical lifetime has passed.
func (c *ResetSessionCache) IsExpired(session *models.PasswordResetSession) bool {
	return c.now().After(session.ExpiresAt)
}

// IsLimited reports whether the phone has exhausted its reset requests for
// the current window.
func (c *ResetSessionCache) IsLimited(ctx context.Context, phone string) (bool, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	val, err := c.redis.Client.Get(ctx, resetBlockPrefix+phone).Result()
	if err != nil {
		if isRedisNil(err) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("failed to check reset block: %w", err)
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("corrupt reset block value %q: %w", val, err)
	}
	return true, time.Unix(unix, 0), nil
}

// RecordAttempt counts one reset OTP request for the phone and returns how
// many requests remain in the window after this one.
func (c *ResetSessionCache) RecordAttempt(ctx context.Context, phone string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	keys := []string{resetLimitPrefix + phone, resetBlockPrefix + phone}
	args := []interface{}{
		c.now().Unix(),
		int(models.ResetAttemptWindow.Seconds()),
		models.ResetAttemptLimit,
	}

	res, err := c.redis.Eval(ctx, resetLimitScript, keys, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to record reset attempt: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, fmt.Errorf("unexpected script result: %v", res)
	}

	count := int(vals[0].(int64))
	remaining := models.ResetAttemptLimit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Remaining returns how many reset requests are left in the current window
// without consuming one.
func (c *ResetSessionCache) Remaining(ctx context.Context, phone string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	val, err := c.redis.Client.HGet(ctx, resetLimitPrefix+phone, "attempts").Result()
	if err != nil {
		if isRedisNil(err) {
			return models.ResetAttemptLimit, nil
		}
		return 0, fmt.Errorf("failed to read reset attempt count: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt reset attempt count %q: %w", val, err)
	}

	remaining := models.ResetAttemptLimit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}
