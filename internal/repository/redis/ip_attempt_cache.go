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

const (
	ipAttemptPrefix = "ip_attempts:"
	ipBlockPrefix   = "ip_block:"
)

// recordAttemptScript tracks unauthorized attempts per IP inside a rolling
// window and places a fixed-duration block once the limit is hit. The block
// key is written with SETNX so repeated attempts while blocked never extend
// the block. Returns {attempt_count, blocked_until_unix}.
//
// KEYS[1] = attempt hash, KEYS[2] = block key
// ARGV[1] = now unix, ARGV[2] = window sec, ARGV[3] = limit,
// ARGV[4] = block sec
const recordAttemptScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local block = tonumber(ARGV[4])

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
    local until_ts = now + block
    if redis.call('SETNX', KEYS[2], until_ts) == 1 then
        redis.call('EXPIRE', KEYS[2], block)
        blocked_until = until_ts
    else
        blocked_until = tonumber(redis.call('GET', KEYS[2]))
    end
end

return {count, blocked_until}
`

// IPAttemptCache tracks failed login attempts from unregistered phone
// numbers per client IP and enforces a temporary block after too many.
type IPAttemptCache struct {
	redis  *client.RedisClient
	logger *zap.Logger
	now    func() time.Time
}

func NewIPAttemptCache(redisClient *client.RedisClient, logger *zap.Logger) *IPAttemptCache {
	return &IPAttemptCache{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// RecordAttempt counts one suspicious attempt for the IP. When the attempt
// limit inside the window is reached, a block is placed and the block expiry
// is returned. The returned time is zero while the IP stays unblocked.
func (c *IPAttemptCache) RecordAttempt(ctx context.Context, ip string) (int, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	keys := []string{ipAttemptPrefix + ip, ipBlockPrefix + ip}
	args := []interface{}{
		c.now().Unix(),
		int(models.IPAttemptWindow.Seconds()),
		models.IPAttemptLimit,
		int(models.IPBlockDuration.Seconds()),
	}

	res, err := c.redis.Eval(ctx, recordAttemptScript, keys, args...)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to record IP attempt: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected script result: %v", res)
	}

	count := int(vals[0].(int64))
	blockedUnix := vals[1].(int64)

	var blockedUntil time.Time
	if blockedUnix > 0 {
		blockedUntil = time.Unix(blockedUnix, 0)
		c.logger.Warn("IP blocked after repeated unauthorized attempts",
			util.String("ip", ip),
			util.Int("attempts", count),
			util.Time("blocked_until", blockedUntil),
		)
	}

	return count, blockedUntil, nil
}

// IsBlocked reports whether the IP is currently blocked and until when.
// The block key is checked before anything else, so a standing block wins
// even after the attempt window would have reset.
func (c *IPAttemptCache) IsBlocked(ctx context.Context, ip string) (bool, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	val, err := c.redis.Client.Get(ctx, ipBlockPrefix+ip).Result()
	if err != nil {
		if isRedisNil(err) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("failed to check IP block: %w", err)
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("corrupt IP block value %q: %w", val, err)
	}
	return true, time.Unix(unix, 0), nil
}

// AttemptCount returns the current attempt counter for the IP, zero when no
// record exists.
func (c *IPAttemptCache) AttemptCount(ctx context.Context, ip string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	val, err := c.redis.Client.HGet(ctx, ipAttemptPrefix+ip, "attempts").Result()
	if err != nil {
		if isRedisNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read IP attempt count: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt attempt count %q: %w", val, err)
	}
	return count, nil
}
