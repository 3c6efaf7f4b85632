package ratelimit

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiegw/gateway/internal/domain"
)

// tokenBucketScript is the distributed equivalent of engine.go's compute:
// it reads the bucket's persisted {tokens, last_refill_ms} hash, refills by
// elapsed time, attempts to consume one token, and writes the new state
// back, all atomically inside Redis. Grounded on the teacher's
// internal/middleware/ratelimit/redis.go slidingWindowScript (NewScript +
// KEYS/ARGV shape, PEXPIRE on the key so abandoned buckets expire on their
// own), with the sliding-window algorithm replaced by this spec's
// token-bucket accounting.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local tokens = burst
local last_refill_ms = 0

local existing = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
if existing[1] then
    tokens = tonumber(existing[1])
    last_refill_ms = tonumber(existing[2])
    local elapsed = (now_ms - last_refill_ms) / 1000.0
    if elapsed > 0 then
        tokens = tokens + elapsed * refill_rate
    end
    if tokens > burst then
        tokens = burst
    end
end

local allowed = 0
if tokens >= 1 then
    allowed = 1
    tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', now_ms)
redis.call('PEXPIRE', key, ttl_ms)

return {allowed, tostring(tokens)}
`)

// RedisBackend is the distributed ports.RateLimiterBackend, used when
// multiple gateway instances must share rate-limit state (§4.5 "Deployment
// note"). On any Redis error it fails open, matching the teacher's
// documented "fail open" behavior for rate limiting.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend constructs a RedisBackend over an existing client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "gw:rl:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// CheckAndConsume implements ports.RateLimiterBackend.
func (b *RedisBackend) CheckAndConsume(ctx context.Context, key domain.RateLimitKey, limit domain.EffectiveRateLimit, now time.Time) (domain.RateLimitDecision, error) {
	redisKey := b.prefix + key.String()
	refillRate := limit.RefillRate()
	ttlMs := int64(limit.WindowSeconds) * 2 * 1000
	if ttlMs <= 0 {
		ttlMs = 60000
	}

	res, err := tokenBucketScript.Run(ctx, b.client,
		[]string{redisKey},
		now.UnixMilli(),
		refillRate,
		limit.BurstCapacity,
		ttlMs,
	).Result()
	if err != nil {
		// Fail open: an unreachable rate-limit store must not block traffic.
		return domain.RateLimitDecision{
			Allowed:       true,
			Remaining:     limit.BurstCapacity,
			Limit:         limit.BurstCapacity,
			WindowSeconds: limit.WindowSeconds,
			ResetAt:       now.Add(time.Duration(limit.WindowSeconds) * time.Second),
		}, nil
	}

	items := res.([]interface{})
	allowed := items[0].(int64) == 1
	tokensStr := items[1].(string)
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		tokens = 0
	}

	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}

	var retryAfterSeconds int
	if !allowed && refillRate > 0 {
		retryAfterSeconds = int(math.Ceil((1 - tokens) / refillRate))
		if retryAfterSeconds < 1 {
			retryAfterSeconds = 1
		}
	}

	var resetSeconds int
	if refillRate > 0 {
		resetSeconds = int(math.Ceil((float64(limit.BurstCapacity) - tokens) / refillRate))
	}

	return domain.RateLimitDecision{
		Allowed:           allowed,
		Remaining:         remaining,
		Limit:             limit.BurstCapacity,
		WindowSeconds:     limit.WindowSeconds,
		ResetAt:           now.Add(time.Duration(resetSeconds) * time.Second),
		RetryAfterSeconds: retryAfterSeconds,
	}, nil
}

// RemoveKeysMatching implements ports.RateLimiterBackend by scanning for keys
// containing the WS connection id and deleting them. Used rarely (session
// cleanup), so a SCAN-based sweep is an acceptable cost.
func (b *RedisBackend) RemoveKeysMatching(ctx context.Context, wsConnectionID string) error {
	iter := b.client.Scan(ctx, 0, b.prefix+"*"+wsConnectionID+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}
