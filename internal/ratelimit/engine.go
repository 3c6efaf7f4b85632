// Package ratelimit implements the token-bucket rate-limit engine of spec
// §4.5: per-key atomic check-and-consume over an in-memory or distributed
// backend, returning the exact allow/remaining/reset accounting the gateway
// surfaces as X-RateLimit-* response headers.
//
// The bucket math (engine.go) is grounded on the teacher's
// internal/middleware/ratelimit/ratelimit.go TokenBucket.Allow — elapsed-time
// refill, capped at burst — generalized from "requests per period" to the
// spec's explicit EffectiveRateLimit{RequestsPerWindow, WindowSeconds,
// BurstCapacity} shape, with remaining floored and reset/retry-after ceiled
// per §4.5's accounting rules (the teacher truncates via int() conversion,
// which is floor for non-negative floats; reset/retry-after use an explicit
// math.Ceil here since the teacher's reset time is wall-clock based rather
// than a ceiled duration).
package ratelimit

import (
	"math"
	"time"

	"github.com/aussiegw/gateway/internal/domain"
)

// compute applies one check-and-consume against a bucket's current state,
// returning the decision and the state to persist.
func compute(state domain.BucketState, limit domain.EffectiveRateLimit, now time.Time) domain.RateLimitDecision {
	nowMillis := now.UnixMilli()
	refillRate := limit.RefillRate() // tokens per second
	burst := float64(limit.BurstCapacity)

	tokens := state.Tokens
	if state.LastRefillMillis != 0 {
		elapsedSeconds := float64(nowMillis-state.LastRefillMillis) / 1000.0
		if elapsedSeconds > 0 {
			tokens += elapsedSeconds * refillRate
		}
	} else {
		// First request for this key starts with a full bucket.
		tokens = burst
	}
	if tokens > burst {
		tokens = burst
	}
	if tokens < 0 {
		tokens = 0
	}

	allowed := tokens >= 1
	if allowed {
		tokens -= 1
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
		resetSeconds = int(math.Ceil((burst - tokens) / refillRate))
	}
	if resetSeconds < 0 {
		resetSeconds = 0
	}

	return domain.RateLimitDecision{
		Allowed:           allowed,
		Remaining:         remaining,
		Limit:             limit.BurstCapacity,
		WindowSeconds:     limit.WindowSeconds,
		ResetAt:           now.Add(time.Duration(resetSeconds) * time.Second),
		RetryAfterSeconds: retryAfterSeconds,
		NewState: domain.BucketState{
			Tokens:           tokens,
			LastRefillMillis: nowMillis,
		},
	}
}
