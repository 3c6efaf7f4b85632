package ratelimit

import (
	"context"
	"time"

	"github.com/aussiegw/gateway/internal/domain"
	"github.com/aussiegw/gateway/internal/ports"
)

// Engine is the rate-limit evaluator the HTTP and WS pipelines call per
// request/message: it resolves the effective limit (endpoint overrides
// service overrides platform default) and delegates the atomic
// check-and-consume to a ports.RateLimiterBackend.
type Engine struct {
	backend  ports.RateLimiterBackend
	platform domain.EffectiveRateLimit
	enabled  bool
}

// NewEngine constructs an Engine. platform is the fallback limit applied
// when neither the endpoint nor its owning service configures one.
func NewEngine(backend ports.RateLimiterBackend, platform domain.EffectiveRateLimit, enabled bool) *Engine {
	return &Engine{backend: backend, platform: platform, enabled: enabled}
}

// Effective resolves the rate limit that applies to one endpoint, following
// §4.5's precedence: endpoint-level config wins, then service-level, then
// the platform default.
func (e *Engine) Effective(svc domain.Service, ep domain.Endpoint) domain.EffectiveRateLimit {
	if ep.RateLimit != nil && !ep.RateLimit.IsZero() {
		return toEffective(*ep.RateLimit)
	}
	if svc.RateLimit != nil && !svc.RateLimit.IsZero() {
		return toEffective(*svc.RateLimit)
	}
	return e.platform
}

func toEffective(c domain.RateLimitConfig) domain.EffectiveRateLimit {
	return domain.EffectiveRateLimit{
		RequestsPerWindow: c.RequestsPerWindow,
		WindowSeconds:     c.WindowSeconds,
		BurstCapacity:     c.BurstCapacity,
	}
}

// Check runs one check-and-consume. When the engine is disabled it always
// allows, returning a decision whose other fields are all zero.
func (e *Engine) Check(ctx context.Context, key domain.RateLimitKey, limit domain.EffectiveRateLimit) (domain.RateLimitDecision, error) {
	if !e.enabled {
		return domain.RateLimitDecision{Allowed: true}, nil
	}
	return e.backend.CheckAndConsume(ctx, key, limit, time.Now())
}

// ReleaseConnection drops all bucket state tied to a closed WS connection.
func (e *Engine) ReleaseConnection(ctx context.Context, wsConnectionID string) error {
	return e.backend.RemoveKeysMatching(ctx, wsConnectionID)
}
