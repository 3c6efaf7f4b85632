package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/aussiegw/gateway/internal/domain"
)

type entry struct {
	mu         sync.Mutex
	state      domain.BucketState
	lastAccess time.Time
}

// MemoryBackend is the in-memory ports.RateLimiterBackend, backed by a
// sharded concurrent map with a background goroutine evicting buckets that
// have gone stale since their last access, per §4.5's "Performance" note
// that bucket state must not grow unbounded. Grounded on the teacher's
// TokenBucket/shardedMap cleanup loop, adapted to per-key atomic
// check-and-consume via a per-entry mutex instead of the teacher's
// whole-shard lock held for the full Allow call.
type MemoryBackend struct {
	buckets     *shardedMap[*entry]
	stopCh      chan struct{}
	stopOnce    sync.Once
	cleanupEvery time.Duration
	staleAfter  time.Duration
}

// NewMemoryBackend constructs a MemoryBackend and starts its cleanup loop.
// staleAfter bounds how long an idle bucket is retained; it should exceed
// the longest configured window so a returning client doesn't appear "new".
func NewMemoryBackend(staleAfter time.Duration) *MemoryBackend {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	b := &MemoryBackend{
		buckets:      newShardedMap[*entry](),
		stopCh:       make(chan struct{}),
		cleanupEvery: 60 * time.Second,
		staleAfter:   staleAfter,
	}
	go b.cleanupLoop()
	return b
}

// CheckAndConsume implements ports.RateLimiterBackend.
func (b *MemoryBackend) CheckAndConsume(ctx context.Context, key domain.RateLimitKey, limit domain.EffectiveRateLimit, now time.Time) (domain.RateLimitDecision, error) {
	k := key.String()
	s := b.buckets.getShard(k)

	s.mu.Lock()
	e, ok := s.items[k]
	if !ok {
		e = &entry{}
		s.items[k] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	decision := compute(e.state, limit, now)
	e.state = decision.NewState
	e.lastAccess = now
	return decision, nil
}

// RemoveKeysMatching implements ports.RateLimiterBackend: it drops every
// bucket whose key was derived from the given WS connection id.
func (b *MemoryBackend) RemoveKeysMatching(ctx context.Context, wsConnectionID string) error {
	b.buckets.deleteFunc(func(k string, _ *entry) bool {
		return containsConnectionID(k, wsConnectionID)
	})
	return nil
}

func containsConnectionID(key, connID string) bool {
	if connID == "" {
		return false
	}
	for i := 0; i+len(connID) <= len(key); i++ {
		if key[i:i+len(connID)] == connID {
			return true
		}
	}
	return false
}

func (b *MemoryBackend) cleanupLoop() {
	ticker := time.NewTicker(b.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			b.buckets.deleteFunc(func(_ string, e *entry) bool {
				e.mu.Lock()
				stale := now.Sub(e.lastAccess) > b.staleAfter
				e.mu.Unlock()
				return stale
			})
		}
	}
}

// Stop ends the background cleanup loop.
func (b *MemoryBackend) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}
