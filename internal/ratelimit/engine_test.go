package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/aussiegw/gateway/internal/domain"
)

func limit() domain.EffectiveRateLimit {
	return domain.EffectiveRateLimit{RequestsPerWindow: 60, WindowSeconds: 60, BurstCapacity: 5}
}

func TestComputeConsumesFromFullBucket(t *testing.T) {
	now := time.Now()
	d := compute(domain.BucketState{}, limit(), now)
	if !d.Allowed || d.Remaining != 4 {
		t.Fatalf("expected first request allowed with 4 remaining, got %+v", d)
	}

	d2 := compute(d.NewState, limit(), now)
	if !d2.Allowed || d2.Remaining != 3 {
		t.Fatalf("expected second request allowed with 3 remaining, got %+v", d2)
	}
}

func TestComputeRejectsWhenExhausted(t *testing.T) {
	now := time.Now()
	state := domain.BucketState{}
	var last domain.RateLimitDecision
	for i := 0; i < 5; i++ {
		last = compute(state, limit(), now)
		state = last.NewState
	}
	if !last.Allowed {
		t.Fatalf("expected 5th request (burst=5) to be allowed, got %+v", last)
	}

	rejected := compute(state, limit(), now)
	if rejected.Allowed {
		t.Fatal("expected 6th immediate request to be rejected")
	}
	if rejected.RetryAfterSeconds < 1 {
		t.Fatalf("expected positive retry-after, got %d", rejected.RetryAfterSeconds)
	}
}

func TestComputeRefillsOverTime(t *testing.T) {
	now := time.Now()
	state := domain.BucketState{}
	var d domain.RateLimitDecision
	for i := 0; i < 5; i++ {
		d = compute(state, limit(), now)
		state = d.NewState
	}

	later := now.Add(time.Second) // 1 token/sec refill rate
	d = compute(state, limit(), later)
	if !d.Allowed {
		t.Fatal("expected a refilled token to allow the next request")
	}
}

func TestMemoryBackendCheckAndConsume(t *testing.T) {
	b := NewMemoryBackend(time.Minute)
	defer b.Stop()

	key := domain.RateLimitKey{Type: domain.RateLimitHTTP, ServiceID: "svc", ClientID: "client-a"}
	d, err := b.CheckAndConsume(context.Background(), key, limit(), time.Now())
	if err != nil {
		t.Fatalf("CheckAndConsume: %v", err)
	}
	if !d.Allowed || d.Remaining != 4 {
		t.Fatalf("expected allowed with 4 remaining, got %+v", d)
	}
}

func TestMemoryBackendRemoveKeysMatching(t *testing.T) {
	b := NewMemoryBackend(time.Minute)
	defer b.Stop()

	key := domain.RateLimitKey{Type: domain.RateLimitWSMsg, WSConnectionID: "conn-123"}
	_, err := b.CheckAndConsume(context.Background(), key, limit(), time.Now())
	if err != nil {
		t.Fatalf("CheckAndConsume: %v", err)
	}

	if err := b.RemoveKeysMatching(context.Background(), "conn-123"); err != nil {
		t.Fatalf("RemoveKeysMatching: %v", err)
	}

	// After removal the bucket starts fresh again (full burst).
	d, err := b.CheckAndConsume(context.Background(), key, limit(), time.Now())
	if err != nil {
		t.Fatalf("CheckAndConsume after remove: %v", err)
	}
	if d.Remaining != 4 {
		t.Fatalf("expected fresh bucket after removal, got remaining=%d", d.Remaining)
	}
}

func TestEngineEffectivePrecedence(t *testing.T) {
	platform := domain.EffectiveRateLimit{RequestsPerWindow: 100, WindowSeconds: 60, BurstCapacity: 100}
	e := NewEngine(NewMemoryBackend(time.Minute), platform, true)

	svc := domain.Service{RateLimit: &domain.RateLimitConfig{RequestsPerWindow: 50, WindowSeconds: 60, BurstCapacity: 50}}
	ep := domain.Endpoint{}

	got := e.Effective(svc, ep)
	if got.BurstCapacity != 50 {
		t.Fatalf("expected service-level limit to apply, got %+v", got)
	}

	ep.RateLimit = &domain.RateLimitConfig{RequestsPerWindow: 10, WindowSeconds: 60, BurstCapacity: 10}
	got = e.Effective(svc, ep)
	if got.BurstCapacity != 10 {
		t.Fatalf("expected endpoint-level limit to win, got %+v", got)
	}
}

func TestEngineDisabledAlwaysAllows(t *testing.T) {
	e := NewEngine(NewMemoryBackend(time.Minute), limit(), false)
	d, err := e.Check(context.Background(), domain.RateLimitKey{}, limit())
	if err != nil || !d.Allowed {
		t.Fatalf("expected disabled engine to always allow, got %+v err=%v", d, err)
	}
}
