package limits

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewRateLimiter(client)
}

func TestAllowEnforcesRequestsPerMinute(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{RequestsPerMinute: 2}

	if err := limiter.Allow(ctx, "u1", cfg); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := limiter.Allow(ctx, "u1", cfg); err != nil {
		t.Fatalf("second request should pass: %v", err)
	}
	if err := limiter.Allow(ctx, "u1", cfg); err != ErrLimitExceeded {
		t.Fatalf("third request should be limited, got %v", err)
	}
}

func TestAllowIsolatesCallers(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{RequestsPerMinute: 1}

	if err := limiter.Allow(ctx, "u1", cfg); err != nil {
		t.Fatalf("u1 first request should pass: %v", err)
	}
	if err := limiter.Allow(ctx, "u2", cfg); err != nil {
		t.Fatalf("u2 must have its own window: %v", err)
	}
}

func TestAllowScanChargesMultiplier(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{RequestsPerMinute: 10, AllUsersCost: 8}

	if err := limiter.AllowScan(ctx, "admin", cfg); err != nil {
		t.Fatalf("first scan should pass: %v", err)
	}
	// 8 of 10 slots used; a second scan does not fit.
	if err := limiter.AllowScan(ctx, "admin", cfg); err != ErrLimitExceeded {
		t.Fatalf("second scan should be limited, got %v", err)
	}
	// The rejected scan refunds its cost, so cheap requests still fit.
	if err := limiter.Allow(ctx, "admin", cfg); err != nil {
		t.Fatalf("single request should still fit: %v", err)
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var limiter *RateLimiter
	if err := limiter.Allow(context.Background(), "u1", LimitConfig{RequestsPerMinute: 1}); err != nil {
		t.Fatalf("nil limiter must allow: %v", err)
	}
}

func TestZeroLimitDisablesEnforcement(t *testing.T) {
	limiter := newTestLimiter(t)
	for i := 0; i < 5; i++ {
		if err := limiter.Allow(context.Background(), "u1", LimitConfig{}); err != nil {
			t.Fatalf("unlimited config must allow: %v", err)
		}
	}
}
