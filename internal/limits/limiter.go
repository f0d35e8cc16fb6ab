package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

// LimitConfig bounds query traffic per caller. AllUsersCost is how many
// request slots an admin "all users" query consumes, since those scans are
// far more expensive than a single-user lookup.
type LimitConfig struct {
	RequestsPerMinute int
	AllUsersCost      int
}

// RateLimiter enforces a fixed-window requests-per-minute budget in Redis.
// A nil limiter (or one without a client) allows everything.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow charges one request against the caller's minute window.
func (l *RateLimiter) Allow(ctx context.Context, key string, cfg LimitConfig) error {
	return l.charge(ctx, key, 1, cfg)
}

// AllowScan charges an all-users scan, which costs AllUsersCost slots
// (minimum one).
func (l *RateLimiter) AllowScan(ctx context.Context, key string, cfg LimitConfig) error {
	cost := cfg.AllUsersCost
	if cost < 1 {
		cost = 1
	}
	return l.charge(ctx, key, cost, cfg)
}

func (l *RateLimiter) charge(ctx context.Context, key string, cost int, cfg LimitConfig) error {
	if l == nil || l.client == nil || cfg.RequestsPerMinute <= 0 {
		return nil
	}

	window := time.Now().UTC().Unix() / 60
	redisKey := fmt.Sprintf("rpm:%s:%d", key, window)

	used, err := l.client.IncrBy(ctx, redisKey, int64(cost)).Result()
	if err != nil {
		return err
	}
	if used == int64(cost) {
		l.client.Expire(ctx, redisKey, time.Minute)
	}
	if used > int64(cfg.RequestsPerMinute) {
		l.client.DecrBy(ctx, redisKey, int64(cost))
		return ErrLimitExceeded
	}
	return nil
}
