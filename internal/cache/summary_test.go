package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, ttl time.Duration) (*SummaryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSummaryCache(client, ttl), mr
}

func TestSummaryCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	key := Key("u1|2024-06-01|2024-06-03|day")
	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set(ctx, key, []byte(`{"total_tokens":100}`))
	data, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if string(data) != `{"total_tokens":100}` {
		t.Fatalf("unexpected payload %q", data)
	}
}

func TestSummaryCacheExpiry(t *testing.T) {
	c, mr := newTestCache(t, time.Second)
	ctx := context.Background()

	key := Key("u1|2024-06-01|2024-06-03|day")
	c.Set(ctx, key, []byte("payload"))
	mr.FastForward(2 * time.Second)

	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestSummaryCacheDisabled(t *testing.T) {
	if NewSummaryCache(nil, 0) != nil {
		t.Fatal("zero ttl must disable the cache")
	}

	var c *SummaryCache
	ctx := context.Background()
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("nil cache must always miss")
	}
	c.Set(ctx, "k", []byte("v"))
}

func TestKeyStable(t *testing.T) {
	if Key("a|b") != Key("a|b") {
		t.Fatal("key must be deterministic")
	}
	if Key("a|b") == Key("a|c") {
		t.Fatal("distinct inputs must not collide")
	}
}
