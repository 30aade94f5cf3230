package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestLimiter_BurstThenThrottle(t *testing.T) {
	rdb, _ := newRedis(t)
	l := NewLimiter(rdb, nil, "test:burst", 20, 3)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("burst acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("burst should not wait, took %v", elapsed)
	}

	start = time.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("throttled acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("expected to wait for refill, took %v", elapsed)
	}
}

func TestLimiter_SharedAcrossConsoleInstances(t *testing.T) {
	rdb, _ := newRedis(t)
	a := NewLimiter(rdb, nil, "test:shared", 1, 2)
	b := NewLimiter(rdb, nil, "test:shared", 1, 2)

	if err := a.Acquire(context.Background()); err != nil {
		t.Fatalf("a acquire: %v", err)
	}
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("b acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.Acquire(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("bucket shared by key must be empty, got %v", err)
	}
}

func TestLimiter_DeadlineWhileWaiting(t *testing.T) {
	rdb, _ := newRedis(t)
	l := NewLimiter(rdb, nil, "test:cancel", 0.5, 1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("warm acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
}

func TestLimiter_RedisUnavailable(t *testing.T) {
	rdb, mr := newRedis(t)
	l := NewLimiter(rdb, nil, "test:down", 5, 5)
	mr.Close()

	err := l.Acquire(context.Background())
	if err == nil || errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected redis error, got %v", err)
	}
}

func TestLimiter_DisabledPassesThrough(t *testing.T) {
	var nilLimiter *Limiter
	if err := nilLimiter.Acquire(context.Background()); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}

	rdb, mr := newRedis(t)
	l := NewLimiter(rdb, nil, "", 0, 0)
	if l.key != DefaultKey {
		t.Fatalf("expected default key, got %q", l.key)
	}
	for i := 0; i < 50; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("unlimited acquire: %v", err)
		}
	}
	if mr.Exists(DefaultKey) {
		t.Fatalf("disabled limiter must not touch redis")
	}
}
