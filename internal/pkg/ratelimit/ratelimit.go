package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"admoderation/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimitTimeout 在上下文结束前没有拿到令牌。
var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

// DefaultKey 所有控制台实例共享的后端令牌桶。
const DefaultKey = "admoderation:ratelimit:backend"

// tokenBucketLua 原子地补充并扣减令牌。
//
// 返回 {allowed, wait_ms, tokens}。
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1]) or burst
local ts = tonumber(data[2]) or now

local elapsed = math.max(0, now - ts)
tokens = math.min(burst, tokens + (elapsed * rate) / 1000.0)

local allowed = 0
local wait_ms = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 2000.0))

return {allowed, wait_ms, tostring(tokens)}
`

// Limiter 基于 Redis 的分布式令牌桶。
//
// 多个控制台实例共用同一个 key 时，对后端的总请求速率不超过 rate。
type Limiter struct {
	rdb    *redis.Client
	key    string
	rate   float64
	burst  float64
	jitter time.Duration
	logger *slog.Logger
	script *redis.Script
}

// NewLimiter 创建令牌桶限流器。
//
// 参数:
//
//	rdb: Redis 客户端
//	logger: 日志记录器（可为 nil）
//	key: 令牌桶的 Redis key，为空时使用 DefaultKey
//	rate: 每秒补充的令牌数，<= 0 表示不限流
//	burst: 桶容量
//
// 返回值:
//
//	*Limiter: 限流器
func NewLimiter(rdb *redis.Client, logger *slog.Logger, key string, rate, burst float64) *Limiter {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Limiter{
		rdb:    rdb,
		key:    key,
		rate:   rate,
		burst:  burst,
		jitter: 10 * time.Millisecond,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Acquire 阻塞直到拿到一个令牌或 ctx 结束。
//
// 限流器为 nil 或未配置速率时立即返回。
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil || l.rdb == nil || l.rate <= 0 || l.burst <= 0 {
		return nil
	}

	start := time.Now()
	for {
		allowed, waitMs, err := l.take(ctx)
		if err != nil {
			return err
		}
		if allowed {
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		if l.jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(l.jitter)))
		}
		l.logger.Debug("waiting for backend token", slog.String("key", l.key), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			metrics.RateLimitTimeoutTotal.Inc()
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

func (l *Limiter) take(ctx context.Context) (bool, int64, error) {
	res, err := l.script.Run(ctx, l.rdb, []string{l.key}, l.rate, l.burst, time.Now().UnixMilli(), 1).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}
	if len(res) < 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected result %v", res)
	}
	return asInt64(res[0]) == 1, asInt64(res[1]), nil
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}
