package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "admoderation:idempotency:"

// Guard 用 SETNX 保证同一个幂等键在窗口期内只被处理一次。
//
// 批量决定接口用它拦截客户端的重复提交。
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewGuard 创建幂等守卫，ttl <= 0 时默认 10 分钟。
func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Guard{rdb: rdb, ttl: ttl}
}

// Claim 尝试占用幂等键。
//
// 参数:
//
//	ctx: 上下文
//	scope: 键的作用域（如会话 id）
//	key: 客户端提供的幂等键
//
// 返回值:
//
//	bool: true 表示首次出现，可以继续处理；false 表示重复提交
//	error: Redis 出错时返回
func (g *Guard) Claim(ctx context.Context, scope, key string) (bool, error) {
	if g == nil || g.rdb == nil || key == "" {
		return true, nil
	}
	ok, err := g.rdb.SetNX(ctx, redisKey(scope, key), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency setnx: %w", err)
	}
	return ok, nil
}

// Release 释放幂等键，用于请求在任何决定发出前就失败的情况。
func (g *Guard) Release(ctx context.Context, scope, key string) error {
	if g == nil || g.rdb == nil || key == "" {
		return nil
	}
	if err := g.rdb.Del(ctx, redisKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("idempotency del: %w", err)
	}
	return nil
}

func redisKey(scope, key string) string {
	sum := sha256.Sum256([]byte(scope + "\x00" + key))
	return keyPrefix + hex.EncodeToString(sum[:])
}
