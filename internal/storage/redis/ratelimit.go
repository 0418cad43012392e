package redis

import (
	"context"
	"fmt"
	"time"
)

// Counter 固定窗口计数所需的最小操作集合，*Client 满足
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// RateLimiter 基于 Redis 的固定窗口限流器，多个实例共享计数
type RateLimiter struct {
	counter Counter
	prefix  string
	limit   int64
	window  time.Duration
}

// NewRateLimiter 创建限流器：每个 key 在 window 内最多 limit 次
func NewRateLimiter(counter Counter, prefix string, limit int, window time.Duration) *RateLimiter {
	if window < time.Second {
		window = time.Second
	}
	return &RateLimiter{
		counter: counter,
		prefix:  prefix,
		limit:   int64(limit),
		window:  window,
	}
}

// Allow 记录一次请求并判断是否在限额内
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().Unix() / int64(l.window/time.Second)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)

	count, err := l.counter.Incr(ctx, redisKey)
	if err != nil {
		return false, fmt.Errorf("increment rate limit: %w", err)
	}

	// 新窗口的第一个请求负责设置过期时间
	if count == 1 {
		if err := l.counter.Expire(ctx, redisKey, l.window); err != nil {
			return false, fmt.Errorf("expire rate limit: %w", err)
		}
	}

	return count <= l.limit, nil
}
