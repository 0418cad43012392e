package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter 按 key 判断请求是否在限额内
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// BlockRecorder 记录限流阻止次数
type BlockRecorder interface {
	RecordRateLimitBlock(limitType string)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter 进程内令牌桶限流器，每个 key 一个桶
type MemoryLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

// NewMemoryLimiter 创建每分钟 perMinute 次、突发容量 burst 的限流器
func NewMemoryLimiter(perMinute, burst int) *MemoryLimiter {
	if burst < 1 {
		burst = 1
	}
	return &MemoryLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow 实现 Limiter 接口
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictLocked(now)

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

// evictLocked 清理长时间未出现的 key
func (l *MemoryLimiter) evictLocked(now time.Time) {
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idleTTL {
			delete(l.visitors, key)
		}
	}
}

// RateLimit 按客户端 IP 限流；限流器出错时放行并记录日志
func RateLimit(limiter Limiter, limitType string, recorder BlockRecorder, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Error("rate limiter unavailable",
				zap.String("type", limitType),
				zap.Error(err),
			)
			c.Next()
			return
		}

		if !allowed {
			if recorder != nil {
				recorder.RecordRateLimitBlock(limitType)
			}
			log.Warn("rate limit exceeded",
				zap.String("type", limitType),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "Too many requests",
			})
			return
		}

		c.Next()
	}
}
