package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可以探测连通性的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options 健康检查参数
type Options struct {
	CheckTimeout  time.Duration // 单次就绪检查的超时
	MaxGoroutines int           // 存活检查允许的最大 goroutine 数
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
//
// 存活检查只看进程自身；就绪检查要求目录可达，redis 为 nil 时不检查。
func NewHealthChecker(directory Pinger, redis Pinger, opts Options, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 5 * time.Second
	}
	if opts.MaxGoroutines <= 0 {
		opts.MaxGoroutines = 10000
	}

	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		logger: logger,
	}

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.MaxGoroutines))

	hc.health.AddReadinessCheck("directory", hc.pingCheck("directory", directory, opts.CheckTimeout))
	if redis != nil {
		hc.health.AddReadinessCheck("redis", hc.pingCheck("redis", redis, opts.CheckTimeout))
	}

	return hc
}

// pingCheck 带超时的连通性检查，失败时记录日志
func (hc *HealthChecker) pingCheck(name string, target Pinger, timeout time.Duration) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := target.Ping(ctx); err != nil {
			hc.logger.Warn("readiness check failed",
				zap.String("check", name),
				zap.Error(err),
			)
			return err
		}
		return nil
	}
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}
