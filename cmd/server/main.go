package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aliasmanager/backend/internal/auth"
	jwtpkg "aliasmanager/backend/internal/auth/jwt"
	"aliasmanager/backend/internal/config"
	"aliasmanager/backend/internal/directory"
	"aliasmanager/backend/internal/directory/memory"
	"aliasmanager/backend/internal/health"
	"aliasmanager/backend/internal/logger"
	"aliasmanager/backend/internal/middleware"
	"aliasmanager/backend/internal/monitoring"
	"aliasmanager/backend/internal/service"
	"aliasmanager/backend/internal/storage/redis"
	httptransport "aliasmanager/backend/internal/transport/http"
)

// main 启动别名管理 HTTP API 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting aliasmanager server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 初始化目录客户端
	dialer, err := newDialer(cfg.LDAP, log)
	if err != nil {
		return err
	}
	dirClient := directory.NewClient(directory.OptionsFromConfig(cfg.LDAP), dialer, log)
	dirClient.SetObserver(metrics.ObserveDirectory)
	defer func() { _ = dirClient.Close() }()

	// 登录限流：配置了 Redis 时多实例共享计数，否则使用进程内令牌桶
	var (
		loginLimiter middleware.Limiter
		redisPinger  health.Pinger
	)
	if cfg.Login.RateLimit > 0 {
		if cfg.Redis.Address != "" {
			redisClient, err := redis.New(cfg.Redis, log)
			if err != nil {
				return err
			}
			defer func() { _ = redisClient.Close() }()

			loginLimiter = redis.NewRateLimiter(redisClient, "aliasmanager:login", cfg.Login.RateLimit, time.Minute)
			redisPinger = redisClient
			log.Info("using redis login rate limiter", zap.String("address", cfg.Redis.Address))
		} else {
			loginLimiter = middleware.NewMemoryLimiter(cfg.Login.RateLimit, cfg.Login.Burst)
			log.Info("using in-memory login rate limiter")
		}
		log.Info("login rate limit enabled",
			zap.Int("per_minute", cfg.Login.RateLimit),
			zap.Int("burst", cfg.Login.Burst),
		)
	}

	// 初始化服务层
	tokens := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expires)
	authService := auth.NewService(dirClient, tokens, cfg.Token.MaxAge, log)
	authService.SetRecorder(metrics)

	aliasService := service.NewAliasService(dirClient, cfg.DefaultPageSize, log)
	aliasService.SetRecorder(metrics)

	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("expiry", cfg.JWT.Expires),
		zap.String("cookie", cfg.Token.Cookie),
		zap.Duration("cookie_max_age", cfg.Token.MaxAge),
	)

	healthChecker := health.NewHealthChecker(dirClient, redisPinger, health.Options{
		CheckTimeout: cfg.LDAP.Timeout,
	}, log)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		AuthService:  authService,
		AliasService: aliasService,
		Health:       healthChecker,
		Metrics:      metrics,
		LoginLimiter: loginLimiter,
		Logger:       log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
			return err
		}
		return nil
	})

	return group.Wait()
}

// newDialer 根据目录地址选择连接方式
func newDialer(cfg config.LDAPConfig, log *zap.Logger) (directory.Dialer, error) {
	if !cfg.UsesMemoryDirectory() {
		log.Info("using LDAP directory", zap.String("url", cfg.URL), zap.String("user_dn", cfg.UserDN))
		return directory.URLDialer{URL: cfg.URL, Timeout: cfg.Timeout}, nil
	}

	var dir *memory.Directory
	if cfg.Seed != "" {
		seeded, err := memory.LoadSeedFile(cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("load directory seed: %w", err)
		}
		dir = seeded
	} else {
		dir = memory.New(cfg.BindDN, cfg.BindPW)
	}

	log.Warn("using in-memory directory (development mode)", zap.String("seed", cfg.Seed))
	return directory.MemoryDialer(dir), nil
}
