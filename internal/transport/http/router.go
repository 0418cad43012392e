package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aliasmanager/backend/internal/auth"
	"aliasmanager/backend/internal/config"
	"aliasmanager/backend/internal/health"
	"aliasmanager/backend/internal/middleware"
	"aliasmanager/backend/internal/monitoring"
	"aliasmanager/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	AuthService  *auth.Service
	AliasService *service.AliasService
	Health       *health.HealthChecker // 为 nil 时不注册健康检查路由
	Metrics      *monitoring.Metrics   // 为 nil 时不采集指标
	LoginLimiter middleware.Limiter    // 为 nil 时登录不限流
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var panics middleware.PanicRecorder
	var blocks middleware.BlockRecorder
	if deps.Metrics != nil {
		panics = deps.Metrics
		blocks = deps.Metrics
	}

	router := gin.New()

	router.Use(middleware.RecoveryHandler(log, panics))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics)
		router.Use(mm.HTTPMetrics())
		router.Use(mm.SystemMetrics())
	}
	router.Use(middleware.BodySizeLimit(middleware.SmallBodyLimit))

	// CORS 配置
	if len(deps.Config.CORS.AllowedOrigins) > 0 {
		corsConfig := gincors.Config{
			AllowOrigins:     deps.Config.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}

		// 如果允许所有来源，则需清空凭证支持。
		for _, origin := range corsConfig.AllowOrigins {
			if origin == "*" {
				corsConfig.AllowOrigins = nil
				corsConfig.AllowAllOrigins = true
				corsConfig.AllowCredentials = false
				break
			}
		}
		router.Use(gincors.New(corsConfig))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Config.Token.Cookie, log)
	aliasHandler := NewAliasHandler(deps.AliasService, log)
	jwtAuth := middleware.NewJWTAuth(deps.AuthService, deps.Config.Token.Cookie, log)

	// 凭证接口按客户端 IP 限流
	withLoginLimit := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		if deps.LoginLimiter == nil {
			return []gin.HandlerFunc{handler}
		}
		return []gin.HandlerFunc{middleware.RateLimit(deps.LoginLimiter, "login", blocks, log), handler}
	}

	// 健康检查与指标
	if deps.Health != nil {
		router.GET("/health", gin.WrapF(deps.Health.ReadyEndpoint))
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.GET("/login", withLoginLimit(authHandler.Login)...)
			authRoutes.GET("/logout", jwtAuth.RequireAuth(), authHandler.Logout)
		}

		api.GET("/token", withLoginLimit(authHandler.Token)...)

		aliasRoutes := api.Group("/account/alias")
		aliasRoutes.Use(jwtAuth.RequireAuth())
		{
			aliasRoutes.GET("", aliasHandler.List)
			aliasRoutes.POST("", aliasHandler.Create)
			aliasRoutes.PUT("/:address", aliasHandler.Update)
			aliasRoutes.DELETE("/:address", aliasHandler.Delete)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "Not found")
	})

	return router
}
