package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/medora-backend/internal/auth"
	"github.com/lk2023060901/medora-backend/internal/auth/middleware"
	"github.com/lk2023060901/medora-backend/internal/conf"
	"github.com/lk2023060901/medora-backend/internal/document/service"
	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"github.com/lk2023060901/medora-backend/internal/pkg/metrics"
	pkgredis "github.com/lk2023060901/medora-backend/internal/pkg/redis"
	"go.uber.org/zap"
)

// HealthChecker 健康检查依赖
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HTTPServer struct {
	server *http.Server
	logger *logger.Logger
}

func NewHTTPServer(
	config *conf.Config,
	log *logger.Logger,
	jwtManager *auth.JWTManager,
	redisClient *pkgredis.Client,
	health HealthChecker,
	documentService *service.DocumentService,
	shareService *service.ShareService,
) *HTTPServer {
	router := NewRouter(config, log, jwtManager, redisClient, health, documentService, shareService)

	return &HTTPServer{
		server: &http.Server{
			Addr:         config.Server.Addr(),
			Handler:      router,
			ReadTimeout:  config.Server.ReadTimeout,
			WriteTimeout: config.Server.WriteTimeout,
		},
		logger: log,
	}
}

// NewRouter 组装中间件与路由
func NewRouter(
	config *conf.Config,
	log *logger.Logger,
	jwtManager *auth.JWTManager,
	redisClient *pkgredis.Client,
	health HealthChecker,
	documentService *service.DocumentService,
	shareService *service.ShareService,
) *gin.Engine {
	if config.Server.Mode != "" {
		gin.SetMode(config.Server.Mode)
	}

	router := gin.New()
	router.Use(logger.GinRecovery(log))
	router.Use(logger.GinLogger(log))
	router.Use(metrics.GinMiddleware())

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if health != nil {
			if err := health.HealthCheck(ctx); err != nil {
				log.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unavailable",
					"time":   time.Now().Format(time.RFC3339),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", metrics.Handler())

	limiter := middleware.RateLimiter(redisClient, config.RateLimit, log)

	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtManager, log), limiter)
	documentService.RegisterRoutes(api)

	public := router.Group("/api/v1")
	public.Use(middleware.OptionalJWTAuth(jwtManager), limiter)
	shareService.RegisterRoutes(api, public)

	return router
}

func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}
