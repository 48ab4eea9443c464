package api

import (
	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/config"
	_ "github.com/d60-Lab/gatherly/docs"
	"github.com/d60-Lab/gatherly/internal/api/handler"
	"github.com/d60-Lab/gatherly/pkg/logger"
)

// NewRouter 注册中间件与路由
func NewRouter(cfg *config.Config, h *handler.Handler) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	if sentry.CurrentHub().Client() != nil {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", h.Health)
	if cfg.Server.EnableSwagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/notifications/remind", h.Remind)
		v1.GET("/outbox", h.ListOutbox)
		v1.GET("/outbox/:id", h.GetOutbox)
		v1.POST("/pokes", h.Poke)
		v1.GET("/pokes/status", h.PokeStatus)

		admin := v1.Group("/admin")
		admin.GET("/breakers", h.ListBreakers)
		admin.POST("/breakers/:provider/reset", h.ResetBreaker)
		admin.POST("/outbox/sweep", h.Sweep)
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() >= 500 {
			logger.Error("request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Int("status", c.Writer.Status()),
				zap.Strings("errors", c.Errors.Errors()),
			)
		}
	}
}
