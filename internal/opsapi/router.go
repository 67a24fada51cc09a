package opsapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"usagerelay/internal/config"
	"usagerelay/internal/logger"
	"usagerelay/pkg/middleware"
	"usagerelay/pkg/ratelimit"
	"usagerelay/pkg/tracing"
)

// NewRouter builds the ops API engine. ctx bounds background work of the
// rate limiter.
func NewRouter(ctx context.Context, cfg *config.Config, h *Handler, serviceName string, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(log, "/health", "/metrics"))

	if cfg.OpsAPI.RateLimit.Enabled {
		rl := ratelimit.FromConfig(cfg.OpsAPI.RateLimit)
		router.Use(ratelimit.RateLimitMiddleware(ctx, rl))
		log.InfowCtx(ctx, "Rate limiting enabled", "rps", rl.RPS, "burst", rl.Burst)
	}

	h.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.OpsAPI.Swagger {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	return router
}
