package api

import (
	"net/http"
	"time"

	"merch-store/internal/logger"
	"merch-store/internal/metrics"
	"merch-store/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Auth           middleware.TokenParser
	RateLimiter    *middleware.RateLimiter
	RequestTimeout time.Duration
	AccessLog      *zap.Logger
}

func NewRouter(h *Handlers, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), metrics.GinMiddleware())
	if cfg.AccessLog != nil {
		r.Use(logger.GinLogger(cfg.AccessLog))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api", middleware.Timeout(cfg.RequestTimeout))
	if cfg.RateLimiter != nil {
		api.POST("/auth", cfg.RateLimiter.Handler(), h.PostApiAuth)
	} else {
		api.POST("/auth", h.PostApiAuth)
	}

	authed := api.Group("", middleware.JWTAuthMiddleware(cfg.Auth, h.Logger))
	if cfg.RateLimiter != nil {
		authed.Use(cfg.RateLimiter.Handler())
	}
	authed.GET("/info", h.GetApiInfo)
	authed.POST("/sendCoin", h.PostApiSendCoin)
	authed.GET("/buy/:item", h.GetApiBuyItem)
	return r
}
