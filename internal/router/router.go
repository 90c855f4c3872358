package router

import (
	"fmt"
	"strings"

	"github.com/kecheng-next/internal/cache"
	"github.com/kecheng-next/internal/config"
	fulfillmenthandlers "github.com/kecheng-next/internal/http/handlers/fulfillment"
	"github.com/kecheng-next/internal/logger"
	"github.com/kecheng-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	handler := fulfillmenthandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "kc"
	}
	webhookRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:webhook", redisPrefix),
		WindowSeconds: cfg.Security.WebhookRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.WebhookRateLimit.MaxRequests,
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	apiV1 := r.Group("/api/v1")
	{
		// 内部接口（结算服务 / 运营后台调用，共享令牌鉴权）
		fulfillment := apiV1.Group("/fulfillment")
		fulfillment.Use(ServiceTokenMiddleware(cfg.Security.ServiceToken))
		{
			fulfillment.POST("/orders", handler.IntakeOrder)
			fulfillment.GET("/orders", handler.ListOrders)
			fulfillment.GET("/orders/:order_no", handler.GetOrderByOrderNo)
			fulfillment.POST("/items/:id/confirm", handler.ConfirmManualItem)
			fulfillment.GET("/webhook-events", handler.ListWebhookEvents)
		}

		// 供应商回调（签名在各连接器内校验）
		webhooks := apiV1.Group("/webhooks")
		webhooks.Use(RateLimitMiddleware(cache.Client(), webhookRule, KeyByIPAndParam("supplier")))
		{
			webhooks.POST("/:supplier", handler.SupplierWebhook)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
