package handler

import (
	"github.com/geektown/Nano-Bananary/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	authRequired := JWTAuthMiddleware(&cfg.JWT)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 认证相关
		auth := api.Group("/auth")
		{
			auth.POST("/register", h.Register)
			auth.POST("/login", h.Login)
			auth.GET("/me", authRequired, h.Me)
		}

		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", authRequired, h.GetBalance)
			account.GET("/transactions", authRequired, h.ListTransactions)
			account.GET("/check-balance", authRequired, h.CheckBalance)
			account.GET("/rules", h.GetRules)
		}

		// 支付相关
		payment := api.Group("/payment")
		{
			payment.POST("/create", authRequired, h.CreatePayment)
			payment.GET("/detail", authRequired, h.GetPayment)
			payment.GET("/list", authRequired, h.ListPayments)
			payment.POST("/callback", h.PaymentCallback) // 渠道回调，无用户令牌
			payment.POST("/simulate", authRequired, h.SimulatePayment)
		}

		// 付费服务
		svc := api.Group("/service")
		{
			svc.POST("/edit-image", authRequired, h.EditImage)
			svc.POST("/generate-video", authRequired, h.GenerateVideo)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
