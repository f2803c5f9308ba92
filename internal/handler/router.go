package handler

import (
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 组装路由
func SetupRouter(
	cfg *config.Config,
	wallets *service.WalletService,
	transfers *service.TransferService,
	db *gorm.DB,
	redisClient *redis.Client,
) *gin.Engine {
	router := gin.Default()
	router.Use(RequestID())

	health := NewHealthHandler(db, redisClient)
	router.GET("/health", health.Health)
	router.GET("/health/live", health.Live)
	router.GET("/health/ready", health.Ready)

	walletHandler := NewWalletHandler(wallets, transfers)
	adminHandler := NewAdminHandler(wallets)

	rateLimit := RateLimit(redisClient,
		cfg.Business.RateLimitMax,
		time.Duration(cfg.Business.RateLimitWindowSeconds)*time.Second)

	v1 := router.Group("/v1", rateLimit)
	{
		v1.POST("/wallet/:id/deposit", walletHandler.Deposit)
		v1.POST("/wallet/:id/withdraw", walletHandler.Withdraw)
		v1.POST("/wallet/:id/transfer", walletHandler.Transfer)
		v1.GET("/wallet/:id", walletHandler.GetBalance)
		v1.GET("/wallet/:id/history", walletHandler.GetHistory)

		v1.POST("/wallet/:id/freeze", adminHandler.Freeze)
		v1.POST("/wallet/:id/unfreeze", adminHandler.Unfreeze)
		v1.POST("/wallet/:id/close", adminHandler.Close)
		v1.PUT("/wallet/:id/limit", adminHandler.SetLimit)
	}

	return router
}
