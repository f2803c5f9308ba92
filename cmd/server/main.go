package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/consumer"
	"walletsvc/internal/handler"
	"walletsvc/internal/infrastructure/cache"
	"walletsvc/internal/infrastructure/database"
	"walletsvc/internal/infrastructure/mq"
	"walletsvc/internal/job"
	"walletsvc/internal/repository"
	"walletsvc/internal/service"
	"walletsvc/internal/txn"
	"walletsvc/pkg/idgen"

	"github.com/shopspring/decimal"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 金额在 JSON 中以数字输出，不带引号
	decimal.MarshalJSONWithoutQuotes = true

	// 初始化 ID 生成器
	idgen.Init(1)

	// 重试策略按配置生效
	service.ConfigureRetry(&cfg.Business)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 RabbitMQ 生产者
	publisher := mq.InitRabbitMQ(&cfg.RabbitMQ)
	defer mq.CloseRabbitMQ()

	// 组装仓储层
	walletRepo := repository.NewWalletRepository(db)
	eventRepo := repository.NewWalletEventRepository(db)
	sagaRepo := repository.NewTransferSagaRepository(db)
	idemRepo := repository.NewIdempotencyRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	alertRepo := repository.NewFraudAlertRepository(db)

	// 组装服务层
	coordinator := txn.NewCoordinator(db, redisClient, outboxRepo)
	balanceCache := cache.NewBalanceCache(redisClient)
	walletSvc := service.NewWalletService(coordinator, walletRepo, eventRepo, idemRepo, balanceCache)
	transferSvc := service.NewTransferService(coordinator, walletRepo, eventRepo, sagaRepo, idemRepo, balanceCache, redisClient, walletSvc)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动风控消费者
	detector := consumer.NewFraudDetector(redisClient, alertRepo, &cfg.Business)
	fraudConsumer := consumer.NewFraudConsumer(cfg, detector)
	fraudConsumer.Start(ctx)

	// 启动后台任务
	outboxRelay := job.NewOutboxRelay(outboxRepo, publisher)
	outboxRelay.Start(ctx)

	sagaRecovery := job.NewSagaRecovery(sagaRepo, transferSvc,
		time.Duration(cfg.Business.SagaStuckThresholdMs)*time.Millisecond)
	sagaRecovery.Start(ctx)

	idempotencyGC := job.NewIdempotencyGC(idemRepo,
		time.Duration(cfg.Business.IdempotencyTTLSeconds)*time.Second)
	idempotencyGC.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(cfg, walletSvc, transferSvc, db, redisClient)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务和消费者
	cancel()
	idempotencyGC.Stop()
	sagaRecovery.Stop()
	outboxRelay.Stop()
	fraudConsumer.Stop()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
