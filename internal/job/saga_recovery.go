package job

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"walletsvc/internal/repository"
	"walletsvc/internal/service"
)

// ============================================================================
// Saga 恢复任务
// ============================================================================
//
// 扣款成功后进程崩溃会留下 DEBITED 状态的转账。
// 恢复任务周期扫描超过阈值未动的卡单，先尝试续跑入账，不行再补偿退款。
// 续跑和补偿都靠状态检查和 saga_ref 幂等键保证不重复记账。

// RecoveryInterval 扫描周期
const RecoveryInterval = 10 * time.Second

// SagaRecovery saga 恢复任务
type SagaRecovery struct {
	sagaRepo  *repository.TransferSagaRepository
	transfers *service.TransferService
	threshold time.Duration // 卡单判定阈值
	running   atomic.Bool
	stopCh    chan struct{}
}

func NewSagaRecovery(sagaRepo *repository.TransferSagaRepository, transfers *service.TransferService, threshold time.Duration) *SagaRecovery {
	return &SagaRecovery{
		sagaRepo:  sagaRepo,
		transfers: transfers,
		threshold: threshold,
		stopCh:    make(chan struct{}),
	}
}

// Start 启动恢复循环
func (j *SagaRecovery) Start(ctx context.Context) {
	go j.loop(ctx)
	log.Println("[SagaRecovery] 恢复任务已启动")
}

// Stop 停止恢复循环
func (j *SagaRecovery) Stop() {
	close(j.stopCh)
	log.Println("[SagaRecovery] 恢复任务已停止")
}

func (j *SagaRecovery) loop(ctx context.Context) {
	ticker := time.NewTicker(RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

func (j *SagaRecovery) tick(ctx context.Context) {
	if !j.running.CompareAndSwap(false, true) {
		return
	}
	defer j.running.Store(false)

	sagas, err := j.sagaRepo.GetStuckSagas(ctx, j.threshold)
	if err != nil {
		log.Printf("[SagaRecovery] 扫描卡单失败: %v", err)
		return
	}
	if len(sagas) == 0 {
		return
	}

	log.Printf("[SagaRecovery] 发现 %d 笔卡单", len(sagas))
	for _, saga := range sagas {
		if err := j.transfers.RecoverSaga(ctx, saga.ID); err != nil {
			log.Printf("[SagaRecovery] 恢复失败: saga=%s, err=%v", saga.ID, err)
		}
	}
}
