package job

import (
	"context"
	"log"
	"time"

	"walletsvc/internal/repository"
)

// GCInterval 幂等记录清理周期
const GCInterval = time.Hour

// gcBatchSize 单次删除上限，避免大事务拖慢主表
const gcBatchSize = 1000

// IdempotencyGC 幂等记录清理任务
// 超过保留期的记录不再参与重放，定期删除防止表无限增长
type IdempotencyGC struct {
	idemRepo *repository.IdempotencyRepository
	ttl      time.Duration
	stopCh   chan struct{}
}

func NewIdempotencyGC(idemRepo *repository.IdempotencyRepository, ttl time.Duration) *IdempotencyGC {
	return &IdempotencyGC{
		idemRepo: idemRepo,
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
}

func (j *IdempotencyGC) Start(ctx context.Context) {
	go j.loop(ctx)
	log.Println("[IdempotencyGC] 清理任务已启动")
}

func (j *IdempotencyGC) Stop() {
	close(j.stopCh)
	log.Println("[IdempotencyGC] 清理任务已停止")
}

func (j *IdempotencyGC) loop(ctx context.Context) {
	ticker := time.NewTicker(GCInterval)
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

func (j *IdempotencyGC) tick(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.ttl)
	deleted, err := j.idemRepo.DeleteOlderThan(ctx, cutoff, gcBatchSize)
	if err != nil {
		log.Printf("[IdempotencyGC] 清理失败: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[IdempotencyGC] 清理过期幂等记录 %d 条", deleted)
	}
}
