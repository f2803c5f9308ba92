package job

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"walletsvc/internal/infrastructure/mq"
	"walletsvc/internal/model"
	"walletsvc/internal/repository"
)

// ============================================================================
// 发件箱中继任务
// ============================================================================
//
// 周期扫描未投递的发件箱行，逐条发往消息总线（等待 broker confirm），
// 成功的一批统一标记 published。单条失败只记日志，下个周期重扫。
// 至少一次语义：标记失败会导致重发，消费端必须幂等。

// RelayInterval 扫描周期
const RelayInterval = 5 * time.Second

// OutboxRelay 发件箱中继
type OutboxRelay struct {
	outboxRepo *repository.OutboxRepository
	publisher  *mq.Publisher
	running    atomic.Bool // 上个周期未结束时跳过本周期
	stopCh     chan struct{}
}

func NewOutboxRelay(outboxRepo *repository.OutboxRepository, publisher *mq.Publisher) *OutboxRelay {
	return &OutboxRelay{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		stopCh:     make(chan struct{}),
	}
}

// Start 启动中继循环
func (r *OutboxRelay) Start(ctx context.Context) {
	go r.loop(ctx)
	log.Println("[OutboxRelay] 中继任务已启动")
}

// Stop 停止中继循环
func (r *OutboxRelay) Stop() {
	close(r.stopCh)
	log.Println("[OutboxRelay] 中继任务已停止")
}

func (r *OutboxRelay) loop(ctx context.Context) {
	ticker := time.NewTicker(RelayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *OutboxRelay) tick(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	defer r.running.Store(false)

	events, err := r.outboxRepo.GetUnpublished(ctx, repository.OutboxScanBatchSize)
	if err != nil {
		log.Printf("[OutboxRelay] 扫描发件箱失败: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}

	published := make([]string, 0, len(events))
	for _, event := range events {
		routingKey := model.RoutingKey(event.EventType)
		if err := r.publisher.Publish(ctx, routingKey, []byte(event.Payload)); err != nil {
			log.Printf("[OutboxRelay] 投递失败: event=%s, key=%s, err=%v", event.ID, routingKey, err)
			continue
		}
		published = append(published, event.ID)
	}

	if len(published) > 0 {
		if err := r.outboxRepo.MarkPublished(ctx, published); err != nil {
			log.Printf("[OutboxRelay] 标记已投递失败: %v", err)
			return
		}
		log.Printf("[OutboxRelay] 本轮投递 %d/%d 条", len(published), len(events))
	}
}
