package txn

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"walletsvc/internal/infrastructure/lock"
	"walletsvc/internal/infrastructure/mq"
	"walletsvc/internal/model"
	"walletsvc/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ============================================================================
// 事务协调器
// ============================================================================
//
// 统一封装：请求锁 -> 数据库事务 -> 发件箱写入 -> 提交 -> 尽力即时投递。
// 业务代码在回调里操作 TxContext，事件先进内存缓冲，
// 提交前与业务变更同事务写入发件箱，保证"状态变了事件一定在库里"。
// 提交后立即尝试发 MQ，失败不影响请求结果，中继任务兜底重发。

// ErrConcurrentRequest 同一 requestId 的请求正在处理中
var ErrConcurrentRequest = errors.New("相同请求正在处理中，请稍后重试")

// TxContext 事务上下文，业务回调通过它访问事务句柄和事件缓冲
type TxContext struct {
	Tx     *gorm.DB
	events []*model.OutboxEvent
}

// PublishEvent 缓冲一条领域事件，提交前统一落发件箱
func (c *TxContext) PublishEvent(event *model.OutboxEvent) {
	c.events = append(c.events, event)
}

// Options 单次执行的选项
type Options struct {
	// LockKey 非空时先抢请求锁，抢不到直接拒绝
	LockKey string
	// LockOwner 锁持有者标识（通常是 requestId），为空时用 LockKey
	LockOwner string
	// Isolation 事务隔离级别，零值按 READ COMMITTED 执行
	Isolation sql.IsolationLevel
}

// Coordinator 事务协调器
type Coordinator struct {
	db         *gorm.DB
	redis      *redis.Client
	outboxRepo *repository.OutboxRepository
}

func NewCoordinator(db *gorm.DB, redisClient *redis.Client, outboxRepo *repository.OutboxRepository) *Coordinator {
	return &Coordinator{
		db:         db,
		redis:      redisClient,
		outboxRepo: outboxRepo,
	}
}

// Execute 在数据库事务内执行业务回调
func (c *Coordinator) Execute(ctx context.Context, opts Options, fn func(txc *TxContext) error) error {
	if opts.LockKey == "" {
		return c.runInTransaction(ctx, opts, fn)
	}

	owner := opts.LockOwner
	if owner == "" {
		owner = opts.LockKey
	}
	requestLock := lock.NewDistributedLock(c.redis, opts.LockKey, owner, lock.RequestLockTTL)
	acquired, err := requestLock.TryLock(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrConcurrentRequest
	}
	defer func() {
		if err := requestLock.Unlock(context.Background()); err != nil {
			log.Printf("[Txn] 释放请求锁失败: key=%s, err=%v", opts.LockKey, err)
		}
	}()

	return c.runInTransaction(ctx, opts, fn)
}

func (c *Coordinator) runInTransaction(ctx context.Context, opts Options, fn func(txc *TxContext) error) error {
	txc := &TxContext{}

	isolation := opts.Isolation
	if isolation == sql.LevelDefault {
		isolation = sql.LevelReadCommitted
	}
	txOpts := &sql.TxOptions{Isolation: isolation}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc.Tx = tx
		txc.events = txc.events[:0]

		if err := fn(txc); err != nil {
			return err
		}

		// 【关键点】发件箱行与业务变更同事务提交
		for _, event := range txc.events {
			if err := c.outboxRepo.Create(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	}, txOpts)
	if err != nil {
		return err
	}

	// 提交成功后尽力即时投递，失败留给中继任务
	c.publishBestEffort(txc.events)
	return nil
}

// publishBestEffort 即时投递已提交的事件
// 这里的失败只记日志：发件箱行还是未投递状态，中继任务会重发
func (c *Coordinator) publishBestEffort(events []*model.OutboxEvent) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	published := make([]string, 0, len(events))
	for _, event := range events {
		routingKey := model.RoutingKey(event.EventType)
		if err := mq.SendMessage(ctx, routingKey, []byte(event.Payload)); err != nil {
			log.Printf("[Txn] 即时投递失败，等待中继重发: event=%s, err=%v", event.ID, err)
			continue
		}
		published = append(published, event.ID)
	}

	if len(published) > 0 {
		if err := c.outboxRepo.MarkPublished(ctx, published); err != nil {
			// 标记失败会导致中继重发，消费端按至少一次语义幂等处理
			log.Printf("[Txn] 标记已投递失败: err=%v", err)
		}
	}
}

// MarshalPayload 序列化事件载荷
func MarshalPayload(payload *model.EventPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
