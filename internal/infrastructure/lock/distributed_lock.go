package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式请求锁
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   - NX 保证互斥，EX 防止持有者崩溃后死锁
//   - value 记录持有者标识，释放时校验，避免删掉别人的锁
// 释放：Lua 脚本原子地"校验 value + 删除"

var ErrLockFailed = errors.New("获取分布式锁失败")

// RequestLockTTL 请求锁过期时间
const RequestLockTTL = 60 * time.Second

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 持有者标识
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// RequestLockKey 请求锁键
func RequestLockKey(requestID string) string {
	return fmt.Sprintf("lock:req:%s", requestID)
}

// NewRequestLock 按请求维度的锁，键 lock:req:<requestId>
// 同一 requestId 的并发重复提交只放行一个
func NewRequestLock(client *redis.Client, requestID, owner string) *DistributedLock {
	return NewDistributedLock(client, RequestLockKey(requestID), owner, RequestLockTTL)
}

// TryLock 尝试获取锁（非阻塞），获取失败返回 false
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// 锁可能已过期被别人持有，只有 value 匹配才删除
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}
