package service

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/repository"
	"walletsvc/internal/txn"

	"github.com/go-sql-driver/mysql"
)

// ============================================================================
// 重试策略
// ============================================================================
//
// 只重试存储层瞬时错误：死锁、锁等待超时、并发开户撞唯一键、乐观锁冲突。
// 业务规则失败（余额不足等）立即返回。
// 退避：起步延迟每次 ×2，上限 5s，每次附加 0-100ms 随机抖动。
// 次数与起步延迟取配置 max_retries / initial_backoff_ms，默认 10 次、50ms。

var (
	retryMaxAttempts = 10
	retryBaseDelay   = 50 * time.Millisecond
)

const (
	retryMaxDelay = 5 * time.Second
	retryJitterMs = 100
)

// ConfigureRetry 用业务配置覆盖重试策略，进程启动时调用一次
func ConfigureRetry(cfg *config.BusinessConfig) {
	if cfg.MaxRetries > 0 {
		retryMaxAttempts = cfg.MaxRetries
	}
	if cfg.InitialBackoffMs > 0 {
		retryBaseDelay = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
}

// MySQL 错误码
const (
	mysqlErrDeadlock        = 1213
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDuplicateEntry  = 1062
)

// IsRetryable 判断是否为可重试的瞬时错误
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, repository.ErrOptimisticLock) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout, mysqlErrDuplicateEntry:
			return true
		}
	}
	return false
}

// WithRetry 带指数退避执行 fn，直到成功或遇到不可重试错误
func WithRetry(ctx context.Context, op string, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == retryMaxAttempts {
			break
		}

		jitter := time.Duration(rand.Intn(retryJitterMs+1)) * time.Millisecond
		log.Printf("[Retry] %s 瞬时错误，%v 后第 %d 次重试: %v", op, delay+jitter, attempt+1, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return err
}

// IsBusinessError 是否为业务规则错误
func IsBusinessError(err error) bool {
	var bizErr *BusinessError
	return errors.As(err, &bizErr)
}

// IsConcurrencyError 是否为并发冲突（请求锁被占用）
func IsConcurrencyError(err error) bool {
	return errors.Is(err, txn.ErrConcurrentRequest)
}
