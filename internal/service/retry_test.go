package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/repository"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"乐观锁冲突", repository.ErrOptimisticLock, true},
		{"死锁", &mysql.MySQLError{Number: 1213}, true},
		{"锁等待超时", &mysql.MySQLError{Number: 1205}, true},
		{"唯一键冲突", &mysql.MySQLError{Number: 1062}, true},
		{"其他 MySQL 错误", &mysql.MySQLError{Number: 1406}, false},
		{"业务错误", ErrInsufficientFunds, false},
		{"包装后的死锁", fmt.Errorf("执行失败: %w", &mysql.MySQLError{Number: 1213}), true},
		{"普通错误", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("瞬时错误后成功", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), "test", func() error {
			attempts++
			if attempts < 3 {
				return &mysql.MySQLError{Number: 1213}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("业务错误不重试", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), "test", func() error {
			attempts++
			return ErrInsufficientFunds
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, 1, attempts)
	})

	t.Run("上下文取消终止重试", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		attempts := 0
		err := WithRetry(ctx, "test", func() error {
			attempts++
			return &mysql.MySQLError{Number: 1205}
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestConfigureRetry(t *testing.T) {
	origAttempts, origDelay := retryMaxAttempts, retryBaseDelay
	t.Cleanup(func() {
		retryMaxAttempts, retryBaseDelay = origAttempts, origDelay
	})

	t.Run("按配置覆盖", func(t *testing.T) {
		ConfigureRetry(&config.BusinessConfig{MaxRetries: 2, InitialBackoffMs: 1})
		assert.Equal(t, 2, retryMaxAttempts)
		assert.Equal(t, time.Millisecond, retryBaseDelay)

		attempts := 0
		err := WithRetry(context.Background(), "test", func() error {
			attempts++
			return &mysql.MySQLError{Number: 1213}
		})
		var mysqlErr *mysql.MySQLError
		assert.ErrorAs(t, err, &mysqlErr)
		assert.Equal(t, 2, attempts)
	})

	t.Run("零值不覆盖默认", func(t *testing.T) {
		retryMaxAttempts, retryBaseDelay = origAttempts, origDelay
		ConfigureRetry(&config.BusinessConfig{})
		assert.Equal(t, origAttempts, retryMaxAttempts)
		assert.Equal(t, origDelay, retryBaseDelay)
	})
}

func TestIsBusinessError(t *testing.T) {
	assert.True(t, IsBusinessError(ErrWalletNotActive))
	assert.True(t, IsBusinessError(fmt.Errorf("包装: %w", ErrInvalidAmount)))
	assert.False(t, IsBusinessError(errors.New("boom")))
	assert.False(t, IsBusinessError(nil))
}
