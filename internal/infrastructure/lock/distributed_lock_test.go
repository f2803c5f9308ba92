package lock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLockKey(t *testing.T) {
	assert.Equal(t, "lock:req:req-1", RequestLockKey("req-1"))
}

func TestTryLock(t *testing.T) {
	t.Run("抢到锁", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		l := NewRequestLock(client, "req-1", "owner-1")

		mock.ExpectSetNX("lock:req:req-1", "owner-1", RequestLockTTL).SetVal(true)

		ok, err := l.TryLock(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("锁被占用", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		l := NewRequestLock(client, "req-1", "owner-2")

		mock.ExpectSetNX("lock:req:req-1", "owner-2", RequestLockTTL).SetVal(false)

		ok, err := l.TryLock(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestLockRetriesUntilExhausted(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewDistributedLock(client, "k", "v", time.Minute)

	mock.ExpectSetNX("k", "v", time.Minute).SetVal(false)
	mock.ExpectSetNX("k", "v", time.Minute).SetVal(false)
	mock.ExpectSetNX("k", "v", time.Minute).SetVal(false)

	err := l.Lock(context.Background(), time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlockOnlyDeletesOwnLock(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewDistributedLock(client, "k", "v", time.Minute)

	// 脚本内容不关心，只校验键和持有者参数
	mock.Regexp().ExpectEval(`(?s).*`, []string{"k"}, "v").SetVal(int64(1))

	err := l.Unlock(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
