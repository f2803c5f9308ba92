package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyGet(t *testing.T) {
	t.Run("不存在返回 nil 而不是错误", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewIdempotencyRepository(db)

		mock.ExpectQuery("SELECT (.+) FROM `idempotency_keys`").
			WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "response", "created_at"}))

		record, err := repo.Get(context.Background(), nil, "req-1")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("命中返回已存响应", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewIdempotencyRepository(db)

		mock.ExpectQuery("SELECT (.+) FROM `idempotency_keys`").
			WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "response", "created_at"}).
				AddRow(1, "req-1", `{"walletId":"w1","newBalance":100}`, time.Now()))

		record, err := repo.Get(context.Background(), nil, "req-1")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "req-1", record.RequestID)
		assert.Contains(t, record.Response, "newBalance")
	})
}

func TestIdempotencySave(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIdempotencyRepository(db)

	mock.ExpectExec("INSERT INTO `idempotency_keys`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Save(context.Background(), nil, "req-1", `{"ok":true}`)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOlderThan(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIdempotencyRepository(db)

	mock.ExpectExec("DELETE FROM `idempotency_keys`").
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := repo.DeleteOlderThan(context.Background(), time.Now().Add(-24*time.Hour), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
}
