package repository

import (
	"context"
	"testing"
	"time"

	"walletsvc/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletEventCreate(t *testing.T) {
	t.Run("正常写入", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewWalletEventRepository(db)

		mock.ExpectExec("INSERT INTO `wallet_events`").
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.Create(context.Background(), nil, &model.WalletEvent{
			WalletID:  "w1",
			EventType: model.EventFundsDeposited,
			Currency:  "USD",
			Metadata:  "{}",
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("saga 分录重复返回哨兵错误", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewWalletEventRepository(db)

		mock.ExpectExec("INSERT INTO `wallet_events`").
			WillReturnError(&mysql.MySQLError{
				Number:  1062,
				Message: "Duplicate entry 'saga-1:credit' for key 'idx_wallet_events_saga_ref'",
			})

		sagaRef := "saga-1:credit"
		err := repo.Create(context.Background(), nil, &model.WalletEvent{
			WalletID:  "w2",
			EventType: model.EventFundsDeposited,
			Currency:  "USD",
			SagaRef:   &sagaRef,
		})
		assert.ErrorIs(t, err, ErrDuplicateSagaRef)
	})
}

func TestListByWalletID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWalletEventRepository(db)

	rows := sqlmock.NewRows([]string{"id", "wallet_id", "event_type", "currency", "metadata", "created_at"}).
		AddRow(2, "w1", model.EventFundsWithdrawn, "USD", "{}", time.Now()).
		AddRow(1, "w1", model.EventFundsDeposited, "USD", "{}", time.Now())

	mock.ExpectQuery("SELECT (.+) FROM `wallet_events` WHERE wallet_id = (.+) ORDER BY created_at DESC, id DESC").
		WillReturnRows(rows)

	events, err := repo.ListByWalletID(context.Background(), "w1", 50, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventFundsWithdrawn, events[0].EventType)
	assert.Equal(t, model.EventFundsDeposited, events[1].EventType)
}

func TestExistsBySagaRef(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWalletEventRepository(db)

	mock.ExpectQuery("SELECT count(.+) FROM `wallet_events`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.ExistsBySagaRef(context.Background(), nil, "saga-1:debit")
	require.NoError(t, err)
	assert.True(t, exists)
}
