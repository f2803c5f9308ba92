package txn

import (
	"context"
	"errors"
	"testing"

	"walletsvc/internal/infrastructure/lock"
	"walletsvc/internal/model"
	"walletsvc/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newCoordinator(t *testing.T) (*Coordinator, sqlmock.Sqlmock, redismock.ClientMock) {
	t.Helper()
	sqlDB, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysqldriver.New(mysqldriver.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	redisClient, redisMock := redismock.NewClientMock()
	return NewCoordinator(db, redisClient, repository.NewOutboxRepository(db)), dbMock, redisMock
}

func TestExecuteCommitsEventsWithTransaction(t *testing.T) {
	c, dbMock, _ := newCoordinator(t)

	dbMock.ExpectBegin()
	dbMock.ExpectExec("INSERT INTO `outbox_events`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectCommit()

	err := c.Execute(context.Background(), Options{}, func(txc *TxContext) error {
		txc.PublishEvent(model.NewOutboxEvent("w1", model.EventFundsDeposited, nil, nil))
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestExecuteRollsBackOnError(t *testing.T) {
	c, dbMock, _ := newCoordinator(t)

	dbMock.ExpectBegin()
	dbMock.ExpectRollback()

	boom := errors.New("余额不足")
	err := c.Execute(context.Background(), Options{}, func(txc *TxContext) error {
		txc.PublishEvent(model.NewOutboxEvent("w1", model.EventFundsDeposited, nil, nil))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestExecuteRejectsConcurrentRequest(t *testing.T) {
	c, dbMock, redisMock := newCoordinator(t)

	key := lock.RequestLockKey("req-1")
	redisMock.ExpectSetNX(key, "req-1", lock.RequestLockTTL).SetVal(false)

	err := c.Execute(context.Background(), Options{LockKey: key, LockOwner: "req-1"}, func(txc *TxContext) error {
		t.Fatal("抢锁失败时不应进入事务")
		return nil
	})
	assert.ErrorIs(t, err, ErrConcurrentRequest)
	assert.NoError(t, dbMock.ExpectationsWereMet())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestMarshalPayload(t *testing.T) {
	payload := &model.EventPayload{
		EventType: model.EventFundsDeposited,
		WalletID:  "w1",
		Timestamp: "2026-08-06T10:00:00Z",
	}
	data, err := MarshalPayload(payload)
	require.NoError(t, err)
	assert.Contains(t, data, `"walletId":"w1"`)
}
