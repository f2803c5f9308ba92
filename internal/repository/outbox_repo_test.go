package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUnpublished(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db)

	rows := sqlmock.NewRows([]string{"id", "aggregate_id", "event_type", "payload", "published", "created_at"}).
		AddRow("e1", "w1", "FUNDS_DEPOSITED", "{}", false, time.Now()).
		AddRow("e2", "w1", "FUNDS_WITHDRAWN", "{}", false, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM `outbox_events` WHERE published = (.+) ORDER BY created_at ASC").
		WillReturnRows(rows)

	events, err := repo.GetUnpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
}

func TestMarkPublished(t *testing.T) {
	t.Run("空列表不触发 SQL", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOutboxRepository(db)

		err := repo.MarkPublished(context.Background(), nil)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("批量标记", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOutboxRepository(db)

		mock.ExpectExec("UPDATE `outbox_events` SET").
			WillReturnResult(sqlmock.NewResult(0, 2))

		err := repo.MarkPublished(context.Background(), []string{"e1", "e2"})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
