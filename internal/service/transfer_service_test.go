package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestExecuteTransferGuards(t *testing.T) {
	s := &TransferService{}
	ctx := context.Background()

	t.Run("金额必须为正", func(t *testing.T) {
		_, err := s.ExecuteTransfer(ctx, "w1", "w2", decimal.Zero, "")
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = s.ExecuteTransfer(ctx, "w1", "w2", decimal.NewFromInt(-1), "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("不能向自己转账", func(t *testing.T) {
		_, err := s.ExecuteTransfer(ctx, "w1", "w1", decimal.NewFromInt(10), "")
		assert.ErrorIs(t, err, ErrInvalidTransfer)
	})
}
