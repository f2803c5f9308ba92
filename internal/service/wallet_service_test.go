package service

import (
	"context"
	"testing"
	"time"

	"walletsvc/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeWallet(balance int64) *model.Wallet {
	return &model.Wallet{
		WalletID: "w1",
		Balance:  decimal.NewFromInt(balance),
		Currency: DefaultCurrency,
		Status:   model.WalletStatusActive,
	}
}

func TestApplyWithdrawal(t *testing.T) {
	t.Run("正常扣减", func(t *testing.T) {
		w := activeWallet(1000)
		err := applyWithdrawal(w, decimal.NewFromInt(300))
		require.NoError(t, err)
		assert.True(t, w.Balance.Equal(decimal.NewFromInt(700)))
		assert.True(t, w.DailyWithdrawalTotal.Equal(decimal.NewFromInt(300)))
		require.NotNil(t, w.LastWithdrawalDate)
		assert.Equal(t, time.UTC, w.LastWithdrawalDate.Location())
	})

	t.Run("冻结钱包拒绝提现", func(t *testing.T) {
		w := activeWallet(1000)
		w.Status = model.WalletStatusFrozen
		err := applyWithdrawal(w, decimal.NewFromInt(100))
		assert.ErrorIs(t, err, ErrWalletNotActive)
		assert.True(t, w.Balance.Equal(decimal.NewFromInt(1000)))
	})

	t.Run("余额不足", func(t *testing.T) {
		w := activeWallet(100)
		err := applyWithdrawal(w, decimal.NewFromInt(101))
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.True(t, w.Balance.Equal(decimal.NewFromInt(100)))
	})

	t.Run("全额提现到零", func(t *testing.T) {
		w := activeWallet(100)
		err := applyWithdrawal(w, decimal.NewFromInt(100))
		require.NoError(t, err)
		assert.True(t, w.Balance.IsZero())
	})

	t.Run("超出当日限额", func(t *testing.T) {
		limit := decimal.NewFromInt(500)
		w := activeWallet(10000)
		w.DailyWithdrawalLimit = &limit
		w.DailyWithdrawalTotal = decimal.NewFromInt(400)
		now := time.Now().UTC()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		w.LastWithdrawalDate = &today

		err := applyWithdrawal(w, decimal.NewFromInt(101))
		assert.ErrorIs(t, err, ErrWithdrawalLimitExceeded)
		assert.True(t, w.Balance.Equal(decimal.NewFromInt(10000)))
		assert.True(t, w.DailyWithdrawalTotal.Equal(decimal.NewFromInt(400)))
	})

	t.Run("恰好达到限额放行", func(t *testing.T) {
		limit := decimal.NewFromInt(500)
		w := activeWallet(10000)
		w.DailyWithdrawalLimit = &limit
		w.DailyWithdrawalTotal = decimal.NewFromInt(400)
		now := time.Now().UTC()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		w.LastWithdrawalDate = &today

		err := applyWithdrawal(w, decimal.NewFromInt(100))
		require.NoError(t, err)
		assert.True(t, w.DailyWithdrawalTotal.Equal(limit))
	})

	t.Run("跨天后累计清零", func(t *testing.T) {
		limit := decimal.NewFromInt(500)
		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		w := activeWallet(10000)
		w.DailyWithdrawalLimit = &limit
		w.DailyWithdrawalTotal = decimal.NewFromInt(499)
		w.LastWithdrawalDate = &yesterday

		err := applyWithdrawal(w, decimal.NewFromInt(300))
		require.NoError(t, err)
		assert.True(t, w.DailyWithdrawalTotal.Equal(decimal.NewFromInt(300)))
	})

	t.Run("无限额不受约束", func(t *testing.T) {
		w := activeWallet(100000)
		w.DailyWithdrawalTotal = decimal.NewFromInt(99999)
		err := applyWithdrawal(w, decimal.NewFromInt(50000))
		require.NoError(t, err)
	})
}

func TestWalletServiceAmountGuards(t *testing.T) {
	s := &WalletService{}
	ctx := context.Background()

	_, err := s.Deposit(ctx, "w1", decimal.Zero, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = s.Deposit(ctx, "w1", decimal.NewFromInt(-10), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = s.Withdraw(ctx, "w1", decimal.Zero, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
