package service

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"walletsvc/internal/txn"

	"github.com/stretchr/testify/assert"
)

func TestErrorEnvelope(t *testing.T) {
	t.Run("业务错误映射为 422", func(t *testing.T) {
		e := ErrorEnvelope(ErrInsufficientFunds)
		assert.Equal(t, http.StatusUnprocessableEntity, e.StatusCode)
		assert.Equal(t, "Unprocessable Entity", e.Error)
		assert.Equal(t, "InsufficientFunds", e.Type)
		assert.Equal(t, "余额不足", e.Message)
	})

	t.Run("包装后的业务错误仍可识别", func(t *testing.T) {
		e := ErrorEnvelope(fmt.Errorf("执行失败: %w", ErrWalletNotActive))
		assert.Equal(t, http.StatusUnprocessableEntity, e.StatusCode)
		assert.Equal(t, "WalletNotActive", e.Type)
	})

	t.Run("请求锁冲突映射为 409", func(t *testing.T) {
		e := ErrorEnvelope(txn.ErrConcurrentRequest)
		assert.Equal(t, http.StatusConflict, e.StatusCode)
		assert.Equal(t, "ConcurrentRequest", e.Type)
	})

	t.Run("未知错误映射为 500 且不泄露细节", func(t *testing.T) {
		e := ErrorEnvelope(errors.New("dial tcp 10.0.0.1:3306: connection refused"))
		assert.Equal(t, http.StatusInternalServerError, e.StatusCode)
		assert.Equal(t, "服务内部错误", e.Message)
		assert.Empty(t, e.Type)
		assert.NotContains(t, e.Message, "10.0.0.1")
	})
}

func TestBusinessErrorTypes(t *testing.T) {
	cases := []struct {
		err      *BusinessError
		wantType string
	}{
		{ErrInvalidAmount, "InvalidAmount"},
		{ErrInsufficientFunds, "InsufficientFunds"},
		{ErrWalletNotActive, "WalletNotActive"},
		{ErrWithdrawalLimitExceeded, "WithdrawalLimitExceeded"},
		{ErrCurrencyMismatch, "CurrencyMismatch"},
		{ErrNonZeroBalance, "NonZeroBalance"},
		{ErrWalletClosed, "WalletClosed"},
		{ErrInvalidTransfer, "InvalidTransfer"},
		{ErrWalletNotFound, "WalletNotFound"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.wantType, tc.err.Type)
		assert.NotEmpty(t, tc.err.Error())
	}
}
