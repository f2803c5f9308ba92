package service

import (
	"errors"
	"net/http"

	"walletsvc/internal/txn"
	"walletsvc/pkg/response"
)

// ============================================================================
// 业务错误
// ============================================================================
//
// 业务规则失败不重试、不写事件，事务整体回滚。
// Type 是给 HTTP 层和调用方的机器可读错误类型。

// BusinessError 业务规则错误
type BusinessError struct {
	Type    string
	Message string
}

func (e *BusinessError) Error() string {
	return e.Message
}

var (
	// ErrInvalidAmount 金额必须为正数
	ErrInvalidAmount = &BusinessError{Type: "InvalidAmount", Message: "金额必须大于 0"}
	// ErrInsufficientFunds 余额不足
	ErrInsufficientFunds = &BusinessError{Type: "InsufficientFunds", Message: "余额不足"}
	// ErrWalletNotActive 钱包不是 ACTIVE 状态
	ErrWalletNotActive = &BusinessError{Type: "WalletNotActive", Message: "钱包不可用"}
	// ErrWithdrawalLimitExceeded 超出当日提现限额
	ErrWithdrawalLimitExceeded = &BusinessError{Type: "WithdrawalLimitExceeded", Message: "超出当日提现限额"}
	// ErrCurrencyMismatch 转账双方币种不一致
	ErrCurrencyMismatch = &BusinessError{Type: "CurrencyMismatch", Message: "币种不匹配"}
	// ErrNonZeroBalance 销户要求余额为 0
	ErrNonZeroBalance = &BusinessError{Type: "NonZeroBalance", Message: "余额不为 0，不能销户"}
	// ErrWalletClosed 已销户的钱包不能再变更状态
	ErrWalletClosed = &BusinessError{Type: "WalletClosed", Message: "钱包已销户"}
	// ErrInvalidTransfer 转出转入为同一钱包
	ErrInvalidTransfer = &BusinessError{Type: "InvalidTransfer", Message: "不能向自己转账"}
	// ErrWalletNotFound 钱包不存在
	ErrWalletNotFound = &BusinessError{Type: "WalletNotFound", Message: "钱包不存在"}
	// ErrInvalidLimit 提现限额必须为正数
	ErrInvalidLimit = &BusinessError{Type: "InvalidAmount", Message: "提现限额必须大于 0"}
)

// ErrorEnvelope 错误到统一响应信封的映射
// 业务规则 422，请求锁冲突 409，其余一律 500
func ErrorEnvelope(err error) response.Envelope {
	var bizErr *BusinessError
	switch {
	case errors.As(err, &bizErr):
		return response.New(http.StatusUnprocessableEntity, bizErr.Message, bizErr.Type)
	case errors.Is(err, txn.ErrConcurrentRequest):
		return response.New(http.StatusConflict, err.Error(), "ConcurrentRequest")
	default:
		return response.New(http.StatusInternalServerError, "服务内部错误", "")
	}
}
