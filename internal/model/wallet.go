package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 钱包状态常量
// ============================================================================

const (
	WalletStatusActive = "ACTIVE"
	WalletStatusFrozen = "FROZEN"
	WalletStatusClosed = "CLOSED"
)

// Wallet 钱包账户表
// 记录每个账户的余额，是整个系统的核心数据
//
// 【重要】余额不变量：
// 1. balance >= 0，任何情况下不允许透支
// 2. currency 创建时确定，之后不可修改
// 3. 所有变更必须在行锁（SELECT ... FOR UPDATE）保护下进行
type Wallet struct {
	ID                   int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID             string           `gorm:"type:varchar(64);uniqueIndex;not null" json:"wallet_id"` // 业务方传入的钱包标识
	Balance              decimal.Decimal  `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`   // 可用余额
	Currency             string           `gorm:"type:char(3);not null" json:"currency"`                  // ISO 币种，创建后不可变
	Status               string           `gorm:"type:varchar(20);not null;default:ACTIVE" json:"status"`
	DailyWithdrawalLimit *decimal.Decimal `gorm:"type:decimal(20,2)" json:"daily_withdrawal_limit"`                // 单日提现限额，NULL 表示不限
	DailyWithdrawalTotal decimal.Decimal  `gorm:"type:decimal(20,2);not null;default:0" json:"daily_withdrawal_total"` // 当日累计提现
	LastWithdrawalDate   *time.Time       `gorm:"type:date" json:"last_withdrawal_date"`                           // 最近一次提现日期（UTC）
	Version              int              `gorm:"not null;default:0" json:"version"`                               // 乐观锁版本号
	CreatedAt            time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// IsActive 钱包是否可以发起普通出入账
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// WithdrawalDateStale 最近提现日期是否早于给定 UTC 日期
// 跨天后 daily_withdrawal_total 需要清零
func (w *Wallet) WithdrawalDateStale(today time.Time) bool {
	if w.LastWithdrawalDate == nil {
		return true
	}
	last := w.LastWithdrawalDate.UTC()
	return last.Year() != today.Year() || last.YearDay() != today.YearDay()
}
