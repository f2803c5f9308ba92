package model

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 事件类型常量
// ============================================================================

const (
	EventWalletCreated       = "WALLET_CREATED"
	EventFundsDeposited      = "FUNDS_DEPOSITED"
	EventFundsWithdrawn      = "FUNDS_WITHDRAWN"
	EventTransferInitiated   = "TRANSFER_INITIATED"
	EventTransferCompleted   = "TRANSFER_COMPLETED"
	EventTransferFailed      = "TRANSFER_FAILED"
	EventTransferCompensated = "TRANSFER_COMPENSATED"
	EventWalletFrozen        = "WALLET_FROZEN"
	EventWalletUnfrozen      = "WALLET_UNFROZEN"
	EventWalletClosed        = "WALLET_CLOSED"
	EventDailyLimitSet       = "DAILY_LIMIT_SET"
	EventDailyLimitRemoved   = "DAILY_LIMIT_REMOVED"
)

// ErrEventImmutable 事件流水只追加，禁止修改和删除
var ErrEventImmutable = errors.New("事件流水不允许修改或删除")

// WalletEvent 钱包事件流水表
// 记录钱包的每一次状态变更，是审计和对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 应用层、数据层钩子、数据库触发器三层共同保证
// 2. 每条流水与业务变更写在同一事务 —— 不会出现有变更无流水
// 3. 同一钱包的流水在行锁下串行写入，id 单调递增即为钱包内全序
type WalletEvent struct {
	ID        int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID  string           `gorm:"type:varchar(64);index;not null" json:"wallet_id"`
	EventType string           `gorm:"type:varchar(32);not null" json:"event_type"`
	Currency  string           `gorm:"type:char(3);not null" json:"currency"`
	Amount    *decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"` // 部分事件（冻结等）没有金额
	Metadata  string           `gorm:"type:text" json:"metadata"`        // JSON 结构化附加信息
	SagaRef   *string          `gorm:"type:varchar(80);uniqueIndex" json:"saga_ref"` // <sagaId>:<leg>，保证转账各腿流水幂等
	CreatedAt time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WalletEvent) TableName() string {
	return "wallet_events"
}

// BeforeUpdate 数据层钩子：拒绝任何更新
func (WalletEvent) BeforeUpdate(*gorm.DB) error {
	return ErrEventImmutable
}

// BeforeDelete 数据层钩子：拒绝任何删除
func (WalletEvent) BeforeDelete(*gorm.DB) error {
	return ErrEventImmutable
}

// RoutingKey 事件对应的消息路由键，如 wallet.funds_deposited
func RoutingKey(eventType string) string {
	return "wallet." + strings.ToLower(eventType)
}
