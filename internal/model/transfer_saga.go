package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 转账 Saga 状态常量
// ============================================================================

const (
	SagaStatePending     = "PENDING"
	SagaStateDebited     = "DEBITED"
	SagaStateCompleted   = "COMPLETED"
	SagaStateCompensated = "COMPENSATED"
	SagaStateFailed      = "FAILED"
)

// ValidStateTransitions 合法的状态流转
// 不在表内的流转属于编程错误，必须立刻报错而不是静默吞掉
var ValidStateTransitions = map[string][]string{
	SagaStatePending:     {SagaStateDebited, SagaStateFailed},
	SagaStateDebited:     {SagaStateCompleted, SagaStateCompensated},
	SagaStateCompensated: {SagaStateFailed},
}

func CanTransitionTo(currentState, targetState string) bool {
	allowedStates, exists := ValidStateTransitions[currentState]
	if !exists {
		return false
	}
	for _, s := range allowedStates {
		if s == targetState {
			return true
		}
	}
	return false
}

// IsTerminalState 终态不再流转
func IsTerminalState(state string) bool {
	return state == SagaStateCompleted || state == SagaStateFailed
}

// 转账各腿标识，用于流水幂等键 <sagaId>:<leg>
const (
	SagaLegDebit      = "debit"
	SagaLegCredit     = "credit"
	SagaLegCompensate = "compensate"
)

// TransferSaga 转账 Saga 表
// 跨钱包转账的持久化状态机：扣款腿和入账腿在不同事务中执行，
// 任何一步崩溃后由恢复任务根据 state 续跑或补偿
type TransferSaga struct {
	ID           string          `gorm:"type:char(36);primaryKey" json:"id"` // UUID
	FromWalletID string          `gorm:"type:varchar(64);index;not null" json:"from_wallet_id"`
	ToWalletID   string          `gorm:"type:varchar(64);index;not null" json:"to_wallet_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency     string          `gorm:"type:char(3);not null" json:"currency"`
	State        string          `gorm:"type:varchar(20);index;not null;default:PENDING" json:"state"`
	Metadata     string          `gorm:"type:text" json:"metadata"` // 补偿 / 失败原因
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (TransferSaga) TableName() string {
	return "transfer_sagas"
}

// LegRef 生成某一腿的流水幂等键
func (s *TransferSaga) LegRef(leg string) string {
	return s.ID + ":" + leg
}
