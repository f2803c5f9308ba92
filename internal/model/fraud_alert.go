package model

import (
	"time"
)

// ============================================================================
// 风控告警类型常量
// ============================================================================

const (
	AlertTypeHighValue        = "HIGH_VALUE_TRANSACTION"
	AlertTypeRapidWithdrawals = "RAPID_WITHDRAWALS"
)

// FraudAlert 风控告警表（只追加）
type FraudAlert struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AlertNo   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"alert_no"` // 告警编号，全局唯一
	WalletID  string    `gorm:"type:varchar(64);index;not null" json:"wallet_id"`
	AlertType string    `gorm:"type:varchar(32);not null" json:"alert_type"`
	Details   string    `gorm:"type:text" json:"details"` // JSON 结构化详情
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (FraudAlert) TableName() string {
	return "fraud_alerts"
}
