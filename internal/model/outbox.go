package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OutboxEvent 事务性发件箱表
// 与业务变更写在同一事务，由后台中继任务异步投递到消息总线
//
// 【关键点】为什么不在事务里直接发消息？
// 事务提交和消息发送无法做成一个原子操作：先发后提交可能发出"幽灵消息"，
// 先提交后发可能丢消息。发件箱行随业务一起提交，中继任务保证至少一次投递
type OutboxEvent struct {
	ID          string    `gorm:"type:char(36);primaryKey" json:"id"` // UUID
	AggregateID string    `gorm:"type:varchar(64);not null" json:"aggregate_id"`
	EventType   string    `gorm:"type:varchar(32);not null" json:"event_type"`
	Payload     string    `gorm:"type:text;not null" json:"payload"`
	Published   bool      `gorm:"not null;default:false;index:idx_outbox_scan,priority:1" json:"published"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_outbox_scan,priority:2" json:"created_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// EventPayload 消息总线上的事件载荷
type EventPayload struct {
	EventType string                 `json:"eventType"`
	WalletID  string                 `json:"walletId"`
	Amount    *decimal.Decimal       `json:"amount,omitempty"`
	Metadata  map[string]interface{} `json:"metadata"`
	Timestamp string                 `json:"timestamp"` // RFC3339
}

// NewOutboxEvent 构造一条待投递的发件箱记录
func NewOutboxEvent(walletID, eventType string, amount *decimal.Decimal, metadata map[string]interface{}) *OutboxEvent {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	payload := EventPayload{
		EventType: eventType,
		WalletID:  walletID,
		Amount:    amount,
		Metadata:  metadata,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	payloadBytes, _ := json.Marshal(payload)

	return &OutboxEvent{
		ID:          uuid.NewString(),
		AggregateID: walletID,
		EventType:   eventType,
		Payload:     string(payloadBytes),
	}
}
