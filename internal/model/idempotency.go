package model

import (
	"time"
)

// IdempotencyRecord 幂等记录表
// 以客户端传入的 request_id 为唯一键，保存首次执行时返回的响应
//
// 【关键点】记录与业务变更写在同一事务：
// 事务提交 = 变更生效 + 响应落库，重复请求只会拿到已存的响应，
// 即使首次响应本身是错误也原样返回，避免客户端重试后重复产生副作用
type IdempotencyRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	Response  string    `gorm:"type:text;not null" json:"response"` // 序列化后的响应
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency_keys"
}
