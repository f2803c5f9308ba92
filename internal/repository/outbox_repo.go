package repository

import (
	"context"

	"walletsvc/internal/model"

	"gorm.io/gorm"
)

// OutboxScanBatchSize 中继任务单批扫描的消息数量
const OutboxScanBatchSize = 100

// OutboxRepository 事务发件箱仓库
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create 在业务事务内写入发件箱行
func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, event *model.OutboxEvent) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(event).Error
}

// GetUnpublished 按创建顺序取未投递消息
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 || limit > OutboxScanBatchSize {
		limit = OutboxScanBatchSize
	}
	var events []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("published = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MarkPublished 批量标记已投递
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("id IN ?", ids).
		Update("published", true).Error
}
