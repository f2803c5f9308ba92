package repository

import (
	"context"
	"errors"
	"time"

	"walletsvc/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyRepository 幂等记录仓库
type IdempotencyRepository struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Get 查询已保存的响应，不存在返回 (nil, nil)
func (r *IdempotencyRepository) Get(ctx context.Context, tx *gorm.DB, requestID string) (*model.IdempotencyRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var record model.IdempotencyRecord
	err := tx.WithContext(ctx).Where("request_id = ?", requestID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Save 保存请求响应快照
// 与业务变更同一事务提交，请求锁保证同一 requestId 不会并发走到这里，
// ON DUPLICATE 忽略兜底锁过期后的极端竞争
func (r *IdempotencyRepository) Save(ctx context.Context, tx *gorm.DB, requestID, response string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			DoNothing: true,
		}).
		Create(&model.IdempotencyRecord{
			RequestID: requestID,
			Response:  response,
		}).Error
}

// DeleteOlderThan 删除超过保留期的幂等记录，返回删除行数
func (r *IdempotencyRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Limit(batchSize).
		Delete(&model.IdempotencyRecord{})
	return result.RowsAffected, result.Error
}
