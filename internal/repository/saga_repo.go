package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"walletsvc/internal/model"

	"gorm.io/gorm"
)

var (
	ErrSagaNotFound = errors.New("转账事务不存在")
	// ErrIllegalSagaTransition 非法状态迁移，说明代码存在状态机 bug
	ErrIllegalSagaTransition = errors.New("非法的 saga 状态迁移")
	// ErrSagaStateConflict 条件更新未命中，状态已被并发修改
	ErrSagaStateConflict = errors.New("saga 状态已变更")
)

// StuckSagaBatchSize 恢复任务单批处理的卡单数量
const StuckSagaBatchSize = 10

// TransferSagaRepository 转账 saga 仓库
type TransferSagaRepository struct {
	db *gorm.DB
}

func NewTransferSagaRepository(db *gorm.DB) *TransferSagaRepository {
	return &TransferSagaRepository{db: db}
}

func (r *TransferSagaRepository) Create(ctx context.Context, tx *gorm.DB, saga *model.TransferSaga) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(saga).Error
}

func (r *TransferSagaRepository) GetByID(ctx context.Context, tx *gorm.DB, sagaID string) (*model.TransferSaga, error) {
	if tx == nil {
		tx = r.db
	}
	var saga model.TransferSaga
	err := tx.WithContext(ctx).Where("id = ?", sagaID).First(&saga).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSagaNotFound
		}
		return nil, err
	}
	return &saga, nil
}

// UpdateState 条件更新 saga 状态（WHERE state = from）
// 先按状态机校验迁移合法性，再靠条件更新挡住并发竞争
func (r *TransferSagaRepository) UpdateState(ctx context.Context, tx *gorm.DB, sagaID, from, to string) error {
	return r.updateState(ctx, tx, sagaID, from, to, nil)
}

// UpdateStateWithReason 状态迁移并记录原因（补偿 / 失败路径）
func (r *TransferSagaRepository) UpdateStateWithReason(ctx context.Context, tx *gorm.DB, sagaID, from, to, reason string) error {
	meta, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	metaStr := string(meta)
	return r.updateState(ctx, tx, sagaID, from, to, &metaStr)
}

func (r *TransferSagaRepository) updateState(ctx context.Context, tx *gorm.DB, sagaID, from, to string, reason *string) error {
	if !model.CanTransitionTo(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalSagaTransition, from, to)
	}
	if tx == nil {
		tx = r.db
	}
	updates := map[string]interface{}{
		"state":      to,
		"updated_at": time.Now().UTC(),
	}
	if reason != nil {
		updates["metadata"] = *reason
	}
	result := tx.WithContext(ctx).
		Model(&model.TransferSaga{}).
		Where("id = ? AND state = ?", sagaID, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSagaStateConflict
	}
	return nil
}

// GetStuckSagas 查询卡在 DEBITED 超过阈值的 saga
// 扣款成功但未走到完成的事务由恢复任务续跑入账，入账失败再补偿
func (r *TransferSagaRepository) GetStuckSagas(ctx context.Context, threshold time.Duration) ([]model.TransferSaga, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	var sagas []model.TransferSaga
	err := r.db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", model.SagaStateDebited, cutoff).
		Order("updated_at ASC").
		Limit(StuckSagaBatchSize).
		Find(&sagas).Error
	if err != nil {
		return nil, err
	}
	return sagas, nil
}
