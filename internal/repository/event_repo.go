package repository

import (
	"context"
	"errors"
	"strings"

	"walletsvc/internal/model"

	"gorm.io/gorm"
)

// MaxEventPageSize 单次查询最多返回的事件条数
const MaxEventPageSize = 100

// ErrDuplicateSagaRef saga 分录已存在（同一 saga 步骤重复入账）
var ErrDuplicateSagaRef = errors.New("saga 分录已存在")

// WalletEventRepository 事件流水仓库
// 只暴露插入和查询，事件一旦写入不可修改、不可删除
type WalletEventRepository struct {
	db *gorm.DB
}

func NewWalletEventRepository(db *gorm.DB) *WalletEventRepository {
	return &WalletEventRepository{db: db}
}

// Create 追加一条事件
// saga_ref 唯一索引冲突说明该步骤已入账，返回 ErrDuplicateSagaRef 由调用方幂等处理
func (r *WalletEventRepository) Create(ctx context.Context, tx *gorm.DB, event *model.WalletEvent) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(event).Error
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateSagaRef
		}
		return err
	}
	return nil
}

// ListByWalletID 按时间倒序查询钱包事件，id 倒序兜底同毫秒写入
func (r *WalletEventRepository) ListByWalletID(ctx context.Context, walletID string, limit, offset int) ([]model.WalletEvent, error) {
	if limit <= 0 || limit > MaxEventPageSize {
		limit = MaxEventPageSize
	}
	if offset < 0 {
		offset = 0
	}
	var events []model.WalletEvent
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ExistsBySagaRef 查询某个 saga 步骤是否已入账
func (r *WalletEventRepository) ExistsBySagaRef(ctx context.Context, tx *gorm.DB, sagaRef string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.WalletEvent{}).
		Where("saga_ref = ?", sagaRef).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// isDuplicateKeyError 识别唯一键冲突（MySQL 1062）
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "Error 1062") ||
		strings.Contains(err.Error(), "Duplicate entry")
}
