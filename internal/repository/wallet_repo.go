package repository

import (
	"context"
	"errors"
	"time"

	"walletsvc/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound = errors.New("钱包不存在")
	ErrOptimisticLock = errors.New("乐观锁冲突，请重试")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByWalletID(ctx context.Context, walletID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).Where("wallet_id = ?", walletID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetByWalletIDForUpdate 行锁读取（SELECT ... FOR UPDATE）
// 所有余额变更必须先拿到行锁，同一钱包的操作由此串行化
func (r *WalletRepository) GetByWalletIDForUpdate(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("wallet_id = ?", walletID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// CreateIfAbsent 不存在则插入（ON DUPLICATE KEY 忽略）
// 返回是否真的插入了新行；并发自动开户时只有一个请求插入成功
func (r *WalletRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet_id"}},
			DoNothing: true,
		}).
		Create(wallet)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Save 带乐观锁校验的整行更新
// 持有行锁时 version 不应该冲突，冲突说明锁纪律被破坏，按可重试错误处理
func (r *WalletRepository) Save(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) error {
	version := wallet.Version
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("wallet_id = ? AND version = ?", wallet.WalletID, version).
		Updates(map[string]interface{}{
			"balance":                wallet.Balance,
			"status":                 wallet.Status,
			"daily_withdrawal_limit": wallet.DailyWithdrawalLimit,
			"daily_withdrawal_total": wallet.DailyWithdrawalTotal,
			"last_withdrawal_date":   wallet.LastWithdrawalDate,
			"version":                gorm.Expr("version + 1"),
			"updated_at":             time.Now().UTC(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	wallet.Version = version + 1
	return nil
}
