package repository

import (
	"context"

	"walletsvc/internal/model"

	"gorm.io/gorm"
)

// FraudAlertRepository 风控告警仓库
type FraudAlertRepository struct {
	db *gorm.DB
}

func NewFraudAlertRepository(db *gorm.DB) *FraudAlertRepository {
	return &FraudAlertRepository{db: db}
}

func (r *FraudAlertRepository) Create(ctx context.Context, alert *model.FraudAlert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

// ListByWalletID 查询某钱包的告警记录（管理端排查用）
func (r *FraudAlertRepository) ListByWalletID(ctx context.Context, walletID string, limit int) ([]model.FraudAlert, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var alerts []model.FraudAlert
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}
