package consumer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/model"
	"walletsvc/internal/repository"
	"walletsvc/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// ============================================================================
// 风控规则
// ============================================================================
//
// 消息总线是至少一次投递，规则执行前先用事件指纹去重：
// SETNX processed_event:<sha256> 占位 24h，占不到说明已处理过。
// 规则只针对 FUNDS_WITHDRAWN：
//   大额：单笔超过阈值
//   高频：滑动窗口（有序集合）内提现次数超限

// ProcessedKeyTTL 事件去重键保留时长
const ProcessedKeyTTL = 24 * time.Hour

// IdempotencyKey 事件指纹：sha256(walletId|eventType|timestamp|amount?)
func IdempotencyKey(p *model.EventPayload) string {
	raw := p.WalletID + "|" + p.EventType + "|" + p.Timestamp
	if p.Amount != nil {
		raw += "|" + p.Amount.String()
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ProcessedKey 去重键
func ProcessedKey(fingerprint string) string {
	return "processed_event:" + fingerprint
}

// WithdrawalWindowKey 提现滑动窗口键
func WithdrawalWindowKey(walletID string) string {
	return "withdrawals:" + walletID
}

// FraudDetector 风控规则引擎
type FraudDetector struct {
	redis          *redis.Client
	alerts         *repository.FraudAlertRepository
	threshold      decimal.Decimal
	maxWithdrawals int64
	window         time.Duration
}

func NewFraudDetector(redisClient *redis.Client, alerts *repository.FraudAlertRepository, cfg *config.BusinessConfig) *FraudDetector {
	return &FraudDetector{
		redis:          redisClient,
		alerts:         alerts,
		threshold:      decimal.NewFromFloat(cfg.FraudDetectionThreshold),
		maxWithdrawals: int64(cfg.FraudDetectionMaxWithdrawals),
		window:         time.Duration(cfg.FraudDetectionTimeWindowMinutes) * time.Minute,
	}
}

// Process 处理一条事件，返回错误表示需要延迟重试
func (d *FraudDetector) Process(ctx context.Context, payload *model.EventPayload) error {
	inserted, err := d.redis.SetNX(ctx, ProcessedKey(IdempotencyKey(payload)), "1", ProcessedKeyTTL).Result()
	if err != nil {
		return fmt.Errorf("事件去重失败: %w", err)
	}
	if !inserted {
		// 重复投递
		return nil
	}

	if payload.EventType != model.EventFundsWithdrawn {
		return nil
	}

	if err := d.checkHighValue(ctx, payload); err != nil {
		return err
	}
	return d.checkRapidWithdrawals(ctx, payload)
}

// checkHighValue 大额提现
func (d *FraudDetector) checkHighValue(ctx context.Context, payload *model.EventPayload) error {
	if payload.Amount == nil || !payload.Amount.GreaterThan(d.threshold) {
		return nil
	}
	return d.createAlert(ctx, payload.WalletID, model.AlertTypeHighValue, map[string]interface{}{
		"amount":    payload.Amount,
		"threshold": d.threshold,
	})
}

// checkRapidWithdrawals 高频提现
// 事件时间戳作为 score 和 member 写入有序集合，窗口外的成员即时清理
func (d *FraudDetector) checkRapidWithdrawals(ctx context.Context, payload *model.EventPayload) error {
	key := WithdrawalWindowKey(payload.WalletID)
	now := time.Now().UTC()

	eventTime := now
	if ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp); err == nil {
		eventTime = ts.UTC()
	}

	if err := d.redis.ZAdd(ctx, key, &redis.Z{
		Score:  float64(eventTime.UnixMilli()),
		Member: payload.Timestamp,
	}).Err(); err != nil {
		return fmt.Errorf("写入提现窗口失败: %w", err)
	}

	cutoff := strconv.FormatInt(now.Add(-d.window).UnixMilli(), 10)
	if err := d.redis.ZRemRangeByScore(ctx, key, "0", cutoff).Err(); err != nil {
		return fmt.Errorf("清理提现窗口失败: %w", err)
	}
	if err := d.redis.Expire(ctx, key, d.window).Err(); err != nil {
		return fmt.Errorf("设置窗口过期失败: %w", err)
	}

	count, err := d.redis.ZCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("读取提现窗口失败: %w", err)
	}
	if count <= d.maxWithdrawals {
		return nil
	}
	return d.createAlert(ctx, payload.WalletID, model.AlertTypeRapidWithdrawals, map[string]interface{}{
		"withdrawalCount": count,
		"timeWindow":      d.window.Minutes(),
	})
}

func (d *FraudDetector) createAlert(ctx context.Context, walletID, alertType string, details map[string]interface{}) error {
	detailBytes, err := json.Marshal(details)
	if err != nil {
		return err
	}
	alert := &model.FraudAlert{
		AlertNo:   idgen.GenerateAlertNo(),
		WalletID:  walletID,
		AlertType: alertType,
		Details:   string(detailBytes),
	}
	if err := d.alerts.Create(ctx, alert); err != nil {
		return fmt.Errorf("写入风控告警失败: %w", err)
	}
	log.Printf("[FraudDetector] 触发告警: no=%s, wallet=%s, type=%s", alert.AlertNo, walletID, alertType)
	return nil
}
