package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"walletsvc/internal/infrastructure/cache"
	"walletsvc/internal/infrastructure/lock"
	"walletsvc/internal/model"
	"walletsvc/internal/repository"
	"walletsvc/internal/txn"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 钱包引擎
// ============================================================================
//
// 单钱包状态变更的统一入口。每个写操作：
//   请求锁(有 requestId 时) -> 幂等查重 -> 行锁 -> 变更 -> 流水 + 发件箱
//   -> 幂等记录(同事务) -> 提交 -> 写穿余额缓存
// 瞬时存储错误走共享重试策略，业务规则失败立即返回并回滚。

// DefaultCurrency 自动开户时的默认币种
const DefaultCurrency = "USD"

// BalanceResult 余额响应
type BalanceResult struct {
	WalletID string          `json:"walletId"`
	Balance  decimal.Decimal `json:"balance"`
}

// StatusResult 管理操作响应
type StatusResult struct {
	WalletID string `json:"walletId"`
	Status   string `json:"status"`
}

// LimitResult 限额操作响应
type LimitResult struct {
	WalletID             string           `json:"walletId"`
	DailyWithdrawalLimit *decimal.Decimal `json:"dailyWithdrawalLimit"`
}

// WalletService 钱包引擎
type WalletService struct {
	coordinator  *txn.Coordinator
	walletRepo   *repository.WalletRepository
	eventRepo    *repository.WalletEventRepository
	idemRepo     *repository.IdempotencyRepository
	balanceCache *cache.BalanceCache
}

func NewWalletService(
	coordinator *txn.Coordinator,
	walletRepo *repository.WalletRepository,
	eventRepo *repository.WalletEventRepository,
	idemRepo *repository.IdempotencyRepository,
	balanceCache *cache.BalanceCache,
) *WalletService {
	return &WalletService{
		coordinator:  coordinator,
		walletRepo:   walletRepo,
		eventRepo:    eventRepo,
		idemRepo:     idemRepo,
		balanceCache: balanceCache,
	}
}

// Deposit 存款，钱包不存在时自动开户
func (s *WalletService) Deposit(ctx context.Context, walletID string, amount decimal.Decimal, requestID string) (string, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}

	var newBalance decimal.Decimal
	resp, replayed, err := s.execute(ctx, requestID, "Deposit", func(tc *txn.TxContext) (interface{}, error) {
		wallet, err := s.lockOrProvision(ctx, tc, walletID, DefaultCurrency)
		if err != nil {
			return nil, err
		}

		// 冻结、已销户的钱包同样接受入账，状态只限制资金流出
		wallet.Balance = wallet.Balance.Add(amount)
		if err := s.walletRepo.Save(ctx, tc.Tx, wallet); err != nil {
			return nil, err
		}

		amt := amount
		if err := s.eventRepo.Create(ctx, tc.Tx, &model.WalletEvent{
			WalletID:  walletID,
			EventType: model.EventFundsDeposited,
			Currency:  wallet.Currency,
			Amount:    &amt,
			Metadata:  metadataJSON(requestMetadata(requestID)),
		}); err != nil {
			return nil, err
		}
		tc.PublishEvent(model.NewOutboxEvent(walletID, model.EventFundsDeposited, &amt, nil))

		newBalance = wallet.Balance
		return BalanceResult{WalletID: walletID, Balance: wallet.Balance}, nil
	})
	if err != nil {
		return "", err
	}
	if !replayed {
		s.balanceCache.Set(ctx, walletID, newBalance)
	}
	return resp, nil
}

// Withdraw 提现
func (s *WalletService) Withdraw(ctx context.Context, walletID string, amount decimal.Decimal, requestID string) (string, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}

	var newBalance decimal.Decimal
	resp, replayed, err := s.execute(ctx, requestID, "Withdraw", func(tc *txn.TxContext) (interface{}, error) {
		wallet, err := s.walletRepo.GetByWalletIDForUpdate(ctx, tc.Tx, walletID)
		if err != nil {
			if errors.Is(err, repository.ErrWalletNotFound) {
				return nil, ErrWalletNotActive
			}
			return nil, err
		}

		if err := applyWithdrawal(wallet, amount); err != nil {
			return nil, err
		}
		if err := s.walletRepo.Save(ctx, tc.Tx, wallet); err != nil {
			return nil, err
		}

		amt := amount
		if err := s.eventRepo.Create(ctx, tc.Tx, &model.WalletEvent{
			WalletID:  walletID,
			EventType: model.EventFundsWithdrawn,
			Currency:  wallet.Currency,
			Amount:    &amt,
			Metadata:  metadataJSON(requestMetadata(requestID)),
		}); err != nil {
			return nil, err
		}
		tc.PublishEvent(model.NewOutboxEvent(walletID, model.EventFundsWithdrawn, &amt, nil))

		newBalance = wallet.Balance
		return BalanceResult{WalletID: walletID, Balance: wallet.Balance}, nil
	})
	if err != nil {
		return "", err
	}
	if !replayed {
		s.balanceCache.Set(ctx, walletID, newBalance)
	}
	return resp, nil
}

// Freeze 冻结钱包，已冻结时为无副作用的幂等操作
func (s *WalletService) Freeze(ctx context.Context, walletID, requestID string) (string, error) {
	return s.adminTransition(ctx, walletID, requestID, "Freeze", func(tc *txn.TxContext, wallet *model.Wallet) (bool, string, error) {
		if wallet.Status == model.WalletStatusClosed {
			return false, "", ErrWalletClosed
		}
		if wallet.Status == model.WalletStatusFrozen {
			return false, "", nil
		}
		wallet.Status = model.WalletStatusFrozen
		return true, model.EventWalletFrozen, nil
	})
}

// Unfreeze 解冻钱包，ACTIVE 状态下为无副作用的幂等操作
func (s *WalletService) Unfreeze(ctx context.Context, walletID, requestID string) (string, error) {
	return s.adminTransition(ctx, walletID, requestID, "Unfreeze", func(tc *txn.TxContext, wallet *model.Wallet) (bool, string, error) {
		if wallet.Status == model.WalletStatusClosed {
			return false, "", ErrWalletClosed
		}
		if wallet.Status == model.WalletStatusActive {
			return false, "", nil
		}
		wallet.Status = model.WalletStatusActive
		return true, model.EventWalletUnfrozen, nil
	})
}

// Close 销户，要求余额为 0
func (s *WalletService) Close(ctx context.Context, walletID, requestID string) (string, error) {
	return s.adminTransition(ctx, walletID, requestID, "Close", func(tc *txn.TxContext, wallet *model.Wallet) (bool, string, error) {
		if wallet.Status == model.WalletStatusClosed {
			return false, "", nil
		}
		if !wallet.Balance.IsZero() {
			return false, "", ErrNonZeroBalance
		}
		wallet.Status = model.WalletStatusClosed
		return true, model.EventWalletClosed, nil
	})
}

// SetDailyWithdrawalLimit 设置或移除单日提现限额
// limit 为 nil 表示移除限额
func (s *WalletService) SetDailyWithdrawalLimit(ctx context.Context, walletID string, limit *decimal.Decimal, requestID string) (string, error) {
	if limit != nil && !limit.IsPositive() {
		return "", ErrInvalidLimit
	}

	resp, replayed, err := s.execute(ctx, requestID, "SetDailyWithdrawalLimit", func(tc *txn.TxContext) (interface{}, error) {
		wallet, err := s.walletRepo.GetByWalletIDForUpdate(ctx, tc.Tx, walletID)
		if err != nil {
			if errors.Is(err, repository.ErrWalletNotFound) {
				return nil, ErrWalletNotFound
			}
			return nil, err
		}
		if wallet.Status == model.WalletStatusClosed {
			return nil, ErrWalletClosed
		}

		eventType := model.EventDailyLimitSet
		if limit == nil {
			if wallet.DailyWithdrawalLimit == nil {
				return LimitResult{WalletID: walletID, DailyWithdrawalLimit: nil}, nil
			}
			eventType = model.EventDailyLimitRemoved
		}
		wallet.DailyWithdrawalLimit = limit
		if err := s.walletRepo.Save(ctx, tc.Tx, wallet); err != nil {
			return nil, err
		}

		meta := requestMetadata(requestID)
		if err := s.eventRepo.Create(ctx, tc.Tx, &model.WalletEvent{
			WalletID:  walletID,
			EventType: eventType,
			Currency:  wallet.Currency,
			Amount:    limit,
			Metadata:  metadataJSON(meta),
		}); err != nil {
			return nil, err
		}
		tc.PublishEvent(model.NewOutboxEvent(walletID, eventType, limit, nil))

		return LimitResult{WalletID: walletID, DailyWithdrawalLimit: limit}, nil
	})
	if err != nil {
		return "", err
	}
	if !replayed {
		s.balanceCache.Invalidate(ctx, walletID)
	}
	return resp, nil
}

// GetBalance 查询余额，读穿缓存
// 钱包不存在返回 0，不自动开户也不写缓存
func (s *WalletService) GetBalance(ctx context.Context, walletID string) (*BalanceResult, error) {
	if balance, ok := s.balanceCache.Get(ctx, walletID); ok {
		return &BalanceResult{WalletID: walletID, Balance: balance}, nil
	}

	wallet, err := s.walletRepo.GetByWalletID(ctx, walletID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return &BalanceResult{WalletID: walletID, Balance: decimal.Zero}, nil
		}
		return nil, err
	}

	s.balanceCache.Set(ctx, walletID, wallet.Balance)
	return &BalanceResult{WalletID: walletID, Balance: wallet.Balance}, nil
}

// GetHistory 查询事件流水，时间倒序
func (s *WalletService) GetHistory(ctx context.Context, walletID string, limit, offset int) ([]model.WalletEvent, error) {
	return s.eventRepo.ListByWalletID(ctx, walletID, limit, offset)
}

// ----------------------------------------------------------------------------
// 内部
// ----------------------------------------------------------------------------

// execute 幂等协议 + 请求锁 + 重试的统一执行框架
// 返回的 bool 表示是否命中历史响应（重放时不再产生任何副作用）
func (s *WalletService) execute(ctx context.Context, requestID, op string, fn func(tc *txn.TxContext) (interface{}, error)) (string, bool, error) {
	if requestID != "" {
		record, err := s.idemRepo.Get(ctx, nil, requestID)
		if err != nil {
			return "", false, err
		}
		if record != nil {
			return record.Response, true, nil
		}
	}

	opts := txn.Options{}
	if requestID != "" {
		opts.LockKey = lock.RequestLockKey(requestID)
		opts.LockOwner = requestID
	}

	var resp string
	replayed := false
	err := WithRetry(ctx, op, func() error {
		return s.coordinator.Execute(ctx, opts, func(tc *txn.TxContext) error {
			if requestID != "" {
				// 持锁后再查一次：查重与抢锁之间同一请求可能已提交
				record, err := s.idemRepo.Get(ctx, tc.Tx, requestID)
				if err != nil {
					return err
				}
				if record != nil {
					resp, replayed = record.Response, true
					return nil
				}
			}
			body, err := fn(tc)
			if err != nil {
				return err
			}
			data, err := json.Marshal(body)
			if err != nil {
				return err
			}
			resp = string(data)
			if requestID != "" {
				// 幂等记录是同一事务的最后一笔写入
				return s.idemRepo.Save(ctx, tc.Tx, requestID, resp)
			}
			return nil
		})
	})
	if err != nil {
		if requestID != "" && IsBusinessError(err) {
			// 业务失败的响应也参与重放，客户端重试拿到同样的结果
			envBody := ErrorEnvelope(err).JSON()
			if saveErr := s.idemRepo.Save(ctx, nil, requestID, envBody); saveErr != nil {
				log.Printf("[WalletService] 保存错误响应失败: requestId=%s, err=%v", requestID, saveErr)
			}
		}
		return "", false, err
	}
	return resp, replayed, nil
}

// adminTransition 管理操作（冻结/解冻/销户）的公共骨架
// mutate 返回 (是否发生变更, 事件类型, 错误)，无变更时不写流水
func (s *WalletService) adminTransition(ctx context.Context, walletID, requestID, op string, mutate func(tc *txn.TxContext, wallet *model.Wallet) (bool, string, error)) (string, error) {
	var changed bool
	resp, replayed, err := s.execute(ctx, requestID, op, func(tc *txn.TxContext) (interface{}, error) {
		wallet, err := s.walletRepo.GetByWalletIDForUpdate(ctx, tc.Tx, walletID)
		if err != nil {
			if errors.Is(err, repository.ErrWalletNotFound) {
				return nil, ErrWalletNotFound
			}
			return nil, err
		}

		mutated, eventType, err := mutate(tc, wallet)
		if err != nil {
			return nil, err
		}
		if mutated {
			if err := s.walletRepo.Save(ctx, tc.Tx, wallet); err != nil {
				return nil, err
			}
			if err := s.eventRepo.Create(ctx, tc.Tx, &model.WalletEvent{
				WalletID:  walletID,
				EventType: eventType,
				Currency:  wallet.Currency,
				Metadata:  metadataJSON(requestMetadata(requestID)),
			}); err != nil {
				return nil, err
			}
			tc.PublishEvent(model.NewOutboxEvent(walletID, eventType, nil, nil))
		}
		changed = mutated
		return StatusResult{WalletID: walletID, Status: wallet.Status}, nil
	})
	if err != nil {
		return "", err
	}
	if !replayed && changed {
		s.balanceCache.Invalidate(ctx, walletID)
	}
	return resp, nil
}

// lockOrProvision 行锁加载钱包，不存在则自动开户并记 WALLET_CREATED
// 并发开户靠唯一键 + ON DUPLICATE 忽略收敛，开户后重新加行锁
func (s *WalletService) lockOrProvision(ctx context.Context, tc *txn.TxContext, walletID, currency string) (*model.Wallet, error) {
	wallet, err := s.walletRepo.GetByWalletIDForUpdate(ctx, tc.Tx, walletID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, repository.ErrWalletNotFound) {
		return nil, err
	}

	inserted, err := s.walletRepo.CreateIfAbsent(ctx, tc.Tx, &model.Wallet{
		WalletID: walletID,
		Balance:  decimal.Zero,
		Currency: currency,
		Status:   model.WalletStatusActive,
	})
	if err != nil {
		return nil, err
	}
	if inserted {
		if err := s.eventRepo.Create(ctx, tc.Tx, &model.WalletEvent{
			WalletID:  walletID,
			EventType: model.EventWalletCreated,
			Currency:  currency,
			Metadata:  "{}",
		}); err != nil {
			return nil, err
		}
		tc.PublishEvent(model.NewOutboxEvent(walletID, model.EventWalletCreated, nil, nil))
	}
	return s.walletRepo.GetByWalletIDForUpdate(ctx, tc.Tx, walletID)
}

// applyWithdrawal 提现扣减：状态校验、跨天清零、限额校验、余额校验
// 转账扣款腿复用同一套规则
func applyWithdrawal(wallet *model.Wallet, amount decimal.Decimal) error {
	if !wallet.IsActive() {
		return ErrWalletNotActive
	}

	today := time.Now().UTC()
	if wallet.WithdrawalDateStale(today) {
		wallet.DailyWithdrawalTotal = decimal.Zero
	}

	wouldBeTotal := wallet.DailyWithdrawalTotal.Add(amount)
	if wallet.DailyWithdrawalLimit != nil && wouldBeTotal.GreaterThan(*wallet.DailyWithdrawalLimit) {
		return ErrWithdrawalLimitExceeded
	}
	if wallet.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}

	wallet.Balance = wallet.Balance.Sub(amount)
	wallet.DailyWithdrawalTotal = wouldBeTotal
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	wallet.LastWithdrawalDate = &day
	return nil
}

func requestMetadata(requestID string) map[string]interface{} {
	if requestID == "" {
		return nil
	}
	return map[string]interface{}{"requestId": requestID}
}

func metadataJSON(m map[string]interface{}) string {
	if len(m) == 0 {
		return "{}"
	}
	data, _ := json.Marshal(m)
	return string(data)
}
