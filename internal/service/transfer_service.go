package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"walletsvc/internal/infrastructure/cache"
	"walletsvc/internal/infrastructure/lock"
	"walletsvc/internal/model"
	"walletsvc/internal/repository"
	"walletsvc/internal/txn"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// 转账 Saga 引擎
// ============================================================================
//
// 跨钱包转账拆成独立事务的腿：
//   建单(PENDING) -> 扣款腿(DEBITED) -> 入账腿 -> 完成(COMPLETED)
// 扣款腿失败直接终止(FAILED)；入账腿失败走补偿：退款(COMPENSATED) -> 终止(FAILED)。
// 补偿本身失败则停在 DEBITED，由恢复任务续跑。
//
// 【重要】两个钱包的行锁从不在同一事务内同时持有，天然不会死锁；
// 入账、退款流水的 saga_ref 唯一键保证崩溃重试不会重复记账。

// TransferResult 转账响应
type TransferResult struct {
	SagaID       string          `json:"sagaId"`
	State        string          `json:"state"`
	FromWalletID string          `json:"fromWalletId"`
	ToWalletID   string          `json:"toWalletId"`
	Amount       decimal.Decimal `json:"amount"`
}

// TransferService 转账 Saga 引擎
type TransferService struct {
	coordinator  *txn.Coordinator
	walletRepo   *repository.WalletRepository
	eventRepo    *repository.WalletEventRepository
	sagaRepo     *repository.TransferSagaRepository
	idemRepo     *repository.IdempotencyRepository
	balanceCache *cache.BalanceCache
	redisClient  *redis.Client
	wallets      *WalletService
}

func NewTransferService(
	coordinator *txn.Coordinator,
	walletRepo *repository.WalletRepository,
	eventRepo *repository.WalletEventRepository,
	sagaRepo *repository.TransferSagaRepository,
	idemRepo *repository.IdempotencyRepository,
	balanceCache *cache.BalanceCache,
	redisClient *redis.Client,
	wallets *WalletService,
) *TransferService {
	return &TransferService{
		coordinator:  coordinator,
		walletRepo:   walletRepo,
		eventRepo:    eventRepo,
		sagaRepo:     sagaRepo,
		idemRepo:     idemRepo,
		balanceCache: balanceCache,
		redisClient:  redisClient,
		wallets:      wallets,
	}
}

// ExecuteTransfer 执行转账
// requestId 非空时整个 saga 由请求锁保护，重复请求重放历史响应
func (s *TransferService) ExecuteTransfer(ctx context.Context, from, to string, amount decimal.Decimal, requestID string) (string, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	if from == to {
		return "", ErrInvalidTransfer
	}

	if requestID != "" {
		record, err := s.idemRepo.Get(ctx, nil, requestID)
		if err != nil {
			return "", err
		}
		if record != nil {
			return record.Response, nil
		}

		reqLock := lock.NewRequestLock(s.redisClient, requestID, requestID)
		acquired, err := reqLock.TryLock(ctx)
		if err != nil {
			return "", err
		}
		if !acquired {
			return "", txn.ErrConcurrentRequest
		}
		defer func() {
			if err := reqLock.Unlock(context.Background()); err != nil {
				log.Printf("[Transfer] 释放请求锁失败: requestId=%s, err=%v", requestID, err)
			}
		}()

		// 持锁后再查一次：查重与抢锁之间同一请求可能已完成
		record, err = s.idemRepo.Get(ctx, nil, requestID)
		if err != nil {
			return "", err
		}
		if record != nil {
			return record.Response, nil
		}
	}

	resp, err := s.runTransfer(ctx, from, to, amount, requestID)
	if err != nil {
		if requestID != "" && IsBusinessError(err) {
			envBody := ErrorEnvelope(err).JSON()
			if saveErr := s.idemRepo.Save(ctx, nil, requestID, envBody); saveErr != nil {
				log.Printf("[Transfer] 保存错误响应失败: requestId=%s, err=%v", requestID, saveErr)
			}
		}
		return "", err
	}
	return resp, nil
}

func (s *TransferService) runTransfer(ctx context.Context, from, to string, amount decimal.Decimal, requestID string) (string, error) {
	// 前置校验：转出方必须存在，转入方不存在则按转出方币种自动开户
	source, err := s.walletRepo.GetByWalletID(ctx, from)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return "", ErrWalletNotFound
		}
		return "", err
	}

	dest, err := s.walletRepo.GetByWalletID(ctx, to)
	if err != nil {
		if !errors.Is(err, repository.ErrWalletNotFound) {
			return "", err
		}
		err = WithRetry(ctx, "TransferProvision", func() error {
			return s.coordinator.Execute(ctx, txn.Options{}, func(tc *txn.TxContext) error {
				_, err := s.wallets.lockOrProvision(ctx, tc, to, source.Currency)
				return err
			})
		})
		if err != nil {
			return "", err
		}
	} else if dest.Currency != source.Currency {
		return "", ErrCurrencyMismatch
	}

	saga := &model.TransferSaga{
		ID:           uuid.NewString(),
		FromWalletID: from,
		ToWalletID:   to,
		Amount:       amount,
		Currency:     source.Currency,
		State:        model.SagaStatePending,
		Metadata:     metadataJSON(requestMetadata(requestID)),
	}
	if err := s.createSaga(ctx, saga); err != nil {
		return "", err
	}

	if err := s.debitLeg(ctx, saga); err != nil {
		// 扣款未成功，钱没动，直接终止
		s.terminateFailed(ctx, saga, model.SagaStatePending, err.Error())
		return "", err
	}

	if err := s.creditLeg(ctx, saga); err != nil {
		s.compensateAndFail(ctx, saga, err.Error())
		return "", err
	}

	resp, err := s.completeSaga(ctx, saga, requestID)
	if err != nil {
		// 完成迁移失败时 saga 停在 DEBITED，恢复任务会续跑
		return "", err
	}

	s.balanceCache.Invalidate(ctx, from, to)
	return resp, nil
}

// RecoverSaga 恢复卡在 DEBITED 的转账：先尝试续跑入账，不行再补偿
func (s *TransferService) RecoverSaga(ctx context.Context, sagaID string) error {
	saga, err := s.sagaRepo.GetByID(ctx, nil, sagaID)
	if err != nil {
		return err
	}
	if saga.State != model.SagaStateDebited {
		return nil
	}

	if err := s.creditLeg(ctx, saga); err != nil {
		log.Printf("[SagaRecovery] 入账续跑失败，转入补偿: saga=%s, err=%v", sagaID, err)
		s.compensateAndFail(ctx, saga, "Recovery failed: "+err.Error())
		return nil
	}
	if _, err := s.completeSaga(ctx, saga, ""); err != nil {
		return err
	}
	s.balanceCache.Invalidate(ctx, saga.FromWalletID, saga.ToWalletID)
	log.Printf("[SagaRecovery] 转账续跑完成: saga=%s", sagaID)
	return nil
}

// ----------------------------------------------------------------------------
// 各腿
// ----------------------------------------------------------------------------

// createSaga 建单：PENDING 记录 + TRANSFER_INITIATED 流水与发件箱行
func (s *TransferService) createSaga(ctx context.Context, saga *model.TransferSaga) error {
	return WithRetry(ctx, "TransferInitiate", func() error {
		return s.coordinator.Execute(ctx, txn.Options{}, func(tc *txn.TxContext) error {
			if err := s.sagaRepo.Create(ctx, tc.Tx, saga); err != nil {
				return err
			}
			amt := saga.Amount
			if err := s.eventRepo.Create(ctx, tc.Tx, &model.WalletEvent{
				WalletID:  saga.FromWalletID,
				EventType: model.EventTransferInitiated,
				Currency:  saga.Currency,
				Amount:    &amt,
				Metadata:  sagaMetadata(saga.ID, map[string]interface{}{"toWalletId": saga.ToWalletID}),
			}); err != nil {
				return err
			}
			tc.PublishEvent(model.NewOutboxEvent(saga.FromWalletID, model.EventTransferInitiated, &amt,
				map[string]interface{}{"sagaId": saga.ID, "toWalletId": saga.ToWalletID}))
			return nil
		})
	})
}

// debitLeg 扣款腿：行锁转出方，提现语义扣减，PENDING -> DEBITED
func (s *TransferService) debitLeg(ctx context.Context, saga *model.TransferSaga) error {
	return WithRetry(ctx, "TransferDebit", func() error {
		return s.coordinator.Execute(ctx, txn.Options{}, func(tc *txn.TxContext) error {
			current, err := s.sagaRepo.GetByID(ctx, tc.Tx, saga.ID)
			if err != nil {
				return err
			}
			if current.State != model.SagaStatePending {
				// 上一次尝试已提交
				return nil
			}

			wallet, err := s.walletRepo.GetByWalletIDForUpdate(ctx, tc.Tx, saga.FromWalletID)
			if err != nil {
				if errors.Is(err, repository.ErrWalletNotFound) {
					return ErrWalletNotActive
				}
				return err
			}
			if err := applyWithdrawal(wallet, saga.Amount); err != nil {
				return err
			}
			if err := s.walletRepo.Save(ctx, tc.Tx, wallet); err != nil {
				return err
			}

			amt := saga.Amount
			legRef := saga.LegRef(model.SagaLegDebit)
			err = s.eventRepo.Create(ctx, tc.Tx, &model.WalletEvent{
				WalletID:  saga.FromWalletID,
				EventType: model.EventFundsWithdrawn,
				Currency:  saga.Currency,
				Amount:    &amt,
				SagaRef:   &legRef,
				Metadata:  sagaMetadata(saga.ID, map[string]interface{}{"transferTo": saga.ToWalletID}),
			})
			if err != nil && !errors.Is(err, repository.ErrDuplicateSagaRef) {
				return err
			}

			if err := s.sagaRepo.UpdateState(ctx, tc.Tx, saga.ID, model.SagaStatePending, model.SagaStateDebited); err != nil {
				return err
			}
			tc.PublishEvent(model.NewOutboxEvent(saga.FromWalletID, model.EventFundsWithdrawn, &amt,
				map[string]interface{}{"sagaId": saga.ID, "transferTo": saga.ToWalletID}))
			return nil
		})
	})
}

// creditLeg 入账腿：行锁转入方，余额增加
// 先写 saga_ref 流水占位，唯一键冲突说明已入过账，跳过加钱
func (s *TransferService) creditLeg(ctx context.Context, saga *model.TransferSaga) error {
	return WithRetry(ctx, "TransferCredit", func() error {
		return s.coordinator.Execute(ctx, txn.Options{}, func(tc *txn.TxContext) error {
			current, err := s.sagaRepo.GetByID(ctx, tc.Tx, saga.ID)
			if err != nil {
				return err
			}
			if current.State != model.SagaStateDebited {
				return nil
			}

			dest, err := s.walletRepo.GetByWalletIDForUpdate(ctx, tc.Tx, saga.ToWalletID)
			if err != nil {
				if errors.Is(err, repository.ErrWalletNotFound) {
					return ErrWalletNotActive
				}
				return err
			}
			if !dest.IsActive() {
				return ErrWalletNotActive
			}

			amt := saga.Amount
			legRef := saga.LegRef(model.SagaLegCredit)
			err = s.eventRepo.Create(ctx, tc.Tx, &model.WalletEvent{
				WalletID:  saga.ToWalletID,
				EventType: model.EventFundsDeposited,
				Currency:  saga.Currency,
				Amount:    &amt,
				SagaRef:   &legRef,
				Metadata:  sagaMetadata(saga.ID, map[string]interface{}{"transferFrom": saga.FromWalletID}),
			})
			if errors.Is(err, repository.ErrDuplicateSagaRef) {
				return nil
			}
			if err != nil {
				return err
			}

			dest.Balance = dest.Balance.Add(amt)
			if err := s.walletRepo.Save(ctx, tc.Tx, dest); err != nil {
				return err
			}
			tc.PublishEvent(model.NewOutboxEvent(saga.ToWalletID, model.EventFundsDeposited, &amt,
				map[string]interface{}{"sagaId": saga.ID, "transferFrom": saga.FromWalletID}))
			return nil
		})
	})
}

// completeSaga DEBITED -> COMPLETED，幂等响应随完成事务一并落库
func (s *TransferService) completeSaga(ctx context.Context, saga *model.TransferSaga, requestID string) (string, error) {
	result := TransferResult{
		SagaID:       saga.ID,
		State:        model.SagaStateCompleted,
		FromWalletID: saga.FromWalletID,
		ToWalletID:   saga.ToWalletID,
		Amount:       saga.Amount,
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	resp := string(data)

	err = WithRetry(ctx, "TransferComplete", func() error {
		return s.coordinator.Execute(ctx, txn.Options{}, func(tc *txn.TxContext) error {
			current, err := s.sagaRepo.GetByID(ctx, tc.Tx, saga.ID)
			if err != nil {
				return err
			}
			if current.State == model.SagaStateCompleted {
				return nil
			}
			if current.State != model.SagaStateDebited {
				return fmt.Errorf("saga %s 状态异常，无法完成: %s", saga.ID, current.State)
			}

			if err := s.sagaRepo.UpdateState(ctx, tc.Tx, saga.ID, model.SagaStateDebited, model.SagaStateCompleted); err != nil {
				return err
			}
			amt := saga.Amount
			if err := s.eventRepo.Create(ctx, tc.Tx, &model.WalletEvent{
				WalletID:  saga.FromWalletID,
				EventType: model.EventTransferCompleted,
				Currency:  saga.Currency,
				Amount:    &amt,
				Metadata:  sagaMetadata(saga.ID, map[string]interface{}{"toWalletId": saga.ToWalletID}),
			}); err != nil {
				return err
			}
			tc.PublishEvent(model.NewOutboxEvent(saga.FromWalletID, model.EventTransferCompleted, &amt,
				map[string]interface{}{"sagaId": saga.ID, "toWalletId": saga.ToWalletID}))

			if requestID != "" {
				return s.idemRepo.Save(ctx, tc.Tx, requestID, resp)
			}
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return resp, nil
}

// compensateAndFail 补偿退款并终止 saga
// 补偿失败时 saga 留在 DEBITED，恢复任务下个周期重试
func (s *TransferService) compensateAndFail(ctx context.Context, saga *model.TransferSaga, reason string) {
	if err := s.compensateLeg(ctx, saga, reason); err != nil {
		log.Printf("[Transfer] 补偿失败，留待恢复任务: saga=%s, err=%v", saga.ID, err)
		return
	}
	s.terminateFailed(ctx, saga, model.SagaStateCompensated, reason)
	s.balanceCache.Invalidate(ctx, saga.FromWalletID, saga.ToWalletID)
}

// compensateLeg 退款腿：行锁转出方，余额加回
// 冻结的钱包照样退款（补偿是特权路径），已销户则不退款直接走终止
func (s *TransferService) compensateLeg(ctx context.Context, saga *model.TransferSaga, reason string) error {
	return WithRetry(ctx, "TransferCompensate", func() error {
		return s.coordinator.Execute(ctx, txn.Options{}, func(tc *txn.TxContext) error {
			current, err := s.sagaRepo.GetByID(ctx, tc.Tx, saga.ID)
			if err != nil {
				return err
			}
			if current.State != model.SagaStateDebited {
				return nil
			}

			wallet, err := s.walletRepo.GetByWalletIDForUpdate(ctx, tc.Tx, saga.FromWalletID)
			if err != nil {
				return err
			}

			if wallet.Status != model.WalletStatusClosed {
				amt := saga.Amount
				legRef := saga.LegRef(model.SagaLegCompensate)
				err = s.eventRepo.Create(ctx, tc.Tx, &model.WalletEvent{
					WalletID:  saga.FromWalletID,
					EventType: model.EventTransferCompensated,
					Currency:  saga.Currency,
					Amount:    &amt,
					SagaRef:   &legRef,
					Metadata:  sagaMetadata(saga.ID, map[string]interface{}{"reason": reason}),
				})
				if err == nil {
					wallet.Balance = wallet.Balance.Add(amt)
					if err := s.walletRepo.Save(ctx, tc.Tx, wallet); err != nil {
						return err
					}
					tc.PublishEvent(model.NewOutboxEvent(saga.FromWalletID, model.EventTransferCompensated, &amt,
						map[string]interface{}{"sagaId": saga.ID, "reason": reason}))
				} else if !errors.Is(err, repository.ErrDuplicateSagaRef) {
					return err
				}
			}

			return s.sagaRepo.UpdateStateWithReason(ctx, tc.Tx, saga.ID,
				model.SagaStateDebited, model.SagaStateCompensated, reason)
		})
	})
}

// terminateFailed 终止 saga（fromState -> FAILED）并发出 TRANSFER_FAILED
func (s *TransferService) terminateFailed(ctx context.Context, saga *model.TransferSaga, fromState, reason string) {
	err := WithRetry(ctx, "TransferFail", func() error {
		return s.coordinator.Execute(ctx, txn.Options{}, func(tc *txn.TxContext) error {
			current, err := s.sagaRepo.GetByID(ctx, tc.Tx, saga.ID)
			if err != nil {
				return err
			}
			if current.State == model.SagaStateFailed {
				return nil
			}
			if current.State != fromState {
				return nil
			}

			if err := s.sagaRepo.UpdateStateWithReason(ctx, tc.Tx, saga.ID,
				fromState, model.SagaStateFailed, reason); err != nil {
				return err
			}
			if err := s.eventRepo.Create(ctx, tc.Tx, &model.WalletEvent{
				WalletID:  saga.FromWalletID,
				EventType: model.EventTransferFailed,
				Currency:  saga.Currency,
				Metadata:  sagaMetadata(saga.ID, map[string]interface{}{"reason": reason}),
			}); err != nil {
				return err
			}
			tc.PublishEvent(model.NewOutboxEvent(saga.FromWalletID, model.EventTransferFailed, nil,
				map[string]interface{}{"sagaId": saga.ID, "reason": reason}))
			return nil
		})
	})
	if err != nil {
		log.Printf("[Transfer] 终止 saga 失败: saga=%s, err=%v", saga.ID, err)
	}
}

func sagaMetadata(sagaID string, extra map[string]interface{}) string {
	m := map[string]interface{}{"sagaId": sagaID}
	for k, v := range extra {
		m[k] = v
	}
	return metadataJSON(m)
}
