package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metering-service/internal/constants"
	"metering-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

var (
	// ErrInsufficientBalance 钱包余额不足以覆盖扣款
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	// ErrOptimisticConflict 版本号冲突，余额在读取与更新之间被并发修改
	ErrOptimisticConflict = errors.New("wallet version conflict")
	// ErrWalletFrozen 钱包已被对账任务冻结
	ErrWalletFrozen = errors.New("wallet frozen")
)

// Wallet 租户钱包领域对象
type Wallet struct {
	WalletID  string
	TenantID  string
	Balance   int64
	Version   int64
	Status    string
	UpdatedAt time.Time
}

// Frozen 钱包是否处于冻结态
func (w *Wallet) Frozen() bool {
	return w.Status == constants.WalletStatusFrozen
}

// Transaction 钱包流水领域对象
type Transaction struct {
	TransactionID   string
	WalletID        string
	Type            string
	Amount          int64
	BalanceBefore   int64
	BalanceAfter    int64
	BillingRecordID *string
	Reference       *string
	CreatedAt       time.Time
}

// DebitResult 扣款落库结果
type DebitResult struct {
	Transaction   *Transaction
	BalanceBefore int64
	BalanceAfter  int64
}

// WalletRepo 钱包数据层接口（定义在 biz 层）
type WalletRepo interface {
	GetWallet(ctx context.Context, tenantID string) (*Wallet, error)
	GetOrCreateWallet(ctx context.Context, tenantID string) (*Wallet, error)
	// DebitWallet 单事务内完成条件更新（乐观锁 + 余额下限）、流水写入、
	// 计费记录置 completed、发件箱事件写入；版本不匹配返回 ErrOptimisticConflict
	DebitWallet(ctx context.Context, wallet *Wallet, record *BillingRecord) (*DebitResult, error)
	// MarkInsufficient 将记录置为 insufficient_balance 并写入余额不足事件
	// 状态守卫保证重复调用只产生一次事件
	MarkInsufficient(ctx context.Context, record *BillingRecord, available int64) error
	// CreditWallet 充值/退款/调整入账，reference 作为幂等引用
	CreditWallet(ctx context.Context, tenantID, txType string, amount int64, reference string) (*Transaction, error)
	ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]*Transaction, error)
}

// WalletUseCase 钱包业务逻辑
type WalletUseCase struct {
	repo       WalletRepo
	recordRepo BillingRecordRepo
	cfg        *BillingConfig
	log        *log.Helper
}

// NewWalletUseCase 创建钱包 UseCase
func NewWalletUseCase(repo WalletRepo, recordRepo BillingRecordRepo, cfg *BillingConfig, logger log.Logger) *WalletUseCase {
	return &WalletUseCase{
		repo:       repo,
		recordRepo: recordRepo,
		cfg:        cfg,
		log:        log.NewHelper(logger),
	}
}

// ApplyDebit 对 calculated 状态的计费记录执行钱包扣款
// 乐观锁冲突时重读重试，最多 cfg.DebitMaxRetries 次；终态记录直接跳过
func (uc *WalletUseCase) ApplyDebit(ctx context.Context, record *BillingRecord) error {
	startTime := time.Now()
	m := metrics.GetMetrics()

	if record.Terminal() {
		return nil
	}
	if !record.NeedsDebit() {
		if err := uc.recordRepo.CompleteWithoutDebit(ctx, record.BillingRecordID); err != nil {
			return err
		}
		record.Status = constants.StatusCompleted
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < uc.cfg.DebitMaxRetries; attempt++ {
		if attempt > 0 && m != nil {
			m.DebitRetryTotal.Inc()
		}

		wallet, err := uc.repo.GetOrCreateWallet(ctx, record.TenantID)
		if err != nil {
			return err
		}
		if wallet.Frozen() {
			uc.log.WithContext(ctx).Warnf("debit rejected, wallet frozen: tenant_id=%s, billing_record_id=%s",
				record.TenantID, record.BillingRecordID)
			if err := uc.recordRepo.MarkFailed(ctx, record.BillingRecordID, "wallet frozen"); err != nil {
				return err
			}
			record.Status = constants.StatusFailed
			return ErrWalletFrozen
		}

		if wallet.Balance < record.WalletTokens {
			if err := uc.repo.MarkInsufficient(ctx, record, wallet.Balance); err != nil {
				return err
			}
			record.Status = constants.StatusInsufficientBalance
			if m != nil {
				m.DebitTotal.WithLabelValues("insufficient").Inc()
			}
			uc.log.WithContext(ctx).Warnf("insufficient balance: tenant_id=%s, required=%d, available=%d",
				record.TenantID, record.WalletTokens, wallet.Balance)
			return ErrInsufficientBalance
		}

		result, err := uc.repo.DebitWallet(ctx, wallet, record)
		if err == nil {
			record.Status = constants.StatusCompleted
			if m != nil {
				m.DebitTotal.WithLabelValues("success").Inc()
				m.DebitDuration.Observe(time.Since(startTime).Seconds())
				if result.BalanceAfter < uc.cfg.BalanceLowTokens {
					m.BalanceLowAlert.Set(1)
				}
			}
			uc.log.WithContext(ctx).Infof("wallet debited: tenant_id=%s, tokens=%d, balance=%d->%d",
				record.TenantID, record.WalletTokens, result.BalanceBefore, result.BalanceAfter)
			return nil
		}
		if !errors.Is(err, ErrOptimisticConflict) {
			if m != nil {
				m.DebitTotal.WithLabelValues("error").Inc()
			}
			return err
		}
		lastErr = err
		uc.log.WithContext(ctx).Infof("debit version conflict, retrying: tenant_id=%s, attempt=%d",
			record.TenantID, attempt+1)
	}

	if err := uc.recordRepo.MarkFailed(ctx, record.BillingRecordID, "debit retries exhausted"); err != nil {
		return err
	}
	record.Status = constants.StatusFailed
	if m != nil {
		m.DebitTotal.WithLabelValues("conflict_exhausted").Inc()
	}
	return fmt.Errorf("debit retries exhausted: %w", lastErr)
}

// ApplyCredit 钱包入账（充值/退款/调整），reference 保证幂等
func (uc *WalletUseCase) ApplyCredit(ctx context.Context, tenantID, txType string, amount int64, reference string) (*Transaction, error) {
	m := metrics.GetMetrics()

	if txType != constants.TransactionTypeCredit &&
		txType != constants.TransactionTypeRefund &&
		txType != constants.TransactionTypeAdjustment {
		return nil, fmt.Errorf("unsupported transaction type: %s", txType)
	}
	if txType != constants.TransactionTypeAdjustment && amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive: %d", amount)
	}
	if reference == "" {
		return nil, fmt.Errorf("credit reference is required")
	}

	tx, err := uc.repo.CreditWallet(ctx, tenantID, txType, amount, reference)
	if err != nil {
		if m != nil {
			m.CreditTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if m != nil {
		m.CreditTotal.WithLabelValues("success").Inc()
	}
	uc.log.WithContext(ctx).Infof("wallet credited: tenant_id=%s, type=%s, amount=%d, balance=%d",
		tenantID, txType, amount, tx.BalanceAfter)
	return tx, nil
}

// GetWallet 查询租户钱包，不存在时按零余额创建
func (uc *WalletUseCase) GetWallet(ctx context.Context, tenantID string) (*Wallet, error) {
	return uc.repo.GetOrCreateWallet(ctx, tenantID)
}

// ListTransactions 查询钱包流水
func (uc *WalletUseCase) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]*Transaction, error) {
	return uc.repo.ListTransactions(ctx, walletID, limit, offset)
}
