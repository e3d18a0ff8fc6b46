package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/constants"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// walletRepo 实现 biz.WalletRepo 接口
type walletRepo struct {
	data *Data
	log  *log.Helper
}

// NewWalletRepo 创建钱包 repo
func NewWalletRepo(data *Data, logger log.Logger) biz.WalletRepo {
	return &walletRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toBizWallet(m *model.Wallet) *biz.Wallet {
	if m == nil {
		return nil
	}
	return &biz.Wallet{
		WalletID:  m.WalletID,
		TenantID:  m.TenantID,
		Balance:   m.Balance,
		Version:   m.Version,
		Status:    m.Status,
		UpdatedAt: m.UpdatedAt,
	}
}

func toBizTransaction(m *model.Transaction) *biz.Transaction {
	if m == nil {
		return nil
	}
	return &biz.Transaction{
		TransactionID:   m.TransactionID,
		WalletID:        m.WalletID,
		Type:            m.Type,
		Amount:          m.Amount,
		BalanceBefore:   m.BalanceBefore,
		BalanceAfter:    m.BalanceAfter,
		BillingRecordID: m.BillingRecordID,
		Reference:       m.Reference,
		CreatedAt:       m.CreatedAt,
	}
}

// GetWallet 按租户查询钱包，不存在返回 nil
func (r *walletRepo) GetWallet(ctx context.Context, tenantID string) (*biz.Wallet, error) {
	var wallet model.Wallet
	err := r.data.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizWallet(&wallet), nil
}

// GetOrCreateWallet 获取钱包，不存在时按零余额创建
// 并发创建依赖 tenant_id 唯一索引兜底
func (r *walletRepo) GetOrCreateWallet(ctx context.Context, tenantID string) (*biz.Wallet, error) {
	wallet, err := r.GetWallet(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}

	fresh := &model.Wallet{
		WalletID: uuid.New().String(),
		TenantID: tenantID,
		Balance:  0,
		Version:  0,
		Status:   constants.WalletStatusActive,
	}
	if err := r.data.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoNothing: true,
	}).Create(fresh).Error; err != nil {
		return nil, err
	}
	return r.GetWallet(ctx, tenantID)
}

// DebitWallet 单事务扣款：条件更新（版本号 + 余额下限 + active 状态）、
// 流水写入、计费记录置 completed、发件箱事件
// 条件更新未命中说明版本号已被并发修改，返回 ErrOptimisticConflict 由上层重试
func (r *walletRepo) DebitWallet(ctx context.Context, wallet *biz.Wallet, record *biz.BillingRecord) (*biz.DebitResult, error) {
	tokens := record.WalletTokens
	balanceBefore := wallet.Balance
	balanceAfter := wallet.Balance - tokens

	var tx *model.Transaction
	err := r.data.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		update := dbTx.Model(&model.Wallet{}).
			Where("wallet_id = ? AND version = ? AND balance >= ? AND status = ?",
				wallet.WalletID, wallet.Version, tokens, constants.WalletStatusActive).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance - ?", tokens),
				"version": gorm.Expr("version + 1"),
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return biz.ErrOptimisticConflict
		}

		tx = &model.Transaction{
			TransactionID:   uuid.New().String(),
			WalletID:        wallet.WalletID,
			Type:            constants.TransactionTypeDebit,
			Amount:          tokens,
			BalanceBefore:   balanceBefore,
			BalanceAfter:    balanceAfter,
			BillingRecordID: &record.BillingRecordID,
		}
		if err := dbTx.Create(tx).Error; err != nil {
			return err
		}

		now := time.Now()
		guard := dbTx.Model(&model.BillingRecord{}).
			Where("billing_record_id = ? AND status = ?", record.BillingRecordID, constants.StatusCalculated).
			Updates(map[string]interface{}{
				"status":       constants.StatusCompleted,
				"processed_at": now,
			})
		if guard.Error != nil {
			return guard.Error
		}
		if guard.RowsAffected == 0 {
			// 记录已被并发推进到终态，回滚本次扣款
			return fmt.Errorf("billing record no longer pending debit: %s", record.BillingRecordID)
		}

		return insertOutboxEvent(dbTx, constants.EventTypeTokensDeducted, &biz.TokensDeductedEvent{
			TenantID:        record.TenantID,
			BillingRecordID: record.BillingRecordID,
			TransactionID:   tx.TransactionID,
			TokensDeducted:  tokens,
			BalanceBefore:   balanceBefore,
			BalanceAfter:    balanceAfter,
		})
	})
	if err != nil {
		return nil, err
	}

	r.refreshBalanceCache(record.TenantID, balanceAfter)
	return &biz.DebitResult{
		Transaction:   toBizTransaction(tx),
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
	}, nil
}

// MarkInsufficient 余额不足落库：记录置终态并写入事件
// WHERE status = 'calculated' 守卫保证重复调用只产生一次事件
func (r *walletRepo) MarkInsufficient(ctx context.Context, record *biz.BillingRecord, available int64) error {
	return r.data.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		now := time.Now()
		update := dbTx.Model(&model.BillingRecord{}).
			Where("billing_record_id = ? AND status = ?", record.BillingRecordID, constants.StatusCalculated).
			Updates(map[string]interface{}{
				"status":       constants.StatusInsufficientBalance,
				"fail_reason":  fmt.Sprintf("required %d tokens, available %d", record.WalletTokens, available),
				"processed_at": now,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return nil
		}

		return insertOutboxEvent(dbTx, constants.EventTypeTokensInsufficient, &biz.TokensInsufficientEvent{
			TenantID:        record.TenantID,
			BillingRecordID: record.BillingRecordID,
			TokensRequired:  record.WalletTokens,
			TokensAvailable: available,
			TokensDeficit:   record.WalletTokens - available,
		})
	})
}

// creditMaxRetries 入账乐观锁冲突重试上限
const creditMaxRetries = 3

// CreditWallet 入账（充值/退款/调整），reference 唯一索引保证幂等
// 版本冲突（通常输给并发扣款）时重读钱包有界重试，与扣款路径对齐
func (r *walletRepo) CreditWallet(ctx context.Context, tenantID, txType string, amount int64, reference string) (*biz.Transaction, error) {
	// 幂等快查：同 reference 的流水已存在则直接返回
	var existing model.Transaction
	err := r.data.db.WithContext(ctx).Where("reference = ?", reference).First(&existing).Error
	if err == nil {
		return toBizTransaction(&existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	for attempt := 0; attempt < creditMaxRetries; attempt++ {
		wallet, err := r.GetOrCreateWallet(ctx, tenantID)
		if err != nil {
			return nil, err
		}

		var tx *model.Transaction
		err = r.data.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
			update := dbTx.Model(&model.Wallet{}).
				Where("wallet_id = ? AND version = ? AND balance + ? >= 0", wallet.WalletID, wallet.Version, amount).
				Updates(map[string]interface{}{
					"balance": gorm.Expr("balance + ?", amount),
					"version": gorm.Expr("version + 1"),
				})
			if update.Error != nil {
				return update.Error
			}
			if update.RowsAffected == 0 {
				return biz.ErrOptimisticConflict
			}

			tx = &model.Transaction{
				TransactionID: uuid.New().String(),
				WalletID:      wallet.WalletID,
				Type:          txType,
				Amount:        amount,
				BalanceBefore: wallet.Balance,
				BalanceAfter:  wallet.Balance + amount,
				Reference:     &reference,
			}
			return dbTx.Create(tx).Error
		})
		if err == nil {
			r.refreshBalanceCache(tenantID, tx.BalanceAfter)
			return toBizTransaction(tx), nil
		}

		if errors.Is(err, biz.ErrOptimisticConflict) || errors.Is(err, gorm.ErrDuplicatedKey) {
			// 同 reference 并发入账已成功：返回既有流水
			var dup model.Transaction
			if derr := r.data.db.WithContext(ctx).Where("reference = ?", reference).First(&dup).Error; derr == nil {
				return toBizTransaction(&dup), nil
			}
			if errors.Is(err, biz.ErrOptimisticConflict) {
				// 输给并发扣款，重读版本号再试
				r.log.WithContext(ctx).Warnf("credit optimistic conflict, retrying: tenant_id=%s, attempt=%d", tenantID, attempt+1)
				continue
			}
		}
		return nil, err
	}
	return nil, biz.ErrOptimisticConflict
}

// ListTransactions 查询钱包流水（按时间倒序）
func (r *walletRepo) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]*biz.Transaction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var txs []*model.Transaction
	err := r.data.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*biz.Transaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toBizTransaction(tx))
	}
	return out, nil
}

// refreshBalanceCache 余额变更后异步刷新缓存（尽力而为，失败仅记日志）
func (r *walletRepo) refreshBalanceCache(tenantID string, balance int64) {
	if r.data.rdb == nil {
		return
	}
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		key := constants.RedisKeyWalletBalance + tenantID
		payload, _ := json.Marshal(map[string]int64{"balance": balance})
		if err := r.data.rdb.Set(cacheCtx, key, payload, cacheTTL).Err(); err != nil && !errors.Is(err, redis.ErrClosed) {
			r.log.Warnf("failed to refresh balance cache: tenant_id=%s, err=%v", tenantID, err)
		}
	}()
}
