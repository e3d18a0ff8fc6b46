package data

import (
	"context"
	"fmt"

	"metering-service/internal/biz"
	"metering-service/internal/constants"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// reconcileRepo 实现 biz.ReconcileRepo 接口
type reconcileRepo struct {
	data *Data
	log  *log.Helper
}

// NewReconcileRepo 创建对账 repo
func NewReconcileRepo(data *Data, logger log.Logger) biz.ReconcileRepo {
	return &reconcileRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// ListWalletAudits 按流水聚合重算每个钱包的期望余额
// debit 取负、credit/refund 取正、adjustment 本身带符号
func (r *reconcileRepo) ListWalletAudits(ctx context.Context) ([]*biz.WalletAudit, error) {
	type auditRow struct {
		WalletID        string
		TenantID        string
		Balance         int64
		Status          string
		ComputedBalance int64
	}

	var rows []auditRow
	err := r.data.db.WithContext(ctx).
		Table("wallets AS w").
		Select(`w.wallet_id, w.tenant_id, w.balance, w.status,
			COALESCE(SUM(CASE
				WHEN t.type = ? THEN -t.amount
				ELSE t.amount
			END), 0) AS computed_balance`, constants.TransactionTypeDebit).
		Joins("LEFT JOIN transactions t ON t.wallet_id = w.wallet_id").
		Group("w.wallet_id, w.tenant_id, w.balance, w.status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*biz.WalletAudit, 0, len(rows))
	for _, row := range rows {
		out = append(out, &biz.WalletAudit{
			WalletID:        row.WalletID,
			TenantID:        row.TenantID,
			Balance:         row.Balance,
			ComputedBalance: row.ComputedBalance,
			Status:          row.Status,
		})
	}
	return out, nil
}

// CorrectWallet 单事务内把余额回写为重算值并留存修正痕迹
// 回写后余额已等于账本合计，修正流水金额必须记 0（带符号会把合计再次推离余额，
// 下一轮对账又会发现同样的漂移）；修正幅度由 balance_before/after 体现
// 条件更新带当前余额守卫，对账期间发生扣款则放弃本轮修正
func (r *reconcileRepo) CorrectWallet(ctx context.Context, audit *biz.WalletAudit) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&model.Wallet{}).
			Where("wallet_id = ? AND balance = ?", audit.WalletID, audit.Balance).
			Updates(map[string]interface{}{
				"balance": audit.ComputedBalance,
				"version": gorm.Expr("version + 1"),
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return fmt.Errorf("wallet balance changed during reconciliation: wallet_id=%s", audit.WalletID)
		}

		reference := fmt.Sprintf("reconcile:%s", uuid.New().String())
		return tx.Create(&model.Transaction{
			TransactionID: uuid.New().String(),
			WalletID:      audit.WalletID,
			Type:          constants.TransactionTypeAdjustment,
			Amount:        0,
			BalanceBefore: audit.Balance,
			BalanceAfter:  audit.ComputedBalance,
			Reference:     &reference,
		}).Error
	})
}

// FreezeWallet 冻结钱包，后续扣款直接拒绝
func (r *reconcileRepo) FreezeWallet(ctx context.Context, walletID string) error {
	return r.data.db.WithContext(ctx).Model(&model.Wallet{}).
		Where("wallet_id = ?", walletID).
		Update("status", constants.WalletStatusFrozen).Error
}
