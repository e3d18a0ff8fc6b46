package data

import (
	"context"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/constants"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// statsRepo 实现 biz.StatsRepo 接口
type statsRepo struct {
	data *Data
	log  *log.Helper
}

// NewStatsRepo 创建消费统计 repo
func NewStatsRepo(data *Data, logger log.Logger) biz.StatsRepo {
	return &statsRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetSpendSummary 聚合租户消费（只统计 completed 记录）
func (r *statsRepo) GetSpendSummary(ctx context.Context, tenantID string, from, to time.Time) (*biz.SpendSummary, error) {
	type totalRow struct {
		TotalCostUSD       decimal.Decimal
		TotalTokens        int64
		FreeTokens         int64
		SubscriptionTokens int64
		WalletTokens       int64
		RecordCount        int64
	}

	var total totalRow
	err := r.data.db.WithContext(ctx).Model(&model.BillingRecord{}).
		Where("tenant_id = ? AND status = ? AND created_at >= ? AND created_at < ?",
			tenantID, constants.StatusCompleted, from, to).
		Select(`COALESCE(SUM(cost_usd), 0) AS total_cost_usd,
			COALESCE(SUM(token_equivalent), 0) AS total_tokens,
			COALESCE(SUM(free_tokens), 0) AS free_tokens,
			COALESCE(SUM(subscription_tokens), 0) AS subscription_tokens,
			COALESCE(SUM(wallet_tokens), 0) AS wallet_tokens,
			COUNT(*) AS record_count`).
		Scan(&total).Error
	if err != nil {
		return nil, err
	}

	type productRow struct {
		ProductID   string
		CostUSD     decimal.Decimal
		Tokens      int64
		RecordCount int64
	}
	var products []productRow
	err = r.data.db.WithContext(ctx).Model(&model.BillingRecord{}).
		Where("tenant_id = ? AND status = ? AND created_at >= ? AND created_at < ?",
			tenantID, constants.StatusCompleted, from, to).
		Select(`product_id,
			COALESCE(SUM(cost_usd), 0) AS cost_usd,
			COALESCE(SUM(token_equivalent), 0) AS tokens,
			COUNT(*) AS record_count`).
		Group("product_id").
		Order("cost_usd DESC").
		Scan(&products).Error
	if err != nil {
		return nil, err
	}

	summary := &biz.SpendSummary{
		TenantID:           tenantID,
		From:               from,
		To:                 to,
		TotalCostUSD:       total.TotalCostUSD,
		TotalTokens:        total.TotalTokens,
		FreeTokens:         total.FreeTokens,
		SubscriptionTokens: total.SubscriptionTokens,
		WalletTokens:       total.WalletTokens,
		RecordCount:        total.RecordCount,
		ByProduct:          make([]*biz.ProductSpend, 0, len(products)),
	}
	for _, p := range products {
		summary.ByProduct = append(summary.ByProduct, &biz.ProductSpend{
			ProductID:   p.ProductID,
			CostUSD:     p.CostUSD,
			Tokens:      p.Tokens,
			RecordCount: p.RecordCount,
		})
	}
	return summary, nil
}
