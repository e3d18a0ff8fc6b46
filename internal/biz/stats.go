package biz

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// SpendSummary 租户消费汇总
type SpendSummary struct {
	TenantID           string
	From               time.Time
	To                 time.Time
	TotalCostUSD       decimal.Decimal
	TotalTokens        int64
	FreeTokens         int64
	SubscriptionTokens int64
	WalletTokens       int64
	RecordCount        int64
	ByProduct          []*ProductSpend
}

// ProductSpend 按产品维度的消费汇总
type ProductSpend struct {
	ProductID   string
	CostUSD     decimal.Decimal
	Tokens      int64
	RecordCount int64
}

// StatsRepo 消费统计数据层接口（定义在 biz 层）
type StatsRepo interface {
	GetSpendSummary(ctx context.Context, tenantID string, from, to time.Time) (*SpendSummary, error)
}

// StatsUseCase 消费统计业务逻辑
type StatsUseCase struct {
	repo StatsRepo
	log  *log.Helper
}

// NewStatsUseCase 创建消费统计 UseCase
func NewStatsUseCase(repo StatsRepo, logger log.Logger) *StatsUseCase {
	return &StatsUseCase{
		repo: repo,
		log:  log.NewHelper(logger),
	}
}

// GetSpendSummary 查询租户在时间区间内的消费汇总（只统计终态为 completed 的记录）
func (uc *StatsUseCase) GetSpendSummary(ctx context.Context, tenantID string, from, to time.Time) (*SpendSummary, error) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.AddDate(0, -1, 0)
	}
	return uc.repo.GetSpendSummary(ctx, tenantID, from, to)
}
