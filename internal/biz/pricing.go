package biz

import (
	"context"
	"errors"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// ErrPricingNotFound 产品没有生效的计价规则
// 对应的计费记录落为 failed，需修正目录后人工重放
var ErrPricingNotFound = errors.New("no active pricing rule for product")

// PricingRule 计价规则领域对象
type PricingRule struct {
	PricingRuleID          string
	ProductID              string
	UnitPriceUSD           decimal.Decimal // 每 token 单价
	TokenEquivalenceFactor decimal.Decimal // amount -> token 等价量换算系数
	FreeTierAllotment      int64           // 每计费周期的免费额度（目录数据）
	EffectiveFrom          time.Time
	EffectiveTo            *time.Time
}

// PricingRepo 计价规则数据层接口（定义在 biz 层）
type PricingRepo interface {
	GetActiveRule(ctx context.Context, productID string, asOf time.Time) (*PricingRule, error)
	CreatePricingRule(ctx context.Context, rule *PricingRule) error
}

// PricingCatalogUseCase 计价目录业务逻辑（请求期只读，可缓存）
type PricingCatalogUseCase struct {
	repo PricingRepo
	log  *log.Helper
}

// NewPricingCatalogUseCase 创建计价目录 UseCase
func NewPricingCatalogUseCase(repo PricingRepo, logger log.Logger) *PricingCatalogUseCase {
	return &PricingCatalogUseCase{
		repo: repo,
		log:  log.NewHelper(logger),
	}
}

// GetActiveRule 获取指定时刻生效的计价规则，不存在时返回 ErrPricingNotFound
func (uc *PricingCatalogUseCase) GetActiveRule(ctx context.Context, productID string, asOf time.Time) (*PricingRule, error) {
	rule, err := uc.repo.GetActiveRule(ctx, productID, asOf)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrPricingNotFound
	}
	return rule, nil
}

// CreateRule 创建计价规则（同产品旧规则由数据层在同事务内截断）
func (uc *PricingCatalogUseCase) CreateRule(ctx context.Context, rule *PricingRule) error {
	return uc.repo.CreatePricingRule(ctx, rule)
}
