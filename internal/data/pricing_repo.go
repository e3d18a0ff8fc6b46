package data

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/constants"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// pricingRepo 实现 biz.PricingRepo 接口
// 当前生效规则走 Redis 读缓存，规则变更时删除缓存
type pricingRepo struct {
	data *Data
	log  *log.Helper
}

// NewPricingRepo 创建计价规则 repo
func NewPricingRepo(data *Data, logger log.Logger) biz.PricingRepo {
	return &pricingRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toBizPricingRule(m *model.PricingRule) *biz.PricingRule {
	if m == nil {
		return nil
	}
	return &biz.PricingRule{
		PricingRuleID:          m.PricingRuleID,
		ProductID:              m.ProductID,
		UnitPriceUSD:           m.UnitPriceUSD,
		TokenEquivalenceFactor: m.TokenEquivalenceFactor,
		FreeTierAllotment:      m.FreeTierAllotment,
		EffectiveFrom:          m.EffectiveFrom,
		EffectiveTo:            m.EffectiveTo,
	}
}

// GetActiveRule 查询指定时刻生效的规则，不存在返回 nil
// 只有"当前生效"的查询走缓存，历史时刻查询直连数据库
func (r *pricingRepo) GetActiveRule(ctx context.Context, productID string, asOf time.Time) (*biz.PricingRule, error) {
	cacheable := time.Since(asOf) < time.Hour
	if cacheable {
		if rule := r.getRuleFromCache(ctx, productID); rule != nil {
			return rule, nil
		}
	}

	var rec model.PricingRule
	err := r.data.db.WithContext(ctx).
		Where("product_id = ? AND effective_from <= ? AND (effective_to IS NULL OR effective_to > ?)",
			productID, asOf, asOf).
		Order("effective_from DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	rule := toBizPricingRule(&rec)
	if cacheable {
		r.setRuleCache(productID, rule)
	}
	return rule, nil
}

// CreatePricingRule 创建规则并在同事务内截断旧规则的 effective_to
func (r *pricingRepo) CreatePricingRule(ctx context.Context, rule *biz.PricingRule) error {
	if rule.PricingRuleID == "" {
		rule.PricingRuleID = uuid.New().String()
	}
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.PricingRule{}).
			Where("product_id = ? AND effective_to IS NULL AND effective_from < ?", rule.ProductID, rule.EffectiveFrom).
			Update("effective_to", rule.EffectiveFrom).Error; err != nil {
			return err
		}
		return tx.Create(&model.PricingRule{
			PricingRuleID:          rule.PricingRuleID,
			ProductID:              rule.ProductID,
			UnitPriceUSD:           rule.UnitPriceUSD,
			TokenEquivalenceFactor: rule.TokenEquivalenceFactor,
			FreeTierAllotment:      rule.FreeTierAllotment,
			EffectiveFrom:          rule.EffectiveFrom,
			EffectiveTo:            rule.EffectiveTo,
		}).Error
	})
	if err != nil {
		return err
	}

	r.invalidateRuleCache(rule.ProductID)
	return nil
}

func (r *pricingRepo) getRuleFromCache(ctx context.Context, productID string) *biz.PricingRule {
	if r.data.rdb == nil {
		return nil
	}
	key := constants.RedisKeyPricingRule + productID
	raw, err := r.data.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.WithContext(ctx).Warnf("failed to read pricing cache: product_id=%s, err=%v", productID, err)
		}
		return nil
	}
	var rule biz.PricingRule
	if err := json.Unmarshal([]byte(raw), &rule); err != nil {
		return nil
	}
	// 缓存的规则已被截断则视为未命中
	if rule.EffectiveTo != nil && rule.EffectiveTo.Before(time.Now()) {
		return nil
	}
	return &rule
}

// setRuleCache 异步写缓存（尽力而为）
func (r *pricingRepo) setRuleCache(productID string, rule *biz.PricingRule) {
	if r.data.rdb == nil {
		return
	}
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b, err := json.Marshal(rule)
		if err != nil {
			return
		}
		key := constants.RedisKeyPricingRule + productID
		if err := r.data.rdb.Set(cacheCtx, key, b, cacheTTL).Err(); err != nil && !errors.Is(err, redis.ErrClosed) {
			r.log.Warnf("failed to set pricing cache: product_id=%s, err=%v", productID, err)
		}
	}()
}

func (r *pricingRepo) invalidateRuleCache(productID string) {
	if r.data.rdb == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := constants.RedisKeyPricingRule + productID
	if err := r.data.rdb.Del(cacheCtx, key).Err(); err != nil {
		r.log.Warnf("failed to invalidate pricing cache: product_id=%s, err=%v", productID, err)
	}
}
