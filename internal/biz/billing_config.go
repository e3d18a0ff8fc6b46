package biz

import (
	"metering-service/internal/conf"
)

// BillingConfig 计费业务配置（从 bootstrap 配置派生）
type BillingConfig struct {
	FreeTierTokens     int64 // 每周期免费层初始额度
	SubscriptionTokens int64 // 每周期订阅层初始额度
	BalanceLowTokens   int64 // 余额低于该阈值时打点告警
	DebitMaxRetries    int   // 乐观锁扣款最大重试次数
}

// NewBillingConfig 从 bootstrap 配置创建计费配置
func NewBillingConfig(bc *conf.Bootstrap) *BillingConfig {
	cfg := &BillingConfig{
		FreeTierTokens:     100000,
		SubscriptionTokens: 1000000,
		BalanceLowTokens:   10000,
		DebitMaxRetries:    3,
	}
	if bc != nil && bc.Billing != nil {
		b := bc.Billing
		if b.FreeTierTokens > 0 {
			cfg.FreeTierTokens = b.FreeTierTokens
		}
		if b.SubscriptionTokens > 0 {
			cfg.SubscriptionTokens = b.SubscriptionTokens
		}
		if b.BalanceLowTokens > 0 {
			cfg.BalanceLowTokens = b.BalanceLowTokens
		}
		if b.DebitMaxRetries > 0 {
			cfg.DebitMaxRetries = int(b.DebitMaxRetries)
		}
	}
	return cfg
}
