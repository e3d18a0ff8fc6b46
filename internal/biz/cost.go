package biz

import (
	"metering-service/internal/constants"

	"github.com/shopspring/decimal"
)

// BillingDecision 成本瀑布计算结果
// FreeTokens + SubscriptionTokens + WalletTokens == TokenEquivalent
type BillingDecision struct {
	CostUSD            decimal.Decimal
	TokenEquivalent    int64
	TierApplied        string
	FreeTokens         int64
	SubscriptionTokens int64
	WalletTokens       int64
	FreeRemaining      int64 // 扣减后的免费层余量
	SubRemaining       int64 // 扣减后的订阅层余量
}

// TokenEquivalent 用量换算为 token 等价量，非整数结果向上取整
func TokenEquivalent(amount, factor decimal.Decimal) int64 {
	return amount.Mul(factor).Ceil().IntPart()
}

// CalculateCost 纯函数成本瀑布：免费层 -> 订阅层 -> 钱包
// 不做任何 IO，调用方负责在同一事务内持久化 quota 扣减与计费记录
// cost_usd 只计钱包残量，免费/订阅吸收的部分不产生费用
// tier_applied 取实际触达的最深层级
func CalculateCost(usage *UsageRecord, rule *PricingRule, quota *QuotaState) *BillingDecision {
	tokens := TokenEquivalent(usage.Amount, rule.TokenEquivalenceFactor)

	d := &BillingDecision{
		TokenEquivalent: tokens,
		TierApplied:     constants.TierFree,
		FreeRemaining:   quota.FreeTierRemaining,
		SubRemaining:    quota.SubscriptionRemaining,
	}

	remaining := tokens

	if remaining > 0 && d.FreeRemaining > 0 {
		take := min64(remaining, d.FreeRemaining)
		d.FreeTokens = take
		d.FreeRemaining -= take
		remaining -= take
	}

	if remaining > 0 && d.SubRemaining > 0 {
		take := min64(remaining, d.SubRemaining)
		d.SubscriptionTokens = take
		d.SubRemaining -= take
		remaining -= take
		d.TierApplied = constants.TierSubscription
	}

	if remaining > 0 {
		d.WalletTokens = remaining
		d.TierApplied = constants.TierWallet
	} else if d.SubscriptionTokens > 0 {
		d.TierApplied = constants.TierSubscription
	} else {
		d.TierApplied = constants.TierFree
	}

	d.CostUSD = decimal.NewFromInt(d.WalletTokens).Mul(rule.UnitPriceUSD)
	return d
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
