package biz

import (
	"testing"

	"metering-service/internal/constants"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUsage(amount string) *UsageRecord {
	return &UsageRecord{
		UsageEventID: "evt-1",
		TenantID:     "tenant-1",
		ProductID:    "llm-chat",
		UnitType:     constants.UnitTypeToken,
		Amount:       decimal.RequireFromString(amount),
	}
}

func newTestRule(unitPrice, factor string) *PricingRule {
	return &PricingRule{
		PricingRuleID:          "rule-1",
		ProductID:              "llm-chat",
		UnitPriceUSD:           decimal.RequireFromString(unitPrice),
		TokenEquivalenceFactor: decimal.RequireFromString(factor),
	}
}

func TestCalculateCostFreeTierOnly(t *testing.T) {
	d := CalculateCost(newTestUsage("50"), newTestRule("0.00003", "1"), &QuotaState{
		FreeTierRemaining:     1000,
		SubscriptionRemaining: 500,
	})

	assert.Equal(t, int64(50), d.TokenEquivalent)
	assert.Equal(t, int64(50), d.FreeTokens)
	assert.Equal(t, int64(0), d.SubscriptionTokens)
	assert.Equal(t, int64(0), d.WalletTokens)
	assert.Equal(t, constants.TierFree, d.TierApplied)
	assert.Equal(t, int64(950), d.FreeRemaining)
	assert.Equal(t, int64(500), d.SubRemaining)
	assert.True(t, d.CostUSD.IsZero(), "free-tier usage must cost 0, got %s", d.CostUSD)
}

func TestCalculateCostSpillsIntoSubscription(t *testing.T) {
	// 免费 50 + 订阅 100，用量 120：免费吸收 50，订阅吸收 70，剩 30 订阅额度
	d := CalculateCost(newTestUsage("120"), newTestRule("0.00003", "1"), &QuotaState{
		FreeTierRemaining:     50,
		SubscriptionRemaining: 100,
	})

	assert.Equal(t, int64(120), d.TokenEquivalent)
	assert.Equal(t, int64(50), d.FreeTokens)
	assert.Equal(t, int64(70), d.SubscriptionTokens)
	assert.Equal(t, int64(0), d.WalletTokens)
	assert.Equal(t, constants.TierSubscription, d.TierApplied)
	assert.Equal(t, int64(0), d.FreeRemaining)
	assert.Equal(t, int64(30), d.SubRemaining)
	// 全部被额度吸收，费用必须为 0
	assert.True(t, d.CostUSD.IsZero(), "quota-absorbed usage must cost 0, got %s", d.CostUSD)
}

func TestCalculateCostSpillsIntoWallet(t *testing.T) {
	d := CalculateCost(newTestUsage("30"), newTestRule("0.00003", "1"), &QuotaState{
		FreeTierRemaining:     10,
		SubscriptionRemaining: 10,
	})

	assert.Equal(t, int64(10), d.FreeTokens)
	assert.Equal(t, int64(10), d.SubscriptionTokens)
	assert.Equal(t, int64(10), d.WalletTokens)
	assert.Equal(t, constants.TierWallet, d.TierApplied)
	assert.Equal(t, int64(0), d.FreeRemaining)
	assert.Equal(t, int64(0), d.SubRemaining)
	// 只对钱包档 10 token 计价
	assert.True(t, d.CostUSD.Equal(decimal.RequireFromString("0.0003")), "got %s", d.CostUSD)
}

func TestCalculateCostExhaustedQuota(t *testing.T) {
	d := CalculateCost(newTestUsage("30"), newTestRule("0.00003", "1"), &QuotaState{})

	assert.Equal(t, int64(0), d.FreeTokens)
	assert.Equal(t, int64(0), d.SubscriptionTokens)
	assert.Equal(t, int64(30), d.WalletTokens)
	assert.Equal(t, constants.TierWallet, d.TierApplied)
	assert.True(t, d.CostUSD.Equal(decimal.RequireFromString("0.0009")), "got %s", d.CostUSD)
}

func TestCalculateCostZeroAmount(t *testing.T) {
	d := CalculateCost(newTestUsage("0"), newTestRule("0.00003", "1"), &QuotaState{
		FreeTierRemaining: 100,
	})

	assert.Equal(t, int64(0), d.TokenEquivalent)
	assert.True(t, d.CostUSD.IsZero())
	assert.Equal(t, constants.TierFree, d.TierApplied)
	assert.Equal(t, int64(100), d.FreeRemaining)
}

func TestCalculateCostDecimalPrecision(t *testing.T) {
	// 300 token × $0.00003 = $0.009，十进制运算不得出现浮点误差
	d := CalculateCost(newTestUsage("300"), newTestRule("0.00003", "1"), &QuotaState{})

	require.Equal(t, int64(300), d.TokenEquivalent)
	assert.True(t, d.CostUSD.Equal(decimal.RequireFromString("0.009")),
		"expected 0.009, got %s", d.CostUSD)
}

func TestTokenEquivalentCeiling(t *testing.T) {
	cases := []struct {
		amount string
		factor string
		want   int64
	}{
		{"100", "1", 100},
		{"10.2", "1", 11},
		{"1", "0.5", 1},
		{"3", "0.5", 2},
		{"1048576", "0.001", 1049},
		{"0", "1", 0},
	}
	for _, tc := range cases {
		got := TokenEquivalent(decimal.RequireFromString(tc.amount), decimal.RequireFromString(tc.factor))
		assert.Equal(t, tc.want, got, "amount=%s factor=%s", tc.amount, tc.factor)
	}
}

func TestCalculateCostTokenConservation(t *testing.T) {
	quotas := []*QuotaState{
		{FreeTierRemaining: 0, SubscriptionRemaining: 0},
		{FreeTierRemaining: 7, SubscriptionRemaining: 0},
		{FreeTierRemaining: 0, SubscriptionRemaining: 13},
		{FreeTierRemaining: 5, SubscriptionRemaining: 5},
		{FreeTierRemaining: 1000, SubscriptionRemaining: 1000},
	}
	for _, q := range quotas {
		d := CalculateCost(newTestUsage("42"), newTestRule("0.00003", "1"), q)
		assert.Equal(t, d.TokenEquivalent, d.FreeTokens+d.SubscriptionTokens+d.WalletTokens,
			"free=%d sub=%d", q.FreeTierRemaining, q.SubscriptionRemaining)
	}
}
