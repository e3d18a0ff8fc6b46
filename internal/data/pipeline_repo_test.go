package data

import (
	"context"
	"testing"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/constants"
	"metering-service/internal/data/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBillingConfig() *biz.BillingConfig {
	return &biz.BillingConfig{
		FreeTierTokens:     50,
		SubscriptionTokens: 100,
		BalanceLowTokens:   10,
		DebitMaxRetries:    3,
	}
}

func testUsage(eventID, amount string) *biz.UsageRecord {
	return &biz.UsageRecord{
		UsageEventID: eventID,
		TenantID:     "tenant-1",
		ProductID:    "llm-chat",
		UnitType:     constants.UnitTypeToken,
		Amount:       decimal.RequireFromString(amount),
		OccurredAt:   time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC),
		RawDetails:   map[string]interface{}{"model": "large-v3"},
	}
}

func testRule() *biz.PricingRule {
	return &biz.PricingRule{
		PricingRuleID:          "rule-1",
		ProductID:              "llm-chat",
		UnitPriceUSD:           decimal.RequireFromString("0.00003"),
		TokenEquivalenceFactor: decimal.NewFromInt(1),
	}
}

func TestRecordDecisionWaterfall(t *testing.T) {
	d := newTestData(t)
	repo := NewPipelineRepo(d, testBillingConfig(), testLogger())
	ctx := context.Background()

	record, replayed, err := repo.RecordDecision(ctx, testUsage("evt-1", "120"), testRule())
	require.NoError(t, err)
	require.False(t, replayed)

	assert.Equal(t, constants.StatusCalculated, record.Status)
	assert.Equal(t, int64(120), record.TokenEquivalent)
	assert.Equal(t, int64(50), record.FreeTokens)
	assert.Equal(t, int64(70), record.SubscriptionTokens)
	assert.Equal(t, int64(0), record.WalletTokens)
	assert.Equal(t, constants.TierSubscription, record.TierApplied)
	assert.Equal(t, "2026-08", record.PeriodID)

	// 配额同事务扣减
	var quota model.QuotaState
	require.NoError(t, d.db.Where("tenant_id = ? AND period_id = ?", "tenant-1", "2026-08").First(&quota).Error)
	assert.Equal(t, int64(0), quota.FreeTierRemaining)
	assert.Equal(t, int64(30), quota.SubscriptionRemaining)

	// 用量记录与事件同事务写入
	var usageCount, outboxCount int64
	d.db.Model(&model.UsageRecord{}).Where("usage_event_id = ?", "evt-1").Count(&usageCount)
	d.db.Model(&model.OutboxEvent{}).Where("event_type = ?", constants.EventTypeBillingCalculated).Count(&outboxCount)
	assert.Equal(t, int64(1), usageCount)
	assert.Equal(t, int64(1), outboxCount)
}

func TestRecordDecisionIdempotent(t *testing.T) {
	d := newTestData(t)
	repo := NewPipelineRepo(d, testBillingConfig(), testLogger())
	ctx := context.Background()

	first, replayed, err := repo.RecordDecision(ctx, testUsage("evt-dup", "30"), testRule())
	require.NoError(t, err)
	require.False(t, replayed)

	// 同一事件重复投递 N 次只产生一条记录，配额不重复扣减
	for i := 0; i < 3; i++ {
		again, replayed, err := repo.RecordDecision(ctx, testUsage("evt-dup", "30"), testRule())
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, first.BillingRecordID, again.BillingRecordID)
	}

	var quota model.QuotaState
	require.NoError(t, d.db.Where("tenant_id = ?", "tenant-1").First(&quota).Error)
	assert.Equal(t, int64(20), quota.FreeTierRemaining)

	var recordCount, outboxCount int64
	d.db.Model(&model.BillingRecord{}).Count(&recordCount)
	d.db.Model(&model.OutboxEvent{}).Count(&outboxCount)
	assert.Equal(t, int64(1), recordCount)
	assert.Equal(t, int64(1), outboxCount)
}

func TestRecordDecisionWalletOverflow(t *testing.T) {
	d := newTestData(t)
	repo := NewPipelineRepo(d, testBillingConfig(), testLogger())
	ctx := context.Background()

	// 免费 50 + 订阅 100 全部吸收后，剩余 30 落到钱包档
	record, _, err := repo.RecordDecision(ctx, testUsage("evt-big", "180"), testRule())
	require.NoError(t, err)

	assert.Equal(t, int64(30), record.WalletTokens)
	assert.Equal(t, constants.TierWallet, record.TierApplied)
	// 只对钱包档 30 token 计价：30 × 0.00003
	assert.True(t, record.CostUSD.Equal(decimal.RequireFromString("0.0009")), "got %s", record.CostUSD)
}

func TestRecordFailureAndReplay(t *testing.T) {
	d := newTestData(t)
	repo := NewPipelineRepo(d, testBillingConfig(), testLogger())
	ctx := context.Background()

	failed, err := repo.RecordFailure(ctx, testUsage("evt-fail", "30"), "no pricing rule for product llm-chat")
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, failed.Status)
	assert.NotEmpty(t, failed.FailReason)

	// 失败记录不产生事件
	var outboxCount int64
	d.db.Model(&model.OutboxEvent{}).Count(&outboxCount)
	assert.Equal(t, int64(0), outboxCount)

	// 目录修正后重放：原地重算为 calculated 并发事件
	replayed, err := repo.ReplayDecision(ctx, testUsage("evt-fail", "30"), testRule())
	require.NoError(t, err)
	assert.Equal(t, failed.BillingRecordID, replayed.BillingRecordID)
	assert.Equal(t, constants.StatusCalculated, replayed.Status)
	assert.Equal(t, int64(30), replayed.FreeTokens)
	assert.Empty(t, replayed.FailReason)

	d.db.Model(&model.OutboxEvent{}).Count(&outboxCount)
	assert.Equal(t, int64(1), outboxCount)

	// 非 failed 状态不允许再次重放
	_, err = repo.ReplayDecision(ctx, testUsage("evt-fail", "30"), testRule())
	assert.Error(t, err)
}
