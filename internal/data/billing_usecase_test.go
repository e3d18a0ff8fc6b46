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

// newBillingUseCase 组装完整管道（真实 repo + 内存 sqlite）
func newBillingUseCase(t *testing.T, d *Data) *biz.BillingUseCase {
	t.Helper()
	cfg := testBillingConfig()
	logger := testLogger()

	pipelineRepo := NewPipelineRepo(d, cfg, logger)
	recordRepo := NewBillingRecordRepo(d, logger)
	usageRepo := NewUsageRepo(d, logger)
	pricingRepo := NewPricingRepo(d, logger)
	quotaRepo := NewQuotaRepo(d, logger)
	walletRepo := NewWalletRepo(d, logger)

	pricingUC := biz.NewPricingCatalogUseCase(pricingRepo, logger)
	quotaUC := biz.NewQuotaUseCase(quotaRepo, cfg, logger)
	walletUC := biz.NewWalletUseCase(walletRepo, recordRepo, cfg, logger)
	return biz.NewBillingUseCase(pipelineRepo, recordRepo, usageRepo, pricingUC, quotaUC, walletUC, logger)
}

func seedPricingRule(t *testing.T, d *Data) {
	t.Helper()
	repo := NewPricingRepo(d, testLogger())
	require.NoError(t, repo.CreatePricingRule(context.Background(), &biz.PricingRule{
		ProductID:              "llm-chat",
		UnitPriceUSD:           decimal.RequireFromString("0.00003"),
		TokenEquivalenceFactor: decimal.NewFromInt(1),
		EffectiveFrom:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func usageEvent(eventID string, amount int64) *biz.UsageRecordedEvent {
	return &biz.UsageRecordedEvent{
		UsageEventID: eventID,
		TenantID:     "tenant-1",
		ProductID:    "llm-chat",
		Amount:       decimal.NewFromInt(amount),
		UnitType:     constants.UnitTypeToken,
		OccurredAt:   time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestProcessUsageEndToEnd(t *testing.T) {
	d := newTestData(t)
	seedPricingRule(t, d)
	uc := newBillingUseCase(t, d)
	ctx := context.Background()

	record, result, err := uc.ProcessUsage(ctx, usageEvent("evt-e2e", 120))
	require.NoError(t, err)
	assert.Equal(t, constants.PipelineResultAccepted, result)
	assert.Equal(t, constants.StatusCalculated, record.Status)
	assert.Equal(t, constants.TierSubscription, record.TierApplied)

	// 扣款消费侧：无钱包份额直接完成
	require.NoError(t, uc.HandleBillingCalculated(ctx, record.BillingRecordID))
	var rec model.BillingRecord
	require.NoError(t, d.db.Where("billing_record_id = ?", record.BillingRecordID).First(&rec).Error)
	assert.Equal(t, constants.StatusCompleted, rec.Status)
}

func TestProcessUsageDuplicate(t *testing.T) {
	d := newTestData(t)
	seedPricingRule(t, d)
	uc := newBillingUseCase(t, d)
	ctx := context.Background()

	first, _, err := uc.ProcessUsage(ctx, usageEvent("evt-dup", 30))
	require.NoError(t, err)

	again, result, err := uc.ProcessUsage(ctx, usageEvent("evt-dup", 30))
	require.NoError(t, err)
	assert.Equal(t, constants.PipelineResultReplayed, result)
	assert.Equal(t, first.BillingRecordID, again.BillingRecordID)
}

func TestProcessUsageInvalidPayload(t *testing.T) {
	d := newTestData(t)
	uc := newBillingUseCase(t, d)

	evt := usageEvent("evt-bad", 30)
	evt.TenantID = ""
	_, result, err := uc.ProcessUsage(context.Background(), evt)
	assert.Error(t, err)
	assert.Equal(t, constants.PipelineResultRejected, result)

	// 拒绝的事件不落任何记录
	var count int64
	d.db.Model(&model.BillingRecord{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestProcessUsageMissingPricingRule(t *testing.T) {
	d := newTestData(t)
	uc := newBillingUseCase(t, d)
	ctx := context.Background()

	record, result, err := uc.ProcessUsage(ctx, usageEvent("evt-noprice", 30))
	assert.Error(t, err)
	assert.Equal(t, constants.PipelineResultFailed, result)
	require.NotNil(t, record)
	assert.Equal(t, constants.StatusFailed, record.Status)

	// 目录修正后人工重放
	seedPricingRule(t, d)
	replayed, err := uc.ReplayUsageEvent(ctx, "evt-noprice")
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCalculated, replayed.Status)
	assert.Equal(t, record.BillingRecordID, replayed.BillingRecordID)

	// 非 failed 记录不允许重放
	_, err = uc.ReplayUsageEvent(ctx, "evt-noprice")
	assert.Error(t, err)
}

func TestProcessUsageInsufficientBalanceFlow(t *testing.T) {
	d := newTestData(t)
	seedPricingRule(t, d)
	uc := newBillingUseCase(t, d)
	walletUC, _ := newWalletUseCase(d)
	ctx := context.Background()

	// 余额 10，配额 150 耗尽后还需 50 钱包档
	_, err := walletUC.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 10, "order-1")
	require.NoError(t, err)

	record, _, err := uc.ProcessUsage(ctx, usageEvent("evt-poor", 200))
	require.NoError(t, err)
	require.Equal(t, int64(50), record.WalletTokens)

	require.NoError(t, uc.HandleBillingCalculated(ctx, record.BillingRecordID))

	var rec model.BillingRecord
	require.NoError(t, d.db.Where("billing_record_id = ?", record.BillingRecordID).First(&rec).Error)
	assert.Equal(t, constants.StatusInsufficientBalance, rec.Status)
}

func TestGetAccount(t *testing.T) {
	d := newTestData(t)
	uc := newBillingUseCase(t, d)

	view, err := uc.GetAccount(context.Background(), "tenant-9")
	require.NoError(t, err)
	assert.Equal(t, "tenant-9", view.TenantID)
	assert.Equal(t, int64(0), view.Wallet.Balance)
	assert.Equal(t, int64(50), view.Quota.FreeTierRemaining)
	assert.Equal(t, int64(100), view.Quota.SubscriptionRemaining)
}
