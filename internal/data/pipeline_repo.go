package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"metering-service/internal/biz"
	"metering-service/internal/constants"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pipelineRepo 实现 biz.PipelineRepo
// 计费决策事务跨 quota_states / billing_records / usage_records / outbox，
// 在这里统一落库以保证单事务提交
type pipelineRepo struct {
	data *Data
	cfg  *biz.BillingConfig
	log  *log.Helper
}

// NewPipelineRepo 创建计费决策管道 repo
func NewPipelineRepo(data *Data, cfg *biz.BillingConfig, logger log.Logger) biz.PipelineRepo {
	return &pipelineRepo{
		data: data,
		cfg:  cfg,
		log:  log.NewHelper(logger),
	}
}

// lockQuotaState 在事务内获取（必要时创建）配额行并加行锁
// 并发创建依赖 uk_tenant_period 唯一键兜底
func (r *pipelineRepo) lockQuotaState(tx *gorm.DB, tenantID, periodID string) (*model.QuotaState, error) {
	query := tx.Model(&model.QuotaState{})
	if r.data.supportsRowLocking() {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var state model.QuotaState
	err := query.Where("tenant_id = ? AND period_id = ?", tenantID, periodID).First(&state).Error
	if err == nil {
		return &state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := &model.QuotaState{
		QuotaStateID:          uuid.New().String(),
		TenantID:              tenantID,
		PeriodID:              periodID,
		FreeTierRemaining:     r.cfg.FreeTierTokens,
		SubscriptionRemaining: r.cfg.SubscriptionTokens,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "period_id"}},
		DoNothing: true,
	}).Create(fresh).Error; err != nil {
		return nil, err
	}

	query = tx.Model(&model.QuotaState{})
	if r.data.supportsRowLocking() {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.Where("tenant_id = ? AND period_id = ?", tenantID, periodID).First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

// insertUsageRecord 审计用量落库，重复事件静默跳过
func (r *pipelineRepo) insertUsageRecord(tx *gorm.DB, usage *biz.UsageRecord) error {
	rawDetails := "{}"
	if usage.RawDetails != nil {
		if b, err := json.Marshal(usage.RawDetails); err == nil {
			rawDetails = string(b)
		}
	}
	rec := &model.UsageRecord{
		UsageRecordID: uuid.New().String(),
		UsageEventID:  usage.UsageEventID,
		TenantID:      usage.TenantID,
		ProductID:     usage.ProductID,
		UnitType:      usage.UnitType,
		Amount:        usage.Amount,
		OccurredAt:    usage.OccurredAt,
		RawDetails:    rawDetails,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "usage_event_id"}},
		DoNothing: true,
	}).Create(rec).Error
}

// insertOutboxEvent 在业务事务内写入发件箱事件
func insertOutboxEvent(tx *gorm.DB, eventType string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tx.Create(&model.OutboxEvent{
		EventType: eventType,
		Payload:   string(b),
	}).Error
}

// RecordDecision 落库一次计费决策
// 幂等护栏是 billing_records.usage_event_id 唯一索引：插入未生效说明
// 该事件已处理过，直接返回既有记录，配额不重复扣减
func (r *pipelineRepo) RecordDecision(ctx context.Context, usage *biz.UsageRecord, rule *biz.PricingRule) (*biz.BillingRecord, bool, error) {
	periodID := biz.CurrentPeriod(usage.OccurredAt)

	var (
		result   *model.BillingRecord
		replayed bool
	)
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quota, err := r.lockQuotaState(tx, usage.TenantID, periodID)
		if err != nil {
			return err
		}

		decision := biz.CalculateCost(usage, rule, &biz.QuotaState{
			FreeTierRemaining:     quota.FreeTierRemaining,
			SubscriptionRemaining: quota.SubscriptionRemaining,
		})

		rec := &model.BillingRecord{
			BillingRecordID:    uuid.New().String(),
			UsageEventID:       usage.UsageEventID,
			TenantID:           usage.TenantID,
			ProductID:          usage.ProductID,
			PeriodID:           periodID,
			CostUSD:            decision.CostUSD,
			TokenEquivalent:    decision.TokenEquivalent,
			FreeTokens:         decision.FreeTokens,
			SubscriptionTokens: decision.SubscriptionTokens,
			WalletTokens:       decision.WalletTokens,
			TierApplied:        decision.TierApplied,
			Status:             constants.StatusCalculated,
		}
		insert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "usage_event_id"}},
			DoNothing: true,
		}).Create(rec)
		if insert.Error != nil {
			return insert.Error
		}
		if insert.RowsAffected == 0 {
			// 重复事件：取既有记录，整个事务无任何写入
			var existing model.BillingRecord
			if err := tx.Where("usage_event_id = ?", usage.UsageEventID).First(&existing).Error; err != nil {
				return err
			}
			result = &existing
			replayed = true
			return nil
		}

		if err := tx.Model(&model.QuotaState{}).
			Where("quota_state_id = ?", quota.QuotaStateID).
			Updates(map[string]interface{}{
				"free_tier_remaining":    decision.FreeRemaining,
				"subscription_remaining": decision.SubRemaining,
			}).Error; err != nil {
			return err
		}

		if err := r.insertUsageRecord(tx, usage); err != nil {
			return err
		}

		if err := insertOutboxEvent(tx, constants.EventTypeBillingCalculated, &biz.BillingCalculatedEvent{
			BillingRecordID:          rec.BillingRecordID,
			UsageEventID:             rec.UsageEventID,
			TenantID:                 rec.TenantID,
			CostUSD:                  rec.CostUSD,
			TokenEquivalent:          rec.TokenEquivalent,
			TierApplied:              rec.TierApplied,
			IsFreeTier:               rec.TierApplied == constants.TierFree,
			IsIncludedInSubscription: rec.TierApplied == constants.TierSubscription,
		}); err != nil {
			return err
		}

		result = rec
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return toBizBillingRecord(result), replayed, nil
}

// RecordFailure 决策失败落库（如计价规则缺失），不产生事件
func (r *pipelineRepo) RecordFailure(ctx context.Context, usage *biz.UsageRecord, reason string) (*biz.BillingRecord, error) {
	var result *model.BillingRecord
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := &model.BillingRecord{
			BillingRecordID: uuid.New().String(),
			UsageEventID:    usage.UsageEventID,
			TenantID:        usage.TenantID,
			ProductID:       usage.ProductID,
			PeriodID:        biz.CurrentPeriod(usage.OccurredAt),
			CostUSD:         decimal.Zero,
			TierApplied:     constants.TierFree,
			Status:          constants.StatusFailed,
			FailReason:      reason,
		}
		insert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "usage_event_id"}},
			DoNothing: true,
		}).Create(rec)
		if insert.Error != nil {
			return insert.Error
		}
		if insert.RowsAffected == 0 {
			var existing model.BillingRecord
			if err := tx.Where("usage_event_id = ?", usage.UsageEventID).First(&existing).Error; err != nil {
				return err
			}
			result = &existing
			return nil
		}

		if err := r.insertUsageRecord(tx, usage); err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toBizBillingRecord(result), nil
}

// ReplayDecision 将 failed 记录原地重算为 calculated
// WHERE status = 'failed' 守卫防止并发重放重复扣配额
func (r *pipelineRepo) ReplayDecision(ctx context.Context, usage *biz.UsageRecord, rule *biz.PricingRule) (*biz.BillingRecord, error) {
	periodID := biz.CurrentPeriod(usage.OccurredAt)

	var result *model.BillingRecord
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quota, err := r.lockQuotaState(tx, usage.TenantID, periodID)
		if err != nil {
			return err
		}

		decision := biz.CalculateCost(usage, rule, &biz.QuotaState{
			FreeTierRemaining:     quota.FreeTierRemaining,
			SubscriptionRemaining: quota.SubscriptionRemaining,
		})

		update := tx.Model(&model.BillingRecord{}).
			Where("usage_event_id = ? AND status = ?", usage.UsageEventID, constants.StatusFailed).
			Updates(map[string]interface{}{
				"cost_usd":            decision.CostUSD,
				"token_equivalent":    decision.TokenEquivalent,
				"free_tokens":         decision.FreeTokens,
				"subscription_tokens": decision.SubscriptionTokens,
				"wallet_tokens":       decision.WalletTokens,
				"tier_applied":        decision.TierApplied,
				"status":              constants.StatusCalculated,
				"fail_reason":         "",
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return fmt.Errorf("record no longer in failed status: usage_event_id=%s", usage.UsageEventID)
		}

		if err := tx.Model(&model.QuotaState{}).
			Where("quota_state_id = ?", quota.QuotaStateID).
			Updates(map[string]interface{}{
				"free_tier_remaining":    decision.FreeRemaining,
				"subscription_remaining": decision.SubRemaining,
			}).Error; err != nil {
			return err
		}

		var rec model.BillingRecord
		if err := tx.Where("usage_event_id = ?", usage.UsageEventID).First(&rec).Error; err != nil {
			return err
		}

		if err := insertOutboxEvent(tx, constants.EventTypeBillingCalculated, &biz.BillingCalculatedEvent{
			BillingRecordID:          rec.BillingRecordID,
			UsageEventID:             rec.UsageEventID,
			TenantID:                 rec.TenantID,
			CostUSD:                  rec.CostUSD,
			TokenEquivalent:          rec.TokenEquivalent,
			TierApplied:              rec.TierApplied,
			IsFreeTier:               rec.TierApplied == constants.TierFree,
			IsIncludedInSubscription: rec.TierApplied == constants.TierSubscription,
		}); err != nil {
			return err
		}

		result = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toBizBillingRecord(result), nil
}
