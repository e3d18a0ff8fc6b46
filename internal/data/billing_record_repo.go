package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/constants"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// billingRecordRepo 实现 biz.BillingRecordRepo 接口
type billingRecordRepo struct {
	data *Data
	log  *log.Helper
}

// NewBillingRecordRepo 创建计费记录 repo
func NewBillingRecordRepo(data *Data, logger log.Logger) biz.BillingRecordRepo {
	return &billingRecordRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toBizBillingRecord(m *model.BillingRecord) *biz.BillingRecord {
	if m == nil {
		return nil
	}
	return &biz.BillingRecord{
		BillingRecordID:    m.BillingRecordID,
		UsageEventID:       m.UsageEventID,
		TenantID:           m.TenantID,
		ProductID:          m.ProductID,
		PeriodID:           m.PeriodID,
		CostUSD:            m.CostUSD,
		TokenEquivalent:    m.TokenEquivalent,
		FreeTokens:         m.FreeTokens,
		SubscriptionTokens: m.SubscriptionTokens,
		WalletTokens:       m.WalletTokens,
		TierApplied:        m.TierApplied,
		Status:             m.Status,
		FailReason:         m.FailReason,
		ProcessedAt:        m.ProcessedAt,
		CreatedAt:          m.CreatedAt,
	}
}

// GetByEventID 按用量事件 ID 查询，不存在返回 nil
func (r *billingRecordRepo) GetByEventID(ctx context.Context, usageEventID string) (*biz.BillingRecord, error) {
	var rec model.BillingRecord
	err := r.data.db.WithContext(ctx).Where("usage_event_id = ?", usageEventID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizBillingRecord(&rec), nil
}

// GetByID 按记录 ID 查询，不存在返回 nil
func (r *billingRecordRepo) GetByID(ctx context.Context, billingRecordID string) (*biz.BillingRecord, error) {
	var rec model.BillingRecord
	err := r.data.db.WithContext(ctx).Where("billing_record_id = ?", billingRecordID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizBillingRecord(&rec), nil
}

// ListBillingRecords 按条件分页查询
func (r *billingRecordRepo) ListBillingRecords(ctx context.Context, filter *biz.BillingRecordFilter) ([]*biz.BillingRecord, error) {
	query := r.data.db.WithContext(ctx).Model(&model.BillingRecord{})
	if filter.TenantID != "" {
		query = query.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at < ?", filter.To)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var recs []*model.BillingRecord
	if err := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*biz.BillingRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toBizBillingRecord(rec))
	}
	return out, nil
}

// CompleteWithoutDebit 无钱包扣款的记录直接完成
// WHERE status = 'calculated' 守卫保证终态不可逆
func (r *billingRecordRepo) CompleteWithoutDebit(ctx context.Context, billingRecordID string) error {
	now := time.Now()
	result := r.data.db.WithContext(ctx).Model(&model.BillingRecord{}).
		Where("billing_record_id = ? AND status = ?", billingRecordID, constants.StatusCalculated).
		Updates(map[string]interface{}{
			"status":       constants.StatusCompleted,
			"processed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 已被并发处理推进到终态，幂等返回
		return nil
	}
	return nil
}

// MarkFailed 将 calculated 记录置为 failed 并记录原因
func (r *billingRecordRepo) MarkFailed(ctx context.Context, billingRecordID, reason string) error {
	now := time.Now()
	result := r.data.db.WithContext(ctx).Model(&model.BillingRecord{}).
		Where("billing_record_id = ? AND status = ?", billingRecordID, constants.StatusCalculated).
		Updates(map[string]interface{}{
			"status":       constants.StatusFailed,
			"fail_reason":  reason,
			"processed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var rec model.BillingRecord
		if err := r.data.db.WithContext(ctx).Where("billing_record_id = ?", billingRecordID).First(&rec).Error; err != nil {
			return err
		}
		if rec.Status == constants.StatusFailed {
			return nil
		}
		return fmt.Errorf("cannot mark record failed from status %s", rec.Status)
	}
	return nil
}
