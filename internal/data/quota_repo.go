package data

import (
	"context"
	"errors"

	"metering-service/internal/biz"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// quotaRepo 实现 biz.QuotaRepo 接口
type quotaRepo struct {
	data *Data
	log  *log.Helper
}

// NewQuotaRepo 创建配额状态 repo
func NewQuotaRepo(data *Data, logger log.Logger) biz.QuotaRepo {
	return &quotaRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toBizQuotaState(m *model.QuotaState) *biz.QuotaState {
	if m == nil {
		return nil
	}
	return &biz.QuotaState{
		QuotaStateID:          m.QuotaStateID,
		TenantID:              m.TenantID,
		PeriodID:              m.PeriodID,
		FreeTierRemaining:     m.FreeTierRemaining,
		SubscriptionRemaining: m.SubscriptionRemaining,
		UpdatedAt:             m.UpdatedAt,
	}
}

// GetQuotaState 查询配额状态，不存在返回 nil
func (r *quotaRepo) GetQuotaState(ctx context.Context, tenantID, periodID string) (*biz.QuotaState, error) {
	var state model.QuotaState
	err := r.data.db.WithContext(ctx).
		Where("tenant_id = ? AND period_id = ?", tenantID, periodID).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizQuotaState(&state), nil
}

// CreateQuotaState 创建配额状态，并发冲突时返回既有行
func (r *quotaRepo) CreateQuotaState(ctx context.Context, state *biz.QuotaState) (*biz.QuotaState, error) {
	rec := &model.QuotaState{
		QuotaStateID:          uuid.New().String(),
		TenantID:              state.TenantID,
		PeriodID:              state.PeriodID,
		FreeTierRemaining:     state.FreeTierRemaining,
		SubscriptionRemaining: state.SubscriptionRemaining,
	}
	if err := r.data.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "period_id"}},
		DoNothing: true,
	}).Create(rec).Error; err != nil {
		return nil, err
	}
	return r.GetQuotaState(ctx, state.TenantID, state.PeriodID)
}

// ListTenantIDs 返回所有出现过配额状态或钱包的租户（去重）
func (r *quotaRepo) ListTenantIDs(ctx context.Context) ([]string, error) {
	var fromQuota []string
	if err := r.data.db.WithContext(ctx).Model(&model.QuotaState{}).
		Distinct("tenant_id").Pluck("tenant_id", &fromQuota).Error; err != nil {
		return nil, err
	}
	var fromWallet []string
	if err := r.data.db.WithContext(ctx).Model(&model.Wallet{}).
		Distinct("tenant_id").Pluck("tenant_id", &fromWallet).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(fromQuota)+len(fromWallet))
	out := make([]string, 0, len(fromQuota)+len(fromWallet))
	for _, ids := range [][]string{fromQuota, fromWallet} {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}
