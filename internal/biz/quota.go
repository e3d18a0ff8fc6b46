package biz

import (
	"context"
	"time"

	"metering-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// QuotaState 租户每周期的免费/订阅额度状态
type QuotaState struct {
	QuotaStateID          string
	TenantID              string
	PeriodID              string // "2006-01"
	FreeTierRemaining     int64
	SubscriptionRemaining int64
	UpdatedAt             time.Time
}

// QuotaRepo 额度状态数据层接口（定义在 biz 层）
// 扣减在计费决策事务内完成，不走该接口
type QuotaRepo interface {
	GetQuotaState(ctx context.Context, tenantID, periodID string) (*QuotaState, error)
	CreateQuotaState(ctx context.Context, state *QuotaState) (*QuotaState, error)
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// QuotaUseCase 额度管理业务逻辑
type QuotaUseCase struct {
	repo QuotaRepo
	cfg  *BillingConfig
	log  *log.Helper
}

// NewQuotaUseCase 创建额度管理 UseCase
func NewQuotaUseCase(repo QuotaRepo, cfg *BillingConfig, logger log.Logger) *QuotaUseCase {
	return &QuotaUseCase{
		repo: repo,
		cfg:  cfg,
		log:  log.NewHelper(logger),
	}
}

// CurrentPeriod 返回指定时刻所属的计费周期
func CurrentPeriod(t time.Time) string {
	return t.UTC().Format(constants.TimeFormatPeriod)
}

// GetOrCreate 获取当期额度状态，不存在时按配置初始额度创建
// 并发创建依赖 (tenant_id, period_id) 唯一键，冲突时取已存在行
func (uc *QuotaUseCase) GetOrCreate(ctx context.Context, tenantID, periodID string) (*QuotaState, error) {
	state, err := uc.repo.GetQuotaState(ctx, tenantID, periodID)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}

	state = &QuotaState{
		TenantID:              tenantID,
		PeriodID:              periodID,
		FreeTierRemaining:     uc.cfg.FreeTierTokens,
		SubscriptionRemaining: uc.cfg.SubscriptionTokens,
	}
	created, err := uc.repo.CreateQuotaState(ctx, state)
	if err != nil {
		return nil, err
	}
	uc.log.WithContext(ctx).Infof("created quota state: tenant_id=%s, period_id=%s, free=%d, subscription=%d",
		tenantID, periodID, created.FreeTierRemaining, created.SubscriptionRemaining)
	return created, nil
}

// RolloverPeriod 为所有已知租户预建新周期的额度状态
// 未预建的租户在首笔用量进入时惰性创建，该任务只是降低首笔延迟
func (uc *QuotaUseCase) RolloverPeriod(ctx context.Context, periodID string) (int, error) {
	tenantIDs, err := uc.repo.ListTenantIDs(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, tenantID := range tenantIDs {
		if _, err := uc.GetOrCreate(ctx, tenantID, periodID); err != nil {
			uc.log.WithContext(ctx).Errorf("rollover quota failed: tenant_id=%s, period_id=%s, err=%v", tenantID, periodID, err)
			continue
		}
		created++
	}

	uc.log.WithContext(ctx).Infof("quota rollover done: period_id=%s, tenants=%d, created=%d", periodID, len(tenantIDs), created)
	return created, nil
}
