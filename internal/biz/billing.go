package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metering-service/internal/constants"
	meteringErrors "metering-service/internal/errors"
	"metering-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// ErrReplayNotAllowed 只有 failed 状态的记录允许重放
var ErrReplayNotAllowed = errors.New("replay only allowed for failed records")

// PipelineRepo 计费决策管道数据层接口（定义在 biz 层）
// 决策事务跨 quota/billing_record/usage_record/outbox 四张表，
// 为保持单事务语义在数据层统一实现
type PipelineRepo interface {
	// RecordDecision 单事务内锁定额度行、重算成本瀑布、幂等写入计费记录、
	// 扣减额度、写入用量记录与 billing.calculated 事件
	// 已存在的 usage_event_id 返回既有记录且 replayed=true，不产生任何写入
	RecordDecision(ctx context.Context, usage *UsageRecord, rule *PricingRule) (*BillingRecord, bool, error)
	// RecordFailure 写入 failed 计费记录与用量记录（如计价规则缺失），不发事件
	RecordFailure(ctx context.Context, usage *UsageRecord, reason string) (*BillingRecord, error)
	// ReplayDecision 将既有 failed 记录原地重算为 calculated，
	// 扣减额度并写入 billing.calculated 事件（单事务）
	ReplayDecision(ctx context.Context, usage *UsageRecord, rule *PricingRule) (*BillingRecord, error)
}

// AccountView 租户账户聚合视图
type AccountView struct {
	TenantID string
	Wallet   *Wallet
	Quota    *QuotaState
	PeriodID string
}

// BillingUseCase 计费管道业务逻辑（组合各领域 UseCase）
type BillingUseCase struct {
	pipelineRepo PipelineRepo
	recordRepo   BillingRecordRepo
	usageRepo    UsageRepo
	pricingUC    *PricingCatalogUseCase
	quotaUC      *QuotaUseCase
	walletUC     *WalletUseCase
	log          *log.Helper
}

// NewBillingUseCase 创建计费管道 UseCase
func NewBillingUseCase(
	pipelineRepo PipelineRepo,
	recordRepo BillingRecordRepo,
	usageRepo UsageRepo,
	pricingUC *PricingCatalogUseCase,
	quotaUC *QuotaUseCase,
	walletUC *WalletUseCase,
	logger log.Logger,
) *BillingUseCase {
	return &BillingUseCase{
		pipelineRepo: pipelineRepo,
		recordRepo:   recordRepo,
		usageRepo:    usageRepo,
		pricingUC:    pricingUC,
		quotaUC:      quotaUC,
		walletUC:     walletUC,
		log:          log.NewHelper(logger),
	}
}

// ProcessUsage 处理一条 usage.recorded 事件：标准化、定价、成本瀑布决策
// 幂等：重复的 usage_event_id 返回既有记录，不重复扣减
// 返回处理结果（accepted/replayed/rejected/failed）供消费侧打点
func (uc *BillingUseCase) ProcessUsage(ctx context.Context, evt *UsageRecordedEvent) (*BillingRecord, string, error) {
	startTime := time.Now()
	m := metrics.GetMetrics()

	usage, err := NormalizeUsage(evt)
	if err != nil {
		uc.log.WithContext(ctx).Warnf("usage rejected: err=%v", err)
		return nil, constants.PipelineResultRejected, pkgErrors.WrapErrorWithLang(ctx, err, meteringErrors.ErrCodeInvalidUsagePayload)
	}

	rule, err := uc.pricingUC.GetActiveRule(ctx, usage.ProductID, usage.OccurredAt)
	if err != nil {
		if errors.Is(err, ErrPricingNotFound) {
			record, ferr := uc.pipelineRepo.RecordFailure(ctx, usage, fmt.Sprintf("no pricing rule for product %s", usage.ProductID))
			if ferr != nil {
				return nil, constants.PipelineResultFailed, ferr
			}
			uc.log.WithContext(ctx).Warnf("usage failed, pricing rule missing: usage_event_id=%s, product_id=%s",
				usage.UsageEventID, usage.ProductID)
			return record, constants.PipelineResultFailed, pkgErrors.WrapErrorWithLang(ctx, err, meteringErrors.ErrCodePricingRuleNotFound)
		}
		return nil, constants.PipelineResultFailed, err
	}

	record, replayed, err := uc.pipelineRepo.RecordDecision(ctx, usage, rule)
	if err != nil {
		return nil, constants.PipelineResultFailed, pkgErrors.WrapErrorWithLang(ctx, err, meteringErrors.ErrCodeRecordDecisionFailed)
	}

	result := constants.PipelineResultAccepted
	if replayed {
		result = constants.PipelineResultReplayed
		uc.log.WithContext(ctx).Infof("duplicate usage event, returning existing record: usage_event_id=%s, billing_record_id=%s",
			usage.UsageEventID, record.BillingRecordID)
		return record, result, nil
	}

	if m != nil {
		m.CalculateDuration.WithLabelValues(usage.ProductID).Observe(time.Since(startTime).Seconds())
		m.DecisionTotal.WithLabelValues(usage.ProductID, record.TierApplied).Inc()
		cost, _ := record.CostUSD.Float64()
		m.DecisionCostTotal.WithLabelValues(usage.ProductID).Add(cost)
	}
	uc.log.WithContext(ctx).Infof("billing decision recorded: usage_event_id=%s, billing_record_id=%s, cost_usd=%s, tokens=%d, tier=%s",
		usage.UsageEventID, record.BillingRecordID, record.CostUSD, record.TokenEquivalent, record.TierApplied)
	return record, result, nil
}

// HandleBillingCalculated 消费 billing.calculated 事件，驱动钱包扣款
// 所有终态结果（completed/insufficient_balance/failed）均视为处理完成，不重投
func (uc *BillingUseCase) HandleBillingCalculated(ctx context.Context, billingRecordID string) error {
	record, err := uc.recordRepo.GetByID(ctx, billingRecordID)
	if err != nil {
		return err
	}
	if record == nil {
		uc.log.WithContext(ctx).Warnf("billing record not found for debit: billing_record_id=%s", billingRecordID)
		return nil
	}

	err = uc.walletUC.ApplyDebit(ctx, record)
	if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrWalletFrozen) {
		return nil
	}
	return err
}

// ReplayUsageEvent 人工重放 failed 记录（如计价目录修正后）
// 原地将旧 failed 记录按当前目录重算为 calculated
func (uc *BillingUseCase) ReplayUsageEvent(ctx context.Context, usageEventID string) (*BillingRecord, error) {
	record, err := uc.recordRepo.GetByEventID(ctx, usageEventID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, meteringErrors.ErrCodeBillingRecordNotFound)
	}
	if record.Status != constants.StatusFailed {
		return nil, pkgErrors.WrapErrorWithLang(ctx, ErrReplayNotAllowed, meteringErrors.ErrCodeReplayNotAllowed)
	}

	usage, err := uc.usageRepo.GetUsageRecordByEventID(ctx, usageEventID)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, meteringErrors.ErrCodeUsageRecordNotFound)
	}

	rule, err := uc.pricingUC.GetActiveRule(ctx, usage.ProductID, usage.OccurredAt)
	if err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, meteringErrors.ErrCodePricingRuleNotFound)
	}

	record, err = uc.pipelineRepo.ReplayDecision(ctx, usage, rule)
	if err != nil {
		return nil, err
	}
	uc.log.WithContext(ctx).Infof("usage event replayed: usage_event_id=%s, billing_record_id=%s, status=%s",
		usageEventID, record.BillingRecordID, record.Status)
	return record, nil
}

// GetAccount 查询租户账户聚合视图（钱包 + 当期额度）
func (uc *BillingUseCase) GetAccount(ctx context.Context, tenantID string) (*AccountView, error) {
	periodID := CurrentPeriod(time.Now())

	wallet, err := uc.walletUC.GetWallet(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	quota, err := uc.quotaUC.GetOrCreate(ctx, tenantID, periodID)
	if err != nil {
		return nil, err
	}
	return &AccountView{
		TenantID: tenantID,
		Wallet:   wallet,
		Quota:    quota,
		PeriodID: periodID,
	}, nil
}

// ListBillingRecords 按条件查询计费记录
func (uc *BillingUseCase) ListBillingRecords(ctx context.Context, filter *BillingRecordFilter) ([]*BillingRecord, error) {
	return uc.recordRepo.ListBillingRecords(ctx, filter)
}
