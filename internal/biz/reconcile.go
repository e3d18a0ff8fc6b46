package biz

import (
	"context"
	"time"

	"metering-service/internal/conf"
	"metering-service/internal/constants"
	"metering-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// WalletAudit 单钱包的对账快照：当前余额与按流水重算的余额
type WalletAudit struct {
	WalletID        string
	TenantID        string
	Balance         int64
	ComputedBalance int64
	Status          string
}

// Drift 余额漂移量（balance - computed）
func (a *WalletAudit) Drift() int64 {
	return a.Balance - a.ComputedBalance
}

// ReconcileRepo 对账数据层接口（定义在 biz 层）
type ReconcileRepo interface {
	// ListWalletAudits 按流水 SUM 重算每个钱包的期望余额
	ListWalletAudits(ctx context.Context) ([]*WalletAudit, error)
	// CorrectWallet 将余额修正为重算值并留存零金额 adjustment 流水（单事务）
	CorrectWallet(ctx context.Context, audit *WalletAudit) error
	// FreezeWallet 冻结漂移钱包，人工介入前拒绝扣款
	FreezeWallet(ctx context.Context, walletID string) error
}

// ReconcileReport 一次对账运行的汇总结果
type ReconcileReport struct {
	WalletsChecked int
	DriftsFound    int
	Corrected      int
	Frozen         int
	TotalDriftAbs  int64
}

// ReconciliationUseCase 对账业务逻辑
// 定时重算所有钱包余额，漂移按配置 correct（写调整流水修正）或 freeze（冻结待人工处理）
type ReconciliationUseCase struct {
	repo ReconcileRepo
	mode string
	log  *log.Helper
}

// NewReconciliationUseCase 创建对账 UseCase
func NewReconciliationUseCase(repo ReconcileRepo, bc *conf.Bootstrap, logger log.Logger) *ReconciliationUseCase {
	mode := constants.ReconcileModeCorrect
	if bc != nil && bc.Reconciliation != nil && bc.Reconciliation.Mode == constants.ReconcileModeFreeze {
		mode = constants.ReconcileModeFreeze
	}
	return &ReconciliationUseCase{
		repo: repo,
		mode: mode,
		log:  log.NewHelper(logger),
	}
}

// Run 执行一轮对账
func (uc *ReconciliationUseCase) Run(ctx context.Context) (*ReconcileReport, error) {
	startTime := time.Now()
	m := metrics.GetMetrics()

	audits, err := uc.repo.ListWalletAudits(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{WalletsChecked: len(audits)}
	for _, audit := range audits {
		drift := audit.Drift()
		if drift == 0 {
			continue
		}
		report.DriftsFound++
		report.TotalDriftAbs += abs64(drift)
		uc.log.WithContext(ctx).Warnf("wallet drift detected: wallet_id=%s, tenant_id=%s, balance=%d, computed=%d, drift=%d",
			audit.WalletID, audit.TenantID, audit.Balance, audit.ComputedBalance, drift)

		switch uc.mode {
		case constants.ReconcileModeFreeze:
			if err := uc.repo.FreezeWallet(ctx, audit.WalletID); err != nil {
				uc.log.WithContext(ctx).Errorf("freeze wallet failed: wallet_id=%s, err=%v", audit.WalletID, err)
				continue
			}
			report.Frozen++
			if m != nil {
				m.WalletDriftTotal.WithLabelValues("frozen").Inc()
			}
		default:
			if err := uc.repo.CorrectWallet(ctx, audit); err != nil {
				uc.log.WithContext(ctx).Errorf("correct wallet failed: wallet_id=%s, err=%v", audit.WalletID, err)
				continue
			}
			report.Corrected++
			if m != nil {
				m.WalletDriftTotal.WithLabelValues("corrected").Inc()
			}
		}
	}

	if m != nil {
		m.ReconcileDuration.Observe(time.Since(startTime).Seconds())
		m.ReconcileWalletsTotal.Add(float64(report.WalletsChecked))
		m.WalletDriftGauge.Set(float64(report.TotalDriftAbs))
	}
	uc.log.WithContext(ctx).Infof("reconciliation done: checked=%d, drifts=%d, corrected=%d, frozen=%d, elapsed=%v",
		report.WalletsChecked, report.DriftsFound, report.Corrected, report.Frozen, time.Since(startTime))
	return report, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
