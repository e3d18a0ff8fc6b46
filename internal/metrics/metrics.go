package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MeteringMetrics 计量计费管道指标
type MeteringMetrics struct {
	// 用量消费相关指标
	UsageConsumedTotal *prometheus.CounterVec   // 用量事件处理总数（按结果：accepted/replayed/rejected/failed）
	CalculateDuration  *prometheus.HistogramVec // 计费决策耗时（按产品）

	// 决策相关指标
	DecisionTotal     *prometheus.CounterVec // 计费决策总数（按产品、档位）
	DecisionCostTotal *prometheus.CounterVec // 钱包档计费金额累计（USD，按产品）

	// 扣款相关指标
	DebitTotal      *prometheus.CounterVec // 扣款总数（按结果：completed/insufficient/conflict_exhausted）
	DebitDuration   prometheus.Histogram   // 扣款耗时
	DebitRetryTotal prometheus.Counter     // 扣款乐观锁重试次数
	CreditTotal     *prometheus.CounterVec // 充值总数（按结果）

	// 钱包相关指标
	BalanceLowAlert prometheus.Gauge // 余额低水位告警

	// 发件箱相关指标
	OutboxPublishedTotal *prometheus.CounterVec // 发件箱投递总数（按事件类型）
	OutboxPendingGauge   prometheus.Gauge       // 未投递事件数

	// 对账相关指标
	ReconcileDuration     prometheus.Histogram   // 对账扫描耗时
	ReconcileWalletsTotal prometheus.Counter     // 对账扫描钱包数
	WalletDriftTotal      *prometheus.CounterVec // 漂移处理总数（按动作：corrected/frozen）
	WalletDriftGauge      prometheus.Gauge       // 最近一轮对账发现的漂移钱包数
}

// NewMeteringMetrics 创建计量计费指标
func NewMeteringMetrics() *MeteringMetrics {
	return &MeteringMetrics{
		UsageConsumedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_usage_consumed_total",
				Help: "Total number of usage events consumed",
			},
			[]string{"result"}, // result: accepted/replayed/rejected/failed
		),
		CalculateDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metering_calculate_duration_seconds",
				Help:    "Duration of billing decision calculation and persistence",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"product"},
		),

		DecisionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_decision_total",
				Help: "Total number of billing decisions",
			},
			[]string{"product", "tier"}, // tier: free/subscription/wallet
		),
		DecisionCostTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_decision_cost_usd_total",
				Help: "Total wallet-tier cost in USD",
			},
			[]string{"product"},
		),

		DebitTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_wallet_debit_total",
				Help: "Total number of wallet debit attempts",
			},
			[]string{"result"}, // result: completed/insufficient/conflict_exhausted
		),
		DebitDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "metering_wallet_debit_duration_seconds",
				Help:    "Duration of wallet debit operations",
				Buckets: prometheus.DefBuckets,
			},
		),
		DebitRetryTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "metering_wallet_debit_retry_total",
				Help: "Total number of optimistic lock retries during debit",
			},
		),
		CreditTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_wallet_credit_total",
				Help: "Total number of wallet credit operations",
			},
			[]string{"result"}, // result: success/replayed/failed
		),

		BalanceLowAlert: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "metering_wallet_balance_low_alert",
				Help: "Set to 1 when a debited wallet drops below the low-balance threshold",
			},
		),

		OutboxPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_outbox_published_total",
				Help: "Total number of outbox events published to the bus",
			},
			[]string{"event_type"},
		),
		OutboxPendingGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "metering_outbox_pending",
				Help: "Number of outbox events not yet published",
			},
		),

		ReconcileDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "metering_reconcile_duration_seconds",
				Help:    "Duration of reconciliation sweeps",
				Buckets: prometheus.DefBuckets,
			},
		),
		ReconcileWalletsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "metering_reconcile_wallets_total",
				Help: "Total number of wallets checked by reconciliation",
			},
		),
		WalletDriftTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_wallet_drift_total",
				Help: "Total number of wallet balance drifts handled",
			},
			[]string{"action"}, // action: corrected/frozen
		),
		WalletDriftGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "metering_wallet_drift",
				Help: "Number of drifted wallets found in the last reconciliation sweep",
			},
		),
	}
}

// 全局指标实例
var defaultMetrics *MeteringMetrics

// InitMetrics 初始化全局指标
func InitMetrics() {
	defaultMetrics = NewMeteringMetrics()
}

// GetMetrics 获取全局指标实例
func GetMetrics() *MeteringMetrics {
	if defaultMetrics == nil {
		InitMetrics()
	}
	return defaultMetrics
}
