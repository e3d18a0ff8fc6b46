package constants

// 时间格式常量
const (
	// TimeFormatPeriod 计费周期格式 (YYYY-MM)
	TimeFormatPeriod = "2006-01"
)

// Redis Key 前缀常量
const (
	// RedisKeyWalletBalance 钱包余额缓存 key 前缀
	RedisKeyWalletBalance = "wallet:balance:"
	// RedisKeyPricingRule 计价规则缓存 key 前缀
	RedisKeyPricingRule = "pricing:rule:"
	// RedisKeyReconcileLock 对账任务互斥锁 key
	RedisKeyReconcileLock = "reconcile:lock"
	// RedisKeyRolloverLock 配额滚动任务互斥锁 key
	RedisKeyRolloverLock = "quota:rollover:lock"
)

// 用量单位常量
const (
	// UnitTypeToken token 用量
	UnitTypeToken = "token"
	// UnitTypeRequest 请求次数用量
	UnitTypeRequest = "request"
	// UnitTypeByte 字节用量
	UnitTypeByte = "byte"
	// UnitTypeMinute 分钟用量
	UnitTypeMinute = "minute"
)

// 计费档位常量（配额瀑布的三档）
const (
	// TierFree 免费额度
	TierFree = "free"
	// TierSubscription 订阅内含额度
	TierSubscription = "subscription"
	// TierWallet 钱包余额扣费
	TierWallet = "wallet"
)

// 计费记录状态常量
const (
	// StatusPending 待计算（落库前的内存状态）
	StatusPending = "pending"
	// StatusCalculated 已计算（随事务提交写入）
	StatusCalculated = "calculated"
	// StatusCompleted 已完成（终态）
	StatusCompleted = "completed"
	// StatusInsufficientBalance 余额不足（终态）
	StatusInsufficientBalance = "insufficient_balance"
	// StatusFailed 失败（终态，需人工重放）
	StatusFailed = "failed"
)

// 钱包状态常量
const (
	// WalletStatusActive 正常
	WalletStatusActive = "active"
	// WalletStatusFrozen 冻结（对账发现漂移后待人工处理）
	WalletStatusFrozen = "frozen"
)

// 流水类型常量
const (
	// TransactionTypeDebit 扣款
	TransactionTypeDebit = "debit"
	// TransactionTypeCredit 充值
	TransactionTypeCredit = "credit"
	// TransactionTypeRefund 退款
	TransactionTypeRefund = "refund"
	// TransactionTypeAdjustment 对账调整
	TransactionTypeAdjustment = "adjustment"
)

// 事件类型常量
const (
	// EventTypeUsageRecorded 入站用量事件
	EventTypeUsageRecorded = "usage.recorded"
	// EventTypeBillingCalculated 计费决策已提交
	EventTypeBillingCalculated = "billing.calculated"
	// EventTypeTokensDeducted 钱包扣款成功
	EventTypeTokensDeducted = "wallet.tokens.deducted"
	// EventTypeTokensInsufficient 钱包余额不足
	EventTypeTokensInsufficient = "wallet.tokens.insufficient"
)

// 对账模式常量
const (
	// ReconcileModeCorrect 自动回写余额
	ReconcileModeCorrect = "correct"
	// ReconcileModeFreeze 冻结钱包待人工处理
	ReconcileModeFreeze = "freeze"
)

// 统计周期常量
const (
	// StatsPeriodToday 今日
	StatsPeriodToday = "today"
	// StatsPeriodMonth 本月
	StatsPeriodMonth = "month"
)

// 管道处理结果常量（用于指标）
const (
	// PipelineResultAccepted 正常受理
	PipelineResultAccepted = "accepted"
	// PipelineResultReplayed 幂等重放命中
	PipelineResultReplayed = "replayed"
	// PipelineResultRejected 校验拒绝
	PipelineResultRejected = "rejected"
	// PipelineResultFailed 决策失败
	PipelineResultFailed = "failed"
)
