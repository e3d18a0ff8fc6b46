package errors

import (
	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	i18nPkg "github.com/gaoyong06/go-pkg/middleware/i18n"
)

func init() {
	// 初始化全局错误管理器（使用项目特定的配置）
	pkgErrors.InitGlobalErrorManager("i18n", i18nPkg.Language)
}

// Metering Service 错误码定义
// 错误码格式：SSMMEE (6位数字)
//   SS: 服务标识，Metering 固定为 21
//   MM: 模块标识，按业务划分
//   EE: 模块内错误序号
//
// 模块划分：
//   00: 通用模块（复用 go-pkg 通用错误码）
//   01: 用量模块
//   02: 计价模块
//   03: 配额模块
//   04: 计费记录模块
//   05: 钱包模块
//   06: 发件箱模块
//   07: 对账模块
//   08-99: 预留扩展

// 用量模块错误码 (210100-210199)
const (
	// ErrCodeInvalidUsagePayload 用量事件格式非法
	ErrCodeInvalidUsagePayload = 210101
	// ErrCodeUsageRecordNotFound 用量记录不存在
	ErrCodeUsageRecordNotFound = 210102
)

// 计价模块错误码 (210200-210299)
const (
	// ErrCodePricingRuleNotFound 产品无生效计价规则
	ErrCodePricingRuleNotFound = 210201
	// ErrCodePricingRuleCreateFailed 计价规则创建失败
	ErrCodePricingRuleCreateFailed = 210202
)

// 配额模块错误码 (210300-210399)
const (
	// ErrCodeQuotaStateCreateFailed 配额记录创建失败
	ErrCodeQuotaStateCreateFailed = 210301
	// ErrCodeQuotaRolloverFailed 配额周期滚动失败
	ErrCodeQuotaRolloverFailed = 210302
	// ErrCodeListTenantsFailed 获取租户列表失败
	ErrCodeListTenantsFailed = 210303
)

// 计费记录模块错误码 (210400-210499)
const (
	// ErrCodeBillingRecordNotFound 计费记录不存在
	ErrCodeBillingRecordNotFound = 210401
	// ErrCodeRecordDecisionFailed 计费决策落库失败
	ErrCodeRecordDecisionFailed = 210402
	// ErrCodeReplayNotAllowed 记录状态不允许重放
	ErrCodeReplayNotAllowed = 210403
)

// 钱包模块错误码 (210500-210599)
const (
	// ErrCodeWalletNotFound 钱包不存在
	ErrCodeWalletNotFound = 210501
	// ErrCodeInsufficientBalance 余额不足
	ErrCodeInsufficientBalance = 210502
	// ErrCodeDebitConflictExhausted 扣款乐观锁重试耗尽
	ErrCodeDebitConflictExhausted = 210503
	// ErrCodeWalletFrozen 钱包已冻结
	ErrCodeWalletFrozen = 210504
	// ErrCodeCreditFailed 充值入账失败
	ErrCodeCreditFailed = 210505
)

// 发件箱模块错误码 (210600-210699)
const (
	// ErrCodeOutboxPublishFailed 发件箱投递失败
	ErrCodeOutboxPublishFailed = 210601
)

// 对账模块错误码 (210700-210799)
const (
	// ErrCodeReconcileFailed 对账任务失败
	ErrCodeReconcileFailed = 210701
	// ErrCodeReconcileCorrectFailed 余额回写失败
	ErrCodeReconcileCorrectFailed = 210702
)

// 统计模块错误码 (210800-210899)
const (
	// ErrCodeGetSpendFailed 获取消费统计失败
	ErrCodeGetSpendFailed = 210801
)
