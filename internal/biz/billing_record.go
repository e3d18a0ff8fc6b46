package biz

import (
	"context"
	"errors"
	"time"

	"metering-service/internal/constants"

	"github.com/shopspring/decimal"
)

// ErrRecordTerminal 计费记录已处于终态，状态变更被拒绝
var ErrRecordTerminal = errors.New("billing record in terminal status")

// BillingRecord 计费记录领域对象（每个 usage_event_id 最多一条）
type BillingRecord struct {
	BillingRecordID    string
	UsageEventID       string
	TenantID           string
	ProductID          string
	PeriodID           string
	CostUSD            decimal.Decimal
	TokenEquivalent    int64
	FreeTokens         int64
	SubscriptionTokens int64
	WalletTokens       int64
	TierApplied        string
	Status             string
	FailReason         string
	ProcessedAt        *time.Time
	CreatedAt          time.Time
}

// Terminal 判断记录是否处于终态（completed / insufficient_balance / failed）
func (r *BillingRecord) Terminal() bool {
	switch r.Status {
	case constants.StatusCompleted, constants.StatusInsufficientBalance, constants.StatusFailed:
		return true
	}
	return false
}

// NeedsDebit 记录是否还需要钱包扣款
func (r *BillingRecord) NeedsDebit() bool {
	return r.Status == constants.StatusCalculated && r.WalletTokens > 0
}

// BillingRecordFilter 计费记录查询条件
type BillingRecordFilter struct {
	TenantID string
	Status   string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// BillingRecordRepo 计费记录数据层接口（定义在 biz 层）
// 状态推进带 WHERE status 守卫，终态不可逆
type BillingRecordRepo interface {
	GetByEventID(ctx context.Context, usageEventID string) (*BillingRecord, error)
	GetByID(ctx context.Context, billingRecordID string) (*BillingRecord, error)
	ListBillingRecords(ctx context.Context, filter *BillingRecordFilter) ([]*BillingRecord, error)
	// CompleteWithoutDebit 将无需钱包扣款的 calculated 记录直接置为 completed
	CompleteWithoutDebit(ctx context.Context, billingRecordID string) error
	// MarkFailed 将记录置为 failed 并记录原因（重试耗尽等）
	MarkFailed(ctx context.Context, billingRecordID, reason string) error
}
