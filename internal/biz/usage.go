package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metering-service/internal/constants"

	"github.com/shopspring/decimal"
)

// ErrInvalidUsage 用量载荷校验失败（不重试，直接拒绝）
var ErrInvalidUsage = errors.New("invalid usage payload")

// UsageRecord 标准化后的用量记录领域对象
type UsageRecord struct {
	UsageEventID string
	TenantID     string
	ProductID    string
	UnitType     string
	Amount       decimal.Decimal
	OccurredAt   time.Time
	RawDetails   map[string]interface{}
}

// UsageRepo 用量记录数据层接口（定义在 biz 层）
// 写入发生在计费决策事务内，这里只提供审计读取
type UsageRepo interface {
	GetUsageRecordByEventID(ctx context.Context, usageEventID string) (*UsageRecord, error)
}

var validUnitTypes = map[string]bool{
	constants.UnitTypeToken:   true,
	constants.UnitTypeRequest: true,
	constants.UnitTypeByte:    true,
	constants.UnitTypeMinute:  true,
}

// NormalizeUsage 将异构生产方载荷标准化为 UsageRecord（纯转换，无副作用）
// 必填字段缺失、amount 为负或单位未知时返回 ErrInvalidUsage
func NormalizeUsage(evt *UsageRecordedEvent) (*UsageRecord, error) {
	if evt == nil {
		return nil, fmt.Errorf("%w: empty event", ErrInvalidUsage)
	}
	if evt.UsageEventID == "" {
		return nil, fmt.Errorf("%w: missing usage_event_id", ErrInvalidUsage)
	}
	if evt.TenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant_id", ErrInvalidUsage)
	}
	if evt.ProductID == "" {
		return nil, fmt.Errorf("%w: missing product_id", ErrInvalidUsage)
	}
	if !validUnitTypes[evt.UnitType] {
		return nil, fmt.Errorf("%w: unknown unit_type %q", ErrInvalidUsage, evt.UnitType)
	}
	if evt.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidUsage, evt.Amount)
	}

	occurredAt := evt.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	return &UsageRecord{
		UsageEventID: evt.UsageEventID,
		TenantID:     evt.TenantID,
		ProductID:    evt.ProductID,
		UnitType:     evt.UnitType,
		Amount:       evt.Amount,
		OccurredAt:   occurredAt,
		RawDetails:   evt.Details,
	}, nil
}
