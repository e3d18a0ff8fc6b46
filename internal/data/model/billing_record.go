package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingRecord 计费记录表
// usage_event_id 上的唯一索引是整条管道的幂等护栏
type BillingRecord struct {
	BillingRecordID    string          `gorm:"primaryKey;type:varchar(36)"`
	UsageEventID       string          `gorm:"uniqueIndex;type:varchar(64);not null"`
	TenantID           string          `gorm:"type:varchar(36);not null;index:idx_tenant_date,priority:1"`
	ProductID          string          `gorm:"type:varchar(64);not null"`
	PeriodID           string          `gorm:"type:varchar(7);not null"`
	CostUSD            decimal.Decimal `gorm:"type:decimal(16,6);default:0"`
	TokenEquivalent    int64           `gorm:"default:0"`
	FreeTokens         int64           `gorm:"default:0"` // 免费档吸收的 token 数
	SubscriptionTokens int64           `gorm:"default:0"` // 订阅档吸收的 token 数
	WalletTokens       int64           `gorm:"default:0"` // 钱包档待扣的 token 数
	TierApplied        string          `gorm:"type:varchar(16);not null"`
	Status             string          `gorm:"type:varchar(24);not null;index"`
	FailReason         string          `gorm:"type:varchar(255)"`
	CreatedAt          time.Time       `gorm:"autoCreateTime;index:idx_tenant_date,priority:2"`
	ProcessedAt        *time.Time
}

// TableName 指定表名
func (BillingRecord) TableName() string {
	return "billing_records"
}
