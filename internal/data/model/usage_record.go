package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageRecord 用量记录表（审计用，落库后只读）
type UsageRecord struct {
	UsageRecordID string          `gorm:"primaryKey;type:varchar(36)"`
	UsageEventID  string          `gorm:"uniqueIndex;type:varchar(64);not null"` // 生产方分配的幂等键
	TenantID      string          `gorm:"type:varchar(36);not null;index"`
	ProductID     string          `gorm:"type:varchar(64);not null"`
	UnitType      string          `gorm:"type:varchar(16);not null"` // token/request/byte/minute
	Amount        decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	OccurredAt    time.Time       `gorm:"not null"`
	RawDetails    string          `gorm:"type:json"` // 原始载荷，仅作审计
	CreatedAt     time.Time       `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (UsageRecord) TableName() string {
	return "usage_records"
}
