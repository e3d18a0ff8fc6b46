package model

import (
	"time"
)

// QuotaState 配额状态表（租户 + 计费周期维度）
type QuotaState struct {
	QuotaStateID          string    `gorm:"primaryKey;type:varchar(36)"`
	TenantID              string    `gorm:"type:varchar(36);not null;uniqueIndex:uk_tenant_period,priority:1"`
	PeriodID              string    `gorm:"type:varchar(7);not null;uniqueIndex:uk_tenant_period,priority:2"` // 2026-09
	FreeTierRemaining     int64     `gorm:"default:0"`
	SubscriptionRemaining int64     `gorm:"default:0"`
	CreatedAt             time.Time `gorm:"autoCreateTime"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (QuotaState) TableName() string {
	return "quota_states"
}
