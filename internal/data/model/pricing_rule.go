package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingRule 计价规则表
// 同一产品同一时刻只允许一条生效规则：创建新规则时把旧规则的
// effective_to 截断到新规则的 effective_from
type PricingRule struct {
	PricingRuleID          string          `gorm:"primaryKey;type:varchar(36)"`
	ProductID              string          `gorm:"type:varchar(64);not null;index:idx_product_effective,priority:1"`
	UnitPriceUSD           decimal.Decimal `gorm:"type:decimal(16,8);not null"`
	TokenEquivalenceFactor decimal.Decimal `gorm:"type:decimal(16,6);not null"`
	FreeTierAllotment      int64           `gorm:"default:0"`
	EffectiveFrom          time.Time       `gorm:"not null;index:idx_product_effective,priority:2"`
	EffectiveTo            *time.Time      // 空表示当前生效
	CreatedAt              time.Time       `gorm:"autoCreateTime"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (PricingRule) TableName() string {
	return "pricing_rules"
}
