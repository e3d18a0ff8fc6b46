package model

import (
	"time"
)

// Wallet 钱包余额表
// balance 为 token 单位的非负整数，version 为乐观锁版本号，
// 每次余额变更 version 严格 +1
type Wallet struct {
	WalletID  string    `gorm:"primaryKey;type:varchar(36)"`
	TenantID  string    `gorm:"uniqueIndex;type:varchar(36);not null"`
	Balance   int64     `gorm:"not null;default:0"`
	Version   int64     `gorm:"not null;default:0"`
	Status    string    `gorm:"type:varchar(16);not null;default:'active'"` // active/frozen
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Wallet) TableName() string {
	return "wallets"
}
