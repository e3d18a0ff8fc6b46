package model

import (
	"time"
)

// Transaction 钱包流水表（只追加）
// balance_after 与 balance_before 的差必须等于按类型取符号后的 amount，
// 对账任务依赖该不变量重算余额
type Transaction struct {
	TransactionID   string    `gorm:"primaryKey;type:varchar(36)"`
	WalletID        string    `gorm:"type:varchar(36);not null;index:idx_wallet_date,priority:1"`
	Type            string    `gorm:"type:varchar(16);not null"` // debit/credit/refund/adjustment
	Amount          int64     `gorm:"not null"`                  // adjustment 可为负，其余恒为正
	BalanceBefore   int64     `gorm:"not null"`
	BalanceAfter    int64     `gorm:"not null"`
	BillingRecordID *string   `gorm:"type:varchar(36);index"`
	Reference       *string   `gorm:"type:varchar(64);uniqueIndex"` // 充值/退款的外部幂等引用
	CreatedAt       time.Time `gorm:"autoCreateTime;index:idx_wallet_date,priority:2"`
}

// TableName 指定表名
func (Transaction) TableName() string {
	return "transactions"
}
