package model

import (
	"time"
)

// OutboxEvent 事务发件箱表
// 与业务状态变更同事务写入，relay 按 id 顺序投递后标记 published
type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	EventType   string    `gorm:"type:varchar(64);not null"`
	Payload     string    `gorm:"type:json;not null"`
	Published   bool      `gorm:"not null;default:false;index"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	PublishedAt *time.Time
}

// TableName 指定表名
func (OutboxEvent) TableName() string {
	return "outbox"
}
