package biz

import (
	"context"
	"time"
)

// OutboxEvent 发件箱事件领域对象
type OutboxEvent struct {
	ID          uint64
	EventType   string
	Payload     string
	Published   bool
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// OutboxRepo 发件箱数据层接口（定义在 biz 层）
// 事件行由业务事务内写入，relay 通过该接口拉取并标记
type OutboxRepo interface {
	ListUnpublished(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkPublished(ctx context.Context, ids []uint64) error
	CountUnpublished(ctx context.Context) (int64, error)
}

// EventPublisher 事件发布接口（MQ producer 的抽象，便于测试替换）
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte) error
}
