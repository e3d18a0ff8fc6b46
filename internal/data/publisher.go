package data

import (
	"context"
	"fmt"

	"metering-service/internal/biz"
	"metering-service/internal/conf"
	"metering-service/internal/metrics"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
)

// mqPublisher 实现 biz.EventPublisher，把领域事件投递到 RocketMQ
// 事件类型作为消息 tag，下游按 tag 过滤订阅
type mqPublisher struct {
	p       rocketmq.Producer
	topic   string
	log     *log.Helper
	enabled bool
}

// NewEventPublisher 创建事件发布器
// RocketMQ 未启用或初始化失败时降级为禁用（开发环境 MQ 可能不可用）
func NewEventPublisher(c *conf.Bootstrap, logger log.Logger) (biz.EventPublisher, func(), error) {
	helper := log.NewHelper(logger)
	noop := func() {}

	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		helper.Info("event publisher disabled")
		return &mqPublisher{enabled: false, log: helper}, noop, nil
	}

	mq := c.Data.Rocketmq
	p, err := rocketmq.NewProducer(
		producer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
		producer.WithGroupName(mq.GroupName),
		producer.WithRetry(int(mq.RetryTimes)),
	)
	if err != nil {
		helper.Errorf("init producer error: %v", err)
		return &mqPublisher{enabled: false, log: helper}, noop, nil
	}
	if err := p.Start(); err != nil {
		helper.Errorf("start producer error: %v", err)
		return &mqPublisher{enabled: false, log: helper}, noop, nil
	}

	cleanup := func() {
		if err := p.Shutdown(); err != nil {
			helper.Errorf("shutdown producer error: %v", err)
		}
	}
	return &mqPublisher{
		p:       p,
		topic:   mq.EventsTopic,
		log:     helper,
		enabled: true,
	}, cleanup, nil
}

// Publish 投递事件，eventType 作为 tag
func (pub *mqPublisher) Publish(ctx context.Context, eventType string, payload []byte) error {
	if !pub.enabled {
		pub.log.WithContext(ctx).Debugf("publisher disabled, dropping event: type=%s", eventType)
		return nil
	}

	msg := primitive.NewMessage(pub.topic, payload).WithTag(eventType)
	result, err := pub.p.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("send event %s: %w", eventType, err)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.OutboxPublishedTotal.WithLabelValues(eventType).Inc()
	}
	pub.log.WithContext(ctx).Debugf("event published: type=%s, msg_id=%s", eventType, result.MsgID)
	return nil
}
