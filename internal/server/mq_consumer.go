package server

import (
	"context"
	"encoding/json"

	"metering-service/internal/biz"
	"metering-service/internal/conf"
	"metering-service/internal/constants"
	"metering-service/internal/metrics"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// UsageConsumerServer 消费上游生产方的 usage.recorded 事件
type UsageConsumerServer struct {
	c       rocketmq.PushConsumer
	uc      *biz.BillingUseCase
	conf    *conf.Data
	log     *log.Helper
	enabled bool
}

// NewUsageConsumerServer 创建用量事件消费者
func NewUsageConsumerServer(c *conf.Bootstrap, uc *biz.BillingUseCase, logger log.Logger) *UsageConsumerServer {
	helper := log.NewHelper(logger)
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		return &UsageConsumerServer{enabled: false, log: helper}
	}

	mq := c.Data.Rocketmq
	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
		consumer.WithGroupName(mq.GroupName+"_usage"),
		consumer.WithRetry(int(mq.RetryTimes)),
	)
	if err != nil {
		helper.Errorf("init usage consumer error: %v", err)
		return &UsageConsumerServer{enabled: false, log: helper}
	}

	return &UsageConsumerServer{
		c:       r,
		uc:      uc,
		conf:    c.Data,
		log:     helper,
		enabled: true,
	}
}

// Start 启动消费者
func (s *UsageConsumerServer) Start(ctx context.Context) error {
	if !s.enabled {
		s.log.Infof("UsageConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting UsageConsumerServer, topic: %s", s.conf.Rocketmq.UsageTopic)

	err := s.c.Subscribe(s.conf.Rocketmq.UsageTopic, consumer.MessageSelector{}, s.handler)
	if err != nil {
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.conf.Rocketmq.UsageTopic, err)
		// 不返回错误，避免导致整个应用启动失败
		// 在开发环境中，RocketMQ 可能不可用
		return nil
	}

	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start usage consumer: %v", err)
		return nil
	}
	return nil
}

// Stop 停止消费者
func (s *UsageConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping UsageConsumerServer")
	return s.c.Shutdown()
}

func (s *UsageConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	m := metrics.GetMetrics()

	for _, msg := range msgs {
		var event biz.UsageRecordedEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			s.log.Errorf("Unmarshal usage message failed: %v, body: %s", err, string(msg.Body))
			if m != nil {
				m.UsageConsumedTotal.WithLabelValues(constants.PipelineResultRejected).Inc()
			}
			// 格式非法的消息重投也无意义
			continue
		}

		record, result, err := s.uc.ProcessUsage(ctx, &event)
		if m != nil {
			m.UsageConsumedTotal.WithLabelValues(result).Inc()
		}
		if err != nil {
			// 校验拒绝与计价缺失属于确定性失败，已落库或拒绝，直接 ack；
			// 其余（数据库抖动等）未落任何记录，重投
			if result == constants.PipelineResultRejected || record != nil {
				continue
			}
			s.log.Errorf("ProcessUsage failed, will retry: usage_event_id=%s, err=%v", event.UsageEventID, err)
			return consumer.ConsumeRetryLater, nil
		}
	}
	return consumer.ConsumeSuccess, nil
}

// BillingEventConsumerServer 消费本服务发布的 billing.calculated 事件，驱动钱包扣款
type BillingEventConsumerServer struct {
	c       rocketmq.PushConsumer
	uc      *biz.BillingUseCase
	conf    *conf.Data
	log     *log.Helper
	enabled bool
}

// NewBillingEventConsumerServer 创建计费事件消费者
func NewBillingEventConsumerServer(c *conf.Bootstrap, uc *biz.BillingUseCase, logger log.Logger) *BillingEventConsumerServer {
	helper := log.NewHelper(logger)
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		return &BillingEventConsumerServer{enabled: false, log: helper}
	}

	mq := c.Data.Rocketmq
	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
		consumer.WithGroupName(mq.GroupName+"_debit"),
		consumer.WithRetry(int(mq.RetryTimes)),
	)
	if err != nil {
		helper.Errorf("init billing event consumer error: %v", err)
		return &BillingEventConsumerServer{enabled: false, log: helper}
	}

	return &BillingEventConsumerServer{
		c:       r,
		uc:      uc,
		conf:    c.Data,
		log:     helper,
		enabled: true,
	}
}

// Start 启动消费者（按 tag 只订阅 billing.calculated）
func (s *BillingEventConsumerServer) Start(ctx context.Context) error {
	if !s.enabled {
		s.log.Infof("BillingEventConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting BillingEventConsumerServer, topic: %s", s.conf.Rocketmq.EventsTopic)

	selector := consumer.MessageSelector{
		Type:       consumer.TAG,
		Expression: constants.EventTypeBillingCalculated,
	}
	err := s.c.Subscribe(s.conf.Rocketmq.EventsTopic, selector, s.handler)
	if err != nil {
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.conf.Rocketmq.EventsTopic, err)
		return nil
	}

	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start billing event consumer: %v", err)
		return nil
	}
	return nil
}

// Stop 停止消费者
func (s *BillingEventConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping BillingEventConsumerServer")
	return s.c.Shutdown()
}

func (s *BillingEventConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		var event biz.BillingCalculatedEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			s.log.Errorf("Unmarshal billing event failed: %v, body: %s", err, string(msg.Body))
			continue
		}

		// 余额不足/冻结等终态在 UseCase 内已落库，返回 nil 不重投
		if err := s.uc.HandleBillingCalculated(ctx, event.BillingRecordID); err != nil {
			s.log.Errorf("HandleBillingCalculated failed, will retry: billing_record_id=%s, err=%v", event.BillingRecordID, err)
			return consumer.ConsumeRetryLater, nil
		}
	}
	return consumer.ConsumeSuccess, nil
}
