package server

import (
	"context"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/conf"
	"metering-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// OutboxRelayServer 发件箱投递循环
// 按写入顺序批量拉取未投递事件、发到 MQ、标记已投递；
// 投递失败时本轮中断，下一轮从断点继续（至少一次语义）
type OutboxRelayServer struct {
	repo      biz.OutboxRepo
	publisher biz.EventPublisher
	interval  time.Duration
	batchSize int
	log       *log.Helper
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewOutboxRelayServer 创建发件箱投递服务
func NewOutboxRelayServer(c *conf.Bootstrap, repo biz.OutboxRepo, publisher biz.EventPublisher, logger log.Logger) *OutboxRelayServer {
	interval := 2 * time.Second
	batchSize := 100
	if c.Data != nil && c.Data.Outbox != nil {
		if c.Data.Outbox.Interval > 0 {
			interval = c.Data.Outbox.Interval.AsDuration()
		}
		if c.Data.Outbox.BatchSize > 0 {
			batchSize = int(c.Data.Outbox.BatchSize)
		}
	}
	return &OutboxRelayServer{
		repo:      repo,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		log:       log.NewHelper(logger),
		done:      make(chan struct{}),
	}
}

// Start 启动投递循环
func (s *OutboxRelayServer) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.log.Infof("Starting OutboxRelayServer, interval: %v, batch: %d", s.interval, s.batchSize)
	go s.loop(loopCtx)
	return nil
}

// Stop 停止投递循环
func (s *OutboxRelayServer) Stop(ctx context.Context) error {
	s.log.Info("Stopping OutboxRelayServer")
	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return nil
}

func (s *OutboxRelayServer) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Drain(ctx); err != nil {
				s.log.Errorf("outbox drain failed: %v", err)
			}
		}
	}
}

// Drain 执行一轮投递，全部投完或遇到失败为止
func (s *OutboxRelayServer) Drain(ctx context.Context) error {
	m := metrics.GetMetrics()

	for {
		events, err := s.repo.ListUnpublished(ctx, s.batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			break
		}

		published := make([]uint64, 0, len(events))
		for _, evt := range events {
			if err := s.publisher.Publish(ctx, evt.EventType, []byte(evt.Payload)); err != nil {
				// 顺序投递：失败即中断，已成功的先标记
				s.log.Errorf("publish event failed: id=%d, type=%s, err=%v", evt.ID, evt.EventType, err)
				if markErr := s.repo.MarkPublished(ctx, published); markErr != nil {
					s.log.Errorf("mark published failed: %v", markErr)
				}
				return err
			}
			published = append(published, evt.ID)
		}
		if err := s.repo.MarkPublished(ctx, published); err != nil {
			return err
		}
		if len(events) < s.batchSize {
			break
		}
	}

	if m != nil {
		if pending, err := s.repo.CountUnpublished(ctx); err == nil {
			m.OutboxPendingGauge.Set(float64(pending))
		}
	}
	return nil
}
