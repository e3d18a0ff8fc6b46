package data

import (
	"context"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

// outboxRepo 实现 biz.OutboxRepo 接口
// 事件写入发生在各业务事务内（见 pipeline/wallet repo），这里只负责
// relay 侧的拉取与标记
type outboxRepo struct {
	data *Data
	log  *log.Helper
}

// NewOutboxRepo 创建发件箱 repo
func NewOutboxRepo(data *Data, logger log.Logger) biz.OutboxRepo {
	return &outboxRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// ListUnpublished 按写入顺序拉取未投递事件
func (r *outboxRepo) ListUnpublished(ctx context.Context, limit int) ([]*biz.OutboxEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var recs []*model.OutboxEvent
	err := r.data.db.WithContext(ctx).
		Where("published = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]*biz.OutboxEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, &biz.OutboxEvent{
			ID:          rec.ID,
			EventType:   rec.EventType,
			Payload:     rec.Payload,
			Published:   rec.Published,
			CreatedAt:   rec.CreatedAt,
			PublishedAt: rec.PublishedAt,
		})
	}
	return out, nil
}

// MarkPublished 批量标记已投递
func (r *outboxRepo) MarkPublished(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	return r.data.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"published":    true,
			"published_at": now,
		}).Error
}

// CountUnpublished 未投递事件数（指标用）
func (r *outboxRepo) CountUnpublished(ctx context.Context) (int64, error) {
	var count int64
	err := r.data.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("published = ?", false).
		Count(&count).Error
	return count, err
}
