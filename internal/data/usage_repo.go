package data

import (
	"context"
	"encoding/json"
	"errors"

	"metering-service/internal/biz"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// usageRepo 实现 biz.UsageRepo 接口
// 用量写入在计费决策事务内完成（pipeline repo），这里只提供读取
type usageRepo struct {
	data *Data
	log  *log.Helper
}

// NewUsageRepo 创建用量记录 repo
func NewUsageRepo(data *Data, logger log.Logger) biz.UsageRepo {
	return &usageRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetUsageRecordByEventID 按用量事件 ID 查询，不存在返回 nil
func (r *usageRepo) GetUsageRecordByEventID(ctx context.Context, usageEventID string) (*biz.UsageRecord, error) {
	var rec model.UsageRecord
	err := r.data.db.WithContext(ctx).Where("usage_event_id = ?", usageEventID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var details map[string]interface{}
	if rec.RawDetails != "" {
		_ = json.Unmarshal([]byte(rec.RawDetails), &details)
	}
	return &biz.UsageRecord{
		UsageEventID: rec.UsageEventID,
		TenantID:     rec.TenantID,
		ProductID:    rec.ProductID,
		UnitType:     rec.UnitType,
		Amount:       rec.Amount,
		OccurredAt:   rec.OccurredAt,
		RawDetails:   details,
	}, nil
}
