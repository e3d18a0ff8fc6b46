package data

import (
	"context"
	"testing"

	"metering-service/internal/biz"
	"metering-service/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOutboxListMarkCount(t *testing.T) {
	d := newTestData(t)
	repo := NewOutboxRepo(d, testLogger())
	ctx := context.Background()

	require.NoError(t, d.db.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < 3; i++ {
			if err := insertOutboxEvent(tx, constants.EventTypeBillingCalculated, &biz.BillingCalculatedEvent{
				BillingRecordID: "rec-1",
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	events, err := repo.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// 按写入顺序投递
	assert.Less(t, events[0].ID, events[1].ID)
	assert.Less(t, events[1].ID, events[2].ID)

	require.NoError(t, repo.MarkPublished(ctx, []uint64{events[0].ID, events[1].ID}))

	remaining, err := repo.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, events[2].ID, remaining[0].ID)

	count, err := repo.CountUnpublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOutboxMarkPublishedEmpty(t *testing.T) {
	d := newTestData(t)
	repo := NewOutboxRepo(d, testLogger())
	assert.NoError(t, repo.MarkPublished(context.Background(), nil))
}
