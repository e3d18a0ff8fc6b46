package biz

import (
	"testing"
	"time"

	"metering-service/internal/constants"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validUsageEvent() *UsageRecordedEvent {
	return &UsageRecordedEvent{
		UsageEventID: "evt-123",
		TenantID:     "tenant-1",
		ProductID:    "llm-chat",
		Amount:       decimal.NewFromInt(100),
		UnitType:     constants.UnitTypeToken,
		OccurredAt:   time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC),
		Details:      map[string]interface{}{"model": "large-v3"},
	}
}

func TestNormalizeUsageValid(t *testing.T) {
	usage, err := NormalizeUsage(validUsageEvent())
	require.NoError(t, err)

	assert.Equal(t, "evt-123", usage.UsageEventID)
	assert.Equal(t, "tenant-1", usage.TenantID)
	assert.Equal(t, constants.UnitTypeToken, usage.UnitType)
	assert.True(t, usage.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "large-v3", usage.RawDetails["model"])
}

func TestNormalizeUsageMissingFields(t *testing.T) {
	for _, mutate := range []func(*UsageRecordedEvent){
		func(e *UsageRecordedEvent) { e.UsageEventID = "" },
		func(e *UsageRecordedEvent) { e.TenantID = "" },
		func(e *UsageRecordedEvent) { e.ProductID = "" },
	} {
		evt := validUsageEvent()
		mutate(evt)
		_, err := NormalizeUsage(evt)
		assert.ErrorIs(t, err, ErrInvalidUsage)
	}
}

func TestNormalizeUsageUnknownUnitType(t *testing.T) {
	evt := validUsageEvent()
	evt.UnitType = "gallon"
	_, err := NormalizeUsage(evt)
	assert.ErrorIs(t, err, ErrInvalidUsage)
}

func TestNormalizeUsageNegativeAmount(t *testing.T) {
	evt := validUsageEvent()
	evt.Amount = decimal.NewFromInt(-1)
	_, err := NormalizeUsage(evt)
	assert.ErrorIs(t, err, ErrInvalidUsage)
}

func TestNormalizeUsageZeroAmountAllowed(t *testing.T) {
	evt := validUsageEvent()
	evt.Amount = decimal.Zero
	_, err := NormalizeUsage(evt)
	assert.NoError(t, err)
}

func TestNormalizeUsageDefaultsOccurredAt(t *testing.T) {
	evt := validUsageEvent()
	evt.OccurredAt = time.Time{}
	usage, err := NormalizeUsage(evt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), usage.OccurredAt, time.Minute)
}

func TestNormalizeUsageNil(t *testing.T) {
	_, err := NormalizeUsage(nil)
	assert.ErrorIs(t, err, ErrInvalidUsage)
}
