package biz

import (
	"testing"
	"time"

	"metering-service/internal/constants"

	"github.com/stretchr/testify/assert"
)

func TestBillingRecordTerminal(t *testing.T) {
	cases := []struct {
		status   string
		terminal bool
	}{
		{constants.StatusPending, false},
		{constants.StatusCalculated, false},
		{constants.StatusCompleted, true},
		{constants.StatusInsufficientBalance, true},
		{constants.StatusFailed, true},
	}
	for _, tc := range cases {
		r := &BillingRecord{Status: tc.status}
		assert.Equal(t, tc.terminal, r.Terminal(), "status=%s", tc.status)
	}
}

func TestBillingRecordNeedsDebit(t *testing.T) {
	assert.True(t, (&BillingRecord{Status: constants.StatusCalculated, WalletTokens: 30}).NeedsDebit())
	assert.False(t, (&BillingRecord{Status: constants.StatusCalculated, WalletTokens: 0}).NeedsDebit())
	assert.False(t, (&BillingRecord{Status: constants.StatusCompleted, WalletTokens: 30}).NeedsDebit())
	assert.False(t, (&BillingRecord{Status: constants.StatusFailed, WalletTokens: 30}).NeedsDebit())
}

func TestCurrentPeriod(t *testing.T) {
	assert.Equal(t, "2026-09", CurrentPeriod(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-01", CurrentPeriod(time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)))
}
