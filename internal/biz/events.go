package biz

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageRecordedEvent is the inbound usage.recorded message emitted by producers.
// usage_event_id is the producer-assigned idempotency key; retries must reuse it.
type UsageRecordedEvent struct {
	UsageEventID string                 `json:"usage_event_id"`
	TenantID     string                 `json:"tenant_id"`
	ProductID    string                 `json:"product_id"`
	Amount       decimal.Decimal        `json:"amount"`
	UnitType     string                 `json:"unit_type"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Details      map[string]interface{} `json:"details"`
}

// BillingCalculatedEvent is published after a billing decision commits.
type BillingCalculatedEvent struct {
	BillingRecordID          string          `json:"billing_record_id"`
	UsageEventID             string          `json:"usage_event_id"`
	TenantID                 string          `json:"tenant_id"`
	CostUSD                  decimal.Decimal `json:"cost_usd"`
	TokenEquivalent          int64           `json:"token_equivalent"`
	TierApplied              string          `json:"tier_applied"`
	IsFreeTier               bool            `json:"is_free_tier"`
	IsIncludedInSubscription bool            `json:"is_included_in_subscription"`
}

// TokensDeductedEvent is published after a successful wallet debit.
type TokensDeductedEvent struct {
	TenantID        string `json:"tenant_id"`
	BillingRecordID string `json:"billing_record_id"`
	TransactionID   string `json:"transaction_id"`
	TokensDeducted  int64  `json:"tokens_deducted"`
	BalanceBefore   int64  `json:"balance_before"`
	BalanceAfter    int64  `json:"balance_after"`
}

// TokensInsufficientEvent is published when a wallet-tier charge cannot be covered.
// Downstream notification dispatch hangs off this event.
type TokensInsufficientEvent struct {
	TenantID        string `json:"tenant_id"`
	BillingRecordID string `json:"billing_record_id"`
	TokensRequired  int64  `json:"tokens_required"`
	TokensAvailable int64  `json:"tokens_available"`
	TokensDeficit   int64  `json:"tokens_deficit"`
}
