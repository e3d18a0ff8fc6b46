package service

import (
	"strconv"
	"time"

	"metering-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
	"github.com/shopspring/decimal"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewMeteringService)

// MeteringService 面向运营/租户的 HTTP 服务
type MeteringService struct {
	billingUC *biz.BillingUseCase
	walletUC  *biz.WalletUseCase
	pricingUC *biz.PricingCatalogUseCase
	quotaUC   *biz.QuotaUseCase
	statsUC   *biz.StatsUseCase
	log       *log.Helper
}

// NewMeteringService 创建 MeteringService
func NewMeteringService(
	billingUC *biz.BillingUseCase,
	walletUC *biz.WalletUseCase,
	pricingUC *biz.PricingCatalogUseCase,
	quotaUC *biz.QuotaUseCase,
	statsUC *biz.StatsUseCase,
	logger log.Logger,
) *MeteringService {
	return &MeteringService{
		billingUC: billingUC,
		walletUC:  walletUC,
		pricingUC: pricingUC,
		quotaUC:   quotaUC,
		statsUC:   statsUC,
		log:       log.NewHelper(logger),
	}
}

type walletReply struct {
	WalletID string `json:"wallet_id"`
	TenantID string `json:"tenant_id"`
	Balance  int64  `json:"balance"`
	Version  int64  `json:"version"`
	Status   string `json:"status"`
}

type quotaReply struct {
	PeriodID              string `json:"period_id"`
	FreeTierRemaining     int64  `json:"free_tier_remaining"`
	SubscriptionRemaining int64  `json:"subscription_remaining"`
}

type accountReply struct {
	TenantID string       `json:"tenant_id"`
	Wallet   *walletReply `json:"wallet"`
	Quota    *quotaReply  `json:"quota"`
}

// GetAccount 查询租户账户（钱包余额 + 当期配额）
func (s *MeteringService) GetAccount(ctx khttp.Context) error {
	tenantID := ctx.Vars().Get("tenant_id")

	view, err := s.billingUC.GetAccount(ctx, tenantID)
	if err != nil {
		s.log.Errorf("GetAccount failed: tenant_id=%s, err=%v", tenantID, err)
		return err
	}
	return ctx.Result(200, &accountReply{
		TenantID: view.TenantID,
		Wallet: &walletReply{
			WalletID: view.Wallet.WalletID,
			TenantID: view.Wallet.TenantID,
			Balance:  view.Wallet.Balance,
			Version:  view.Wallet.Version,
			Status:   view.Wallet.Status,
		},
		Quota: &quotaReply{
			PeriodID:              view.PeriodID,
			FreeTierRemaining:     view.Quota.FreeTierRemaining,
			SubscriptionRemaining: view.Quota.SubscriptionRemaining,
		},
	})
}

type creditRequest struct {
	Type      string `json:"type"` // credit/refund/adjustment
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

type transactionReply struct {
	TransactionID   string    `json:"transaction_id"`
	WalletID        string    `json:"wallet_id"`
	Type            string    `json:"type"`
	Amount          int64     `json:"amount"`
	BalanceBefore   int64     `json:"balance_before"`
	BalanceAfter    int64     `json:"balance_after"`
	BillingRecordID string    `json:"billing_record_id,omitempty"`
	Reference       string    `json:"reference,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toTransactionReply(tx *biz.Transaction) *transactionReply {
	reply := &transactionReply{
		TransactionID: tx.TransactionID,
		WalletID:      tx.WalletID,
		Type:          tx.Type,
		Amount:        tx.Amount,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		CreatedAt:     tx.CreatedAt,
	}
	if tx.BillingRecordID != nil {
		reply.BillingRecordID = *tx.BillingRecordID
	}
	if tx.Reference != nil {
		reply.Reference = *tx.Reference
	}
	return reply
}

// CreditWallet 钱包入账（充值/退款/调整），reference 保证幂等
func (s *MeteringService) CreditWallet(ctx khttp.Context) error {
	tenantID := ctx.Vars().Get("tenant_id")

	var req creditRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	tx, err := s.walletUC.ApplyCredit(ctx, tenantID, req.Type, req.Amount, req.Reference)
	if err != nil {
		s.log.Errorf("CreditWallet failed: tenant_id=%s, err=%v", tenantID, err)
		return err
	}
	return ctx.Result(200, toTransactionReply(tx))
}

// ListTransactions 查询钱包流水
func (s *MeteringService) ListTransactions(ctx khttp.Context) error {
	tenantID := ctx.Vars().Get("tenant_id")
	limit := queryInt(ctx, "limit", 100)
	offset := queryInt(ctx, "offset", 0)

	wallet, err := s.walletUC.GetWallet(ctx, tenantID)
	if err != nil {
		return err
	}
	txs, err := s.walletUC.ListTransactions(ctx, wallet.WalletID, limit, offset)
	if err != nil {
		s.log.Errorf("ListTransactions failed: tenant_id=%s, err=%v", tenantID, err)
		return err
	}

	out := make([]*transactionReply, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionReply(tx))
	}
	return ctx.Result(200, map[string]interface{}{"transactions": out})
}

type billingRecordReply struct {
	BillingRecordID    string     `json:"billing_record_id"`
	UsageEventID       string     `json:"usage_event_id"`
	TenantID           string     `json:"tenant_id"`
	ProductID          string     `json:"product_id"`
	PeriodID           string     `json:"period_id"`
	CostUSD            string     `json:"cost_usd"`
	TokenEquivalent    int64      `json:"token_equivalent"`
	FreeTokens         int64      `json:"free_tokens"`
	SubscriptionTokens int64      `json:"subscription_tokens"`
	WalletTokens       int64      `json:"wallet_tokens"`
	TierApplied        string     `json:"tier_applied"`
	Status             string     `json:"status"`
	FailReason         string     `json:"fail_reason,omitempty"`
	ProcessedAt        *time.Time `json:"processed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toBillingRecordReply(r *biz.BillingRecord) *billingRecordReply {
	return &billingRecordReply{
		BillingRecordID:    r.BillingRecordID,
		UsageEventID:       r.UsageEventID,
		TenantID:           r.TenantID,
		ProductID:          r.ProductID,
		PeriodID:           r.PeriodID,
		CostUSD:            r.CostUSD.String(),
		TokenEquivalent:    r.TokenEquivalent,
		FreeTokens:         r.FreeTokens,
		SubscriptionTokens: r.SubscriptionTokens,
		WalletTokens:       r.WalletTokens,
		TierApplied:        r.TierApplied,
		Status:             r.Status,
		FailReason:         r.FailReason,
		ProcessedAt:        r.ProcessedAt,
		CreatedAt:          r.CreatedAt,
	}
}

// ListBillingRecords 查询计费记录
func (s *MeteringService) ListBillingRecords(ctx khttp.Context) error {
	query := ctx.Query()
	filter := &biz.BillingRecordFilter{
		TenantID: query.Get("tenant_id"),
		Status:   query.Get("status"),
		Limit:    queryInt(ctx, "limit", 100),
		Offset:   queryInt(ctx, "offset", 0),
	}
	if v := query.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = t
		}
	}
	if v := query.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = t
		}
	}

	records, err := s.billingUC.ListBillingRecords(ctx, filter)
	if err != nil {
		s.log.Errorf("ListBillingRecords failed: err=%v", err)
		return err
	}
	out := make([]*billingRecordReply, 0, len(records))
	for _, r := range records {
		out = append(out, toBillingRecordReply(r))
	}
	return ctx.Result(200, map[string]interface{}{"records": out})
}

// ReplayUsageEvent 人工重放 failed 记录（计价目录修正后）
func (s *MeteringService) ReplayUsageEvent(ctx khttp.Context) error {
	usageEventID := ctx.Vars().Get("usage_event_id")

	record, err := s.billingUC.ReplayUsageEvent(ctx, usageEventID)
	if err != nil {
		s.log.Errorf("ReplayUsageEvent failed: usage_event_id=%s, err=%v", usageEventID, err)
		return err
	}
	return ctx.Result(200, toBillingRecordReply(record))
}

type createPricingRuleRequest struct {
	ProductID              string     `json:"product_id"`
	UnitPriceUSD           string     `json:"unit_price_usd"`
	TokenEquivalenceFactor string     `json:"token_equivalence_factor"`
	FreeTierAllotment      int64      `json:"free_tier_allotment"`
	EffectiveFrom          time.Time  `json:"effective_from"`
	EffectiveTo            *time.Time `json:"effective_to"`
}

// CreatePricingRule 创建计价规则（运营侧）
func (s *MeteringService) CreatePricingRule(ctx khttp.Context) error {
	var req createPricingRuleRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	unitPrice, err := decimal.NewFromString(req.UnitPriceUSD)
	if err != nil {
		return err
	}
	factor, err := decimal.NewFromString(req.TokenEquivalenceFactor)
	if err != nil {
		return err
	}
	effectiveFrom := req.EffectiveFrom
	if effectiveFrom.IsZero() {
		effectiveFrom = time.Now()
	}

	rule := &biz.PricingRule{
		ProductID:              req.ProductID,
		UnitPriceUSD:           unitPrice,
		TokenEquivalenceFactor: factor,
		FreeTierAllotment:      req.FreeTierAllotment,
		EffectiveFrom:          effectiveFrom,
		EffectiveTo:            req.EffectiveTo,
	}
	if err := s.pricingUC.CreateRule(ctx, rule); err != nil {
		s.log.Errorf("CreatePricingRule failed: product_id=%s, err=%v", req.ProductID, err)
		return err
	}
	return ctx.Result(200, map[string]string{"pricing_rule_id": rule.PricingRuleID})
}

type productSpendReply struct {
	ProductID   string `json:"product_id"`
	CostUSD     string `json:"cost_usd"`
	Tokens      int64  `json:"tokens"`
	RecordCount int64  `json:"record_count"`
}

type spendSummaryReply struct {
	TenantID           string               `json:"tenant_id"`
	From               time.Time            `json:"from"`
	To                 time.Time            `json:"to"`
	TotalCostUSD       string               `json:"total_cost_usd"`
	TotalTokens        int64                `json:"total_tokens"`
	FreeTokens         int64                `json:"free_tokens"`
	SubscriptionTokens int64                `json:"subscription_tokens"`
	WalletTokens       int64                `json:"wallet_tokens"`
	RecordCount        int64                `json:"record_count"`
	ByProduct          []*productSpendReply `json:"by_product"`
}

// GetSpendSummary 查询租户消费汇总
func (s *MeteringService) GetSpendSummary(ctx khttp.Context) error {
	tenantID := ctx.Vars().Get("tenant_id")
	query := ctx.Query()

	var from, to time.Time
	if v := query.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := query.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}

	summary, err := s.statsUC.GetSpendSummary(ctx, tenantID, from, to)
	if err != nil {
		s.log.Errorf("GetSpendSummary failed: tenant_id=%s, err=%v", tenantID, err)
		return err
	}

	reply := &spendSummaryReply{
		TenantID:           summary.TenantID,
		From:               summary.From,
		To:                 summary.To,
		TotalCostUSD:       summary.TotalCostUSD.String(),
		TotalTokens:        summary.TotalTokens,
		FreeTokens:         summary.FreeTokens,
		SubscriptionTokens: summary.SubscriptionTokens,
		WalletTokens:       summary.WalletTokens,
		RecordCount:        summary.RecordCount,
		ByProduct:          make([]*productSpendReply, 0, len(summary.ByProduct)),
	}
	for _, p := range summary.ByProduct {
		reply.ByProduct = append(reply.ByProduct, &productSpendReply{
			ProductID:   p.ProductID,
			CostUSD:     p.CostUSD.String(),
			Tokens:      p.Tokens,
			RecordCount: p.RecordCount,
		})
	}
	return ctx.Result(200, reply)
}

// RolloverQuota 手工触发额度滚动（正常由 cron 按月执行）
func (s *MeteringService) RolloverQuota(ctx khttp.Context) error {
	periodID := ctx.Query().Get("period")
	if periodID == "" {
		periodID = biz.CurrentPeriod(time.Now())
	}

	created, err := s.quotaUC.RolloverPeriod(ctx, periodID)
	if err != nil {
		s.log.Errorf("RolloverQuota failed: period_id=%s, err=%v", periodID, err)
		return err
	}
	return ctx.Result(200, map[string]interface{}{"period_id": periodID, "created": created})
}

func queryInt(ctx khttp.Context, key string, def int) int {
	v := ctx.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
