package data

import (
	"context"
	"sync"
	"testing"

	"metering-service/internal/biz"
	"metering-service/internal/constants"
	"metering-service/internal/data/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertCalculatedRecord(t *testing.T, d *Data, tenantID string, walletTokens int64) *biz.BillingRecord {
	t.Helper()
	rec := &model.BillingRecord{
		BillingRecordID: uuid.New().String(),
		UsageEventID:    uuid.New().String(),
		TenantID:        tenantID,
		ProductID:       "llm-chat",
		PeriodID:        "2026-09",
		CostUSD:         decimal.RequireFromString("0.001"),
		TokenEquivalent: walletTokens,
		WalletTokens:    walletTokens,
		TierApplied:     constants.TierWallet,
		Status:          constants.StatusCalculated,
	}
	require.NoError(t, d.db.Create(rec).Error)
	return toBizBillingRecord(rec)
}

func newWalletUseCase(d *Data) (*biz.WalletUseCase, biz.WalletRepo) {
	walletRepo := NewWalletRepo(d, testLogger())
	recordRepo := NewBillingRecordRepo(d, testLogger())
	return biz.NewWalletUseCase(walletRepo, recordRepo, testBillingConfig(), testLogger()), walletRepo
}

func TestCreditAndDebitWallet(t *testing.T) {
	d := newTestData(t)
	uc, repo := newWalletUseCase(d)
	ctx := context.Background()

	_, err := uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 100, "order-1")
	require.NoError(t, err)

	record := insertCalculatedRecord(t, d, "tenant-1", 30)
	require.NoError(t, uc.ApplyDebit(ctx, record))
	assert.Equal(t, constants.StatusCompleted, record.Status)

	wallet, err := repo.GetWallet(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), wallet.Balance)
	assert.Equal(t, int64(2), wallet.Version) // credit + debit 各一次

	// 流水、记录终态、扣款事件均已落库
	var txCount int64
	d.db.Model(&model.Transaction{}).Where("type = ?", constants.TransactionTypeDebit).Count(&txCount)
	assert.Equal(t, int64(1), txCount)

	var outboxCount int64
	d.db.Model(&model.OutboxEvent{}).Where("event_type = ?", constants.EventTypeTokensDeducted).Count(&outboxCount)
	assert.Equal(t, int64(1), outboxCount)
}

func TestApplyDebitInsufficientBalance(t *testing.T) {
	d := newTestData(t)
	uc, repo := newWalletUseCase(d)
	ctx := context.Background()

	// 余额 10，应扣 50：记录落 insufficient_balance，余额不动
	_, err := uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 10, "order-1")
	require.NoError(t, err)

	record := insertCalculatedRecord(t, d, "tenant-1", 50)
	err = uc.ApplyDebit(ctx, record)
	assert.ErrorIs(t, err, biz.ErrInsufficientBalance)
	assert.Equal(t, constants.StatusInsufficientBalance, record.Status)

	wallet, err := repo.GetWallet(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), wallet.Balance)

	var outboxCount int64
	d.db.Model(&model.OutboxEvent{}).Where("event_type = ?", constants.EventTypeTokensInsufficient).Count(&outboxCount)
	assert.Equal(t, int64(1), outboxCount)

	// 重复投递同一记录不再产生事件
	require.NoError(t, uc.ApplyDebit(ctx, record))
	d.db.Model(&model.OutboxEvent{}).Where("event_type = ?", constants.EventTypeTokensInsufficient).Count(&outboxCount)
	assert.Equal(t, int64(1), outboxCount)
}

func TestApplyDebitSequentialCharges(t *testing.T) {
	d := newTestData(t)
	uc, repo := newWalletUseCase(d)
	ctx := context.Background()

	// 余额 50，两笔 30：只有一笔成功，余额不得为负
	_, err := uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 50, "order-1")
	require.NoError(t, err)

	first := insertCalculatedRecord(t, d, "tenant-1", 30)
	second := insertCalculatedRecord(t, d, "tenant-1", 30)

	require.NoError(t, uc.ApplyDebit(ctx, first))
	assert.Equal(t, constants.StatusCompleted, first.Status)

	err = uc.ApplyDebit(ctx, second)
	assert.ErrorIs(t, err, biz.ErrInsufficientBalance)
	assert.Equal(t, constants.StatusInsufficientBalance, second.Status)

	wallet, err := repo.GetWallet(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), wallet.Balance)
	assert.GreaterOrEqual(t, wallet.Balance, int64(0))
}

func TestApplyDebitConcurrentCharges(t *testing.T) {
	d := newTestData(t)
	uc, repo := newWalletUseCase(d)
	ctx := context.Background()

	// 余额 50，两笔 30 并发扣款：恰好一笔完成、一笔余额不足，余额不得为负
	_, err := uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 50, "order-1")
	require.NoError(t, err)

	records := []*biz.BillingRecord{
		insertCalculatedRecord(t, d, "tenant-1", 30),
		insertCalculatedRecord(t, d, "tenant-1", 30),
	}

	errs := make(chan error, len(records))
	var wg sync.WaitGroup
	for _, record := range records {
		wg.Add(1)
		go func(rec *biz.BillingRecord) {
			defer wg.Done()
			errs <- uc.ApplyDebit(ctx, rec)
		}(record)
	}
	wg.Wait()
	close(errs)

	insufficient := 0
	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, biz.ErrInsufficientBalance)
			insufficient++
		}
	}
	assert.Equal(t, 1, insufficient)

	var completed, rejected int64
	d.db.Model(&model.BillingRecord{}).Where("status = ?", constants.StatusCompleted).Count(&completed)
	d.db.Model(&model.BillingRecord{}).Where("status = ?", constants.StatusInsufficientBalance).Count(&rejected)
	assert.Equal(t, int64(1), completed)
	assert.Equal(t, int64(1), rejected)

	wallet, err := repo.GetWallet(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), wallet.Balance)
}

func TestDebitWalletStaleVersionConflict(t *testing.T) {
	d := newTestData(t)
	uc, repo := newWalletUseCase(d)
	ctx := context.Background()

	_, err := uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 100, "order-1")
	require.NoError(t, err)

	// 读取后版本被并发修改，条件更新落空
	stale, err := repo.GetWallet(ctx, "tenant-1")
	require.NoError(t, err)

	_, err = uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 5, "order-2")
	require.NoError(t, err)

	record := insertCalculatedRecord(t, d, "tenant-1", 30)
	_, err = repo.DebitWallet(ctx, stale, record)
	assert.ErrorIs(t, err, biz.ErrOptimisticConflict)

	// 冲突事务完整回滚：无流水、记录未推进
	var txCount int64
	d.db.Model(&model.Transaction{}).Where("type = ?", constants.TransactionTypeDebit).Count(&txCount)
	assert.Equal(t, int64(0), txCount)

	var rec model.BillingRecord
	require.NoError(t, d.db.Where("billing_record_id = ?", record.BillingRecordID).First(&rec).Error)
	assert.Equal(t, constants.StatusCalculated, rec.Status)
}

func TestApplyDebitFrozenWallet(t *testing.T) {
	d := newTestData(t)
	uc, repo := newWalletUseCase(d)
	ctx := context.Background()

	_, err := uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 100, "order-1")
	require.NoError(t, err)
	wallet, err := repo.GetWallet(ctx, "tenant-1")
	require.NoError(t, err)
	require.NoError(t, d.db.Model(&model.Wallet{}).Where("wallet_id = ?", wallet.WalletID).
		Update("status", constants.WalletStatusFrozen).Error)

	record := insertCalculatedRecord(t, d, "tenant-1", 30)
	err = uc.ApplyDebit(ctx, record)
	assert.ErrorIs(t, err, biz.ErrWalletFrozen)
	assert.Equal(t, constants.StatusFailed, record.Status)
}

func TestApplyDebitNoWalletShare(t *testing.T) {
	d := newTestData(t)
	uc, _ := newWalletUseCase(d)
	ctx := context.Background()

	// 钱包档为 0 的记录直接完成，不触碰钱包
	record := insertCalculatedRecord(t, d, "tenant-1", 0)
	require.NoError(t, uc.ApplyDebit(ctx, record))
	assert.Equal(t, constants.StatusCompleted, record.Status)

	var walletCount int64
	d.db.Model(&model.Wallet{}).Count(&walletCount)
	assert.Equal(t, int64(0), walletCount)
}

func TestCreditIdempotentByReference(t *testing.T) {
	d := newTestData(t)
	uc, repo := newWalletUseCase(d)
	ctx := context.Background()

	first, err := uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 100, "order-42")
	require.NoError(t, err)

	// 同一 reference 重复提交返回原流水，余额只入账一次
	again, err := uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 100, "order-42")
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, again.TransactionID)

	wallet, err := repo.GetWallet(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), wallet.Balance)
}

func TestCreditWalletConcurrentWithDebit(t *testing.T) {
	d := newTestData(t)
	uc, repo := newWalletUseCase(d)
	ctx := context.Background()

	// 入账与扣款并发：输掉版本竞争的一方重读重试，两笔都必须落账
	_, err := uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 50, "order-1")
	require.NoError(t, err)
	record := insertCalculatedRecord(t, d, "tenant-1", 30)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- uc.ApplyDebit(ctx, record)
	}()
	go func() {
		defer wg.Done()
		_, err := uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 40, "order-2")
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	wallet, err := repo.GetWallet(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), wallet.Balance)
	assert.Equal(t, int64(3), wallet.Version) // 两笔入账 + 一笔扣款

	var creditCount int64
	d.db.Model(&model.Transaction{}).Where("type = ?", constants.TransactionTypeCredit).Count(&creditCount)
	assert.Equal(t, int64(2), creditCount)
}

func TestApplyCreditValidation(t *testing.T) {
	d := newTestData(t)
	uc, _ := newWalletUseCase(d)
	ctx := context.Background()

	_, err := uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeDebit, 10, "ref")
	assert.Error(t, err)
	_, err = uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 0, "ref")
	assert.Error(t, err)
	_, err = uc.ApplyCredit(ctx, "tenant-1", constants.TransactionTypeCredit, 10, "")
	assert.Error(t, err)
}
