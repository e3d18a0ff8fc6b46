package data

import (
	"io"
	"testing"

	"metering-service/internal/data/model"

	"github.com/glebarez/sqlite"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newTestData 内存 sqlite 数据层，限制单连接避免 :memory: 多连接丢表
func newTestData(t *testing.T) *Data {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.UsageRecord{},
		&model.PricingRule{},
		&model.QuotaState{},
		&model.BillingRecord{},
		&model.Wallet{},
		&model.Transaction{},
		&model.OutboxEvent{},
	))

	return &Data{db: db}
}

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}
