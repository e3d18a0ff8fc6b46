package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/conf"
	"metering-service/internal/constants"
	"metering-service/internal/metrics"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

// CronApp Cron 应用结构
type CronApp struct {
	ReconcileUsecase *biz.ReconciliationUseCase
	QuotaUsecase     *biz.QuotaUseCase
	Sync             *redsync.Redsync
}

func main() {
	flag.Parse()

	// 初始化配置
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	// 初始化日志 (使用 go-pkg/logger)
	logConfig := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/metering-cron.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}

	loggerInstance := logger.NewLogger(logConfig)

	// 添加基本字段
	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "metering-cron",
	)

	logHelper := log.NewHelper(loggerInstance)

	metrics.InitMetrics()

	// 初始化应用
	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	reconcileCron := "0 0 * * * *" // 每小时
	rolloverCron := "0 0 0 1 * *"  // 每月1日 00:00
	if bc.Reconciliation != nil {
		if bc.Reconciliation.Cron != "" {
			reconcileCron = bc.Reconciliation.Cron
		}
		if bc.Reconciliation.RolloverCron != "" {
			rolloverCron = bc.Reconciliation.RolloverCron
		}
	}

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds())

	// 钱包对账 - 默认每小时执行，多实例通过分布式锁互斥
	_, err = cronScheduler.AddFunc(reconcileCron, func() {
		mutex := app.Sync.NewMutex(constants.RedisKeyReconcileLock, redsync.WithExpiry(10*time.Minute))
		if err := mutex.Lock(); err != nil {
			logHelper.Infof("[CRON] Reconciliation skipped, another instance holds the lock: %v", err)
			return
		}
		defer mutex.Unlock()

		logHelper.Info("[CRON] Starting wallet reconciliation...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		report, err := app.ReconcileUsecase.Run(ctx)
		if err != nil {
			logHelper.Errorf("[CRON] Error running reconciliation: %v", err)
			return
		}
		logHelper.Infof("[CRON] Reconciliation completed: checked=%d, drifts=%d, corrected=%d, frozen=%d",
			report.WalletsChecked, report.DriftsFound, report.Corrected, report.Frozen)
	})
	if err != nil {
		logHelper.Errorf("Failed to add reconciliation job: %v", err)
	}

	// 配额周期滚动 - 默认每月1日 00:00 执行
	_, err = cronScheduler.AddFunc(rolloverCron, func() {
		mutex := app.Sync.NewMutex(constants.RedisKeyRolloverLock, redsync.WithExpiry(10*time.Minute))
		if err := mutex.Lock(); err != nil {
			logHelper.Infof("[CRON] Quota rollover skipped, another instance holds the lock: %v", err)
			return
		}
		defer mutex.Unlock()

		periodID := biz.CurrentPeriod(time.Now())
		logHelper.Infof("[CRON] Starting quota rollover for period %s...", periodID)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		count, err := app.QuotaUsecase.RolloverPeriod(ctx, periodID)
		if err != nil {
			logHelper.Errorf("[CRON] Error rolling over quotas: %v", err)
			return
		}
		logHelper.Infof("[CRON] Quota rollover completed: period=%s, tenants=%d", periodID, count)
	})
	if err != nil {
		logHelper.Errorf("Failed to add quota rollover job: %v", err)
	}

	// 启动定时任务
	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	logHelper.Infof("  - Wallet reconciliation: %s", reconcileCron)
	logHelper.Infof("  - Quota rollover: %s", rolloverCron)
	logHelper.Info("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	// 停止定时任务
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}
