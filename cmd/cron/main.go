package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/conf"
	"serving-control-plane/internal/metrics"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

// CronApp Cron 应用结构
type CronApp struct {
	probeUsecase  *biz.ProbeUseCase
	ledgerUsecase *biz.LedgerUseCase
	servingConfig *biz.ServingConfig
}

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
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
		FilePath:      "logs/serving-cron.log",
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
		"service.name", "serving-cron",
	)

	logHelper := log.NewHelper(loggerInstance)

	metrics.InitMetrics()

	// 初始化应用
	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds())

	// 节点健康探测 - 按配置周期执行
	probeInterval := app.servingConfig.ProbeInterval
	cronScheduler.Schedule(cron.Every(probeInterval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), probeInterval)
		defer cancel()

		probed, err := app.probeUsecase.Sweep(ctx)
		if err != nil {
			logHelper.Errorf("[CRON] Probe sweep failed: %v", err)
		} else if probed > 0 {
			logHelper.Infof("[CRON] Probe sweep completed: deployments=%d", probed)
		}
	}))

	// 账本对账 - 每日 04:00 执行
	_, err = cronScheduler.AddFunc("0 0 4 * * *", func() {
		logHelper.Info("[CRON] Starting ledger reconciliation...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		checked, flagged, err := app.ledgerUsecase.ReconcileAll(ctx)
		if err != nil {
			logHelper.Errorf("[CRON] Error reconciling ledgers: %v", err)
		} else {
			logHelper.Infof("[CRON] Ledger reconciliation completed: checked=%d, flagged=%d", checked, flagged)
		}
	})
	if err != nil {
		logHelper.Errorf("Failed to add ledger reconciliation job: %v", err)
	}

	// 启动定时任务
	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	logHelper.Infof("  - Node health probe: every %s", probeInterval)
	logHelper.Info("  - Ledger reconciliation: every day at 04:00")
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
