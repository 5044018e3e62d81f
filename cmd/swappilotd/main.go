package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SwapPilot/internal/api"
	"SwapPilot/internal/app"
	"SwapPilot/internal/config"
	"SwapPilot/internal/jobs"
	"SwapPilot/internal/scheduler"
	"SwapPilot/pkg/logger"
)

// main 是 SwapPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("swappilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	application, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.L().Warn("释放资源失败", slog.Any("error", err))
		}
	}()

	if cfg.Schedule.Enabled {
		sched := scheduler.New(ctx, application.Jobs)
		if err := sched.RegisterAll(map[string]string{
			jobs.NameSignals: cfg.Schedule.Signals,
			jobs.NameExecute: cfg.Schedule.Execute,
			jobs.NameMonitor: cfg.Schedule.Monitor,
			jobs.NameHarvest: cfg.Schedule.Harvest,
			jobs.NameBuyback: cfg.Schedule.Buyback,
		}); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if cfg.Server.CronSecret == "" {
		logger.L().Warn("未配置 cron_secret，触发接口将拒绝所有请求")
	}
	opts := []api.Option{
		api.WithSecret(cfg.Server.CronSecret),
		api.WithShutdownTimeout(time.Duration(cfg.Server.ShutdownSeconds) * time.Second),
	}
	if cfg.Server.MetricsEnabled {
		opts = append(opts, api.WithMetrics(application.Metrics.Handler(), application.Metrics))
	}
	server := api.NewServer(cfg.Server.Address, application.Jobs, opts...)

	logger.L().Info("swappilotd 已启动", slog.String("address", cfg.Server.Address))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
