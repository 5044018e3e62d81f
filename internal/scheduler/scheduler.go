package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"

	"SwapPilot/pkg/logger"
)

// Runner 执行指定名称的任务。
type Runner interface {
	Run(ctx context.Context, name string) (any, error)
}

// Scheduler 管理进程内的 cron 任务。
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	ctx    context.Context
	log    *slog.Logger
}

// New 创建 Scheduler。任务出现 panic 会被恢复，上一次执行未结束时跳过本次触发。
func New(ctx context.Context, runner Runner) *Scheduler {
	log := logger.Named("scheduler")
	adapter := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		runner: runner,
		ctx:    ctx,
		log:    log,
	}
}

// Register 按 cron 表达式注册任务，表达式为空时跳过。
func (s *Scheduler) Register(name, spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		s.log.Info("任务未配置调度表达式，跳过注册", slog.String("job", name))
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.run(name) }); err != nil {
		return fmt.Errorf("注册任务 %s 失败: %w", name, err)
	}
	s.log.Info("任务已注册", slog.String("job", name), slog.String("spec", spec))
	return nil
}

// RegisterAll 注册一组任务。
func (s *Scheduler) RegisterAll(specs map[string]string) error {
	for name, spec := range specs {
		if err := s.Register(name, spec); err != nil {
			return err
		}
	}
	return nil
}

// Entries 返回已注册的任务数量。
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start 启动调度器。
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("调度器已启动")
}

// Stop 停止调度器并等待正在执行的任务结束。
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("调度器已停止")
}

func (s *Scheduler) run(name string) {
	if s.ctx.Err() != nil {
		return
	}
	// 任务失败已由 Runner 记录，这里仅防止错误逃逸。
	_, _ = s.runner.Run(s.ctx, name)
}

// cronLogger 将 cron 的日志接口适配到 slog。
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
