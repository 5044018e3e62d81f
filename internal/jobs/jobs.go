package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/pkg/logger"
)

// 任务名称。
const (
	NameSignals = "signals"
	NameExecute = "execute"
	NameMonitor = "monitor"
	NameHarvest = "harvest"
	NameBuyback = "buyback"
)

// Func 执行一次任务并返回可序列化为 JSON 的摘要。
type Func func(ctx context.Context) (any, error)

// Locker 防止同名任务重叠执行。ok 为 false 表示锁已被占用。
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// Recorder 记录任务执行结果。
type Recorder interface {
	ObserveRun(job, status string, duration time.Duration)
}

var (
	// ErrUnknownJob 表示任务未注册。
	ErrUnknownJob = xerrors.New(xerrors.CodeNotFound, "unknown job")
	// ErrJobBusy 表示同名任务正在执行。
	ErrJobBusy = xerrors.New(xerrors.CodeJobBusy, "")
)

// Registry 保存任务并在执行时加锁、计时、记录日志。
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]Func
	locker   Locker
	lockTTL  time.Duration
	recorder Recorder
}

// Option 定义可选配置。
type Option func(*Registry)

// WithLockTTL 设置任务锁的过期时间，应大于任务的最长执行时间。
func WithLockTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

// WithRecorder 设置指标记录器。
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// NewRegistry 创建 Registry。locker 为空时使用进程内锁。
func NewRegistry(locker Locker, opts ...Option) *Registry {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	r := &Registry{
		jobs:    make(map[string]Func),
		locker:  locker,
		lockTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register 注册任务，同名任务会被覆盖。
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[name] = fn
}

// Names 返回按字母排序的任务名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run 在任务锁保护下执行一次任务。
func (r *Registry) Run(ctx context.Context, name string) (any, error) {
	r.mu.RLock()
	fn, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, xerrors.Wrap(xerrors.CodeNotFound, ErrUnknownJob, "未注册的任务: "+name)
	}

	unlock, acquired, err := r.locker.TryLock(ctx, name, r.lockTTL)
	if err != nil {
		r.observe(name, "error", 0)
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取任务锁失败",
			xerrors.WithMetadata("job", name))
	}
	if !acquired {
		r.observe(name, "busy", 0)
		logger.L().Info("任务正在执行，跳过本次触发", slog.String("job", name))
		return nil, ErrJobBusy
	}
	defer unlock()

	started := time.Now()
	result, err := fn(ctx)
	elapsed := time.Since(started)
	if err != nil {
		r.observe(name, "error", elapsed)
		logger.L().Error("任务执行失败",
			slog.String("job", name),
			slog.Duration("duration", elapsed),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
		return nil, err
	}
	r.observe(name, "ok", elapsed)
	logger.L().Info("任务执行完成", slog.String("job", name), slog.Duration("duration", elapsed))
	return result, nil
}

func (r *Registry) observe(name, status string, elapsed time.Duration) {
	if r.recorder != nil {
		r.recorder.ObserveRun(name, status, elapsed)
	}
}
