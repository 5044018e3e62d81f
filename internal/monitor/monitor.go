package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/internal/events"
	"SwapPilot/internal/order"
	"SwapPilot/internal/settlement"
	"SwapPilot/internal/trade"
	"SwapPilot/pkg/logger"
)

// FamilySummary 是单个订单族的对账统计。
type FamilySummary struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// Summary 按订单族汇总对账结果。
type Summary map[order.Family]FamilySummary

// Recorder 接收每个订单族的对账计数。
type Recorder interface {
	ObserveReconcile(family string, checked, updated, errors int)
}

// Monitor 轮询所有未终结订单的状态并推进持久化记录。
type Monitor struct {
	api       settlement.API
	sources   []Source
	workers   int
	limit     int
	publisher events.Publisher
	recorder  Recorder
	now       func() time.Time
}

// Option 定义可选配置。
type Option func(*Monitor)

// WithWorkers 设置单个订单族内并发对账的协程数。
func WithWorkers(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithBatchLimit 设置每个订单族单次读取的上限。
func WithBatchLimit(limit int) Option {
	return func(m *Monitor) {
		if limit > 0 {
			m.limit = limit
		}
	}
}

// WithPublisher 设置事件发布器。
func WithPublisher(p events.Publisher) Option {
	return func(m *Monitor) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithRecorder 设置指标记录器。
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New 创建 Monitor。sources 按给定顺序依次对账。
func New(api settlement.API, sources []Source, opts ...Option) *Monitor {
	m := &Monitor{
		api:       api,
		sources:   sources,
		workers:   4,
		limit:     200,
		publisher: events.Discard,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Run 依次对账每个订单族。某个订单族列表失败只计入该族的错误，不影响其他族。
func (m *Monitor) Run(ctx context.Context) (Summary, error) {
	summary := make(Summary, len(m.sources))
	var listErrs []error
	for _, source := range m.sources {
		fs, err := m.reconcileFamily(ctx, source)
		if err != nil {
			listErrs = append(listErrs, err)
			logger.L().Error("读取待对账订单失败",
				slog.String("family", string(source.Family())),
				slog.Any("error", err))
		}
		summary[source.Family()] = fs
		if m.recorder != nil {
			m.recorder.ObserveReconcile(string(source.Family()), fs.Checked, fs.Updated, fs.Errors)
		}
	}
	if len(listErrs) == len(m.sources) && len(listErrs) > 0 {
		return summary, xerrors.Wrap(xerrors.CodeStorageFailure, errors.Join(listErrs...), "所有订单族均无法读取")
	}
	return summary, nil
}

func (m *Monitor) reconcileFamily(ctx context.Context, source Source) (FamilySummary, error) {
	family := string(source.Family())
	rows, err := source.Pending(ctx, m.limit)
	if err != nil {
		return FamilySummary{Errors: 1}, err
	}

	var (
		mu sync.Mutex
		fs FamilySummary
	)
	p := pool.New().WithMaxGoroutines(m.workers)
	for _, row := range rows {
		p.Go(func() {
			updated, err := m.reconcileRow(ctx, source, row)
			mu.Lock()
			defer mu.Unlock()
			fs.Checked++
			switch {
			case err != nil:
				fs.Errors++
				logger.L().Warn("订单对账失败",
					slog.String("family", family),
					slog.String("id", row.ID),
					slog.String("uid", row.UID),
					slog.Any("error", err))
			case updated:
				fs.Updated++
			}
		})
	}
	p.Wait()

	logger.L().Info("订单族对账完成",
		slog.String("family", family),
		slog.Int("checked", fs.Checked),
		slog.Int("updated", fs.Updated),
		slog.Int("errors", fs.Errors))
	return fs, nil
}

func (m *Monitor) reconcileRow(ctx context.Context, source Source, row Tracked) (bool, error) {
	remote, err := m.api.Status(ctx, row.UID)
	if err != nil {
		return false, err
	}
	outcome, changed := Reconcile(row, remote, m.now())
	if !changed {
		return false, nil
	}
	if err := source.Apply(ctx, row, outcome); err != nil {
		if errors.Is(err, order.ErrStaleOrder) || errors.Is(err, trade.ErrStaleIntent) {
			// 其他调用已写入同一行。
			return false, nil
		}
		return false, err
	}

	logger.Audit().Info("订单状态更新",
		slog.String("family", string(source.Family())),
		slog.String("id", row.ID),
		slog.String("uid", row.UID),
		slog.String("from", string(row.Status)),
		slog.String("to", string(outcome.Status)),
		slog.String("executed_buy_amount", outcome.ExecutedBuyAmount),
		slog.String("savings", outcome.Savings))
	if outcome.Status.Terminal() {
		m.publisher.Publish(events.Event{
			Type:    events.TypeOrderSettled,
			Subject: row.UID,
			Attributes: map[string]string{
				"family":  string(source.Family()),
				"status":  string(outcome.Status),
				"savings": outcome.Savings,
			},
		})
	}
	return true, nil
}
