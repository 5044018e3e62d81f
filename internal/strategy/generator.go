package strategy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SwapPilot/internal/agent"
	xerrors "SwapPilot/internal/errors"
	"SwapPilot/internal/events"
	"SwapPilot/internal/trade"
	"SwapPilot/pkg/logger"
)

// Summary 是一次信号生成的统计结果。
type Summary struct {
	Evaluated int `json:"evaluated"`
	Queued    int `json:"queued"`
	Paused    int `json:"paused"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Generator 对所有可交易 agent 评估一次策略信号，每个 agent 最多入队一条意图。
type Generator struct {
	agents    *agent.Service
	intents   trade.Store
	publisher events.Publisher
	minTrade  decimal.Decimal
	limit     int
	now       func() time.Time
	newID     func() string
}

// Option 定义可选配置。
type Option func(*Generator)

// WithMinTradeUSD 设置最小交易金额。
func WithMinTradeUSD(v decimal.Decimal) Option {
	return func(g *Generator) { g.minTrade = v }
}

// WithBatchLimit 设置单次评估的 agent 上限。
func WithBatchLimit(limit int) Option {
	return func(g *Generator) {
		if limit > 0 {
			g.limit = limit
		}
	}
}

// WithPublisher 设置事件发布器。
func WithPublisher(p events.Publisher) Option {
	return func(g *Generator) {
		if p != nil {
			g.publisher = p
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithIDGenerator 替换意图 ID 生成方式，主要用于测试。
func WithIDGenerator(fn func() string) Option {
	return func(g *Generator) { g.newID = fn }
}

// NewGenerator 创建 Generator。
func NewGenerator(agents *agent.Service, intents trade.Store, opts ...Option) *Generator {
	g := &Generator{
		agents:    agents,
		intents:   intents,
		publisher: events.Discard,
		minTrade:  decimal.NewFromInt(10),
		limit:     500,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeQueued
	outcomePaused
)

// Run 执行一次信号生成。只有读取 agent 列表失败会中止整个调用，单个 agent 的错误只计数。
func (g *Generator) Run(ctx context.Context) (*Summary, error) {
	agents, err := g.agents.Store().ListTradable(ctx, g.limit)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for _, a := range agents {
		if ctx.Err() != nil {
			break
		}
		summary.Evaluated++
		result, err := g.evaluate(ctx, a)
		if err != nil {
			summary.Errors++
			logger.L().Error("评估 agent 失败",
				slog.String("agent_id", a.ID),
				slog.String("code", string(xerrors.CodeOf(err))),
				slog.Any("error", err))
			continue
		}
		switch result {
		case outcomeQueued:
			summary.Queued++
		case outcomePaused:
			summary.Paused++
		default:
			summary.Skipped++
		}
	}

	logger.L().Info("信号生成完成",
		slog.Int("evaluated", summary.Evaluated),
		slog.Int("queued", summary.Queued),
		slog.Int("paused", summary.Paused),
		slog.Int("skipped", summary.Skipped),
		slog.Int("errors", summary.Errors))
	return summary, nil
}

func (g *Generator) evaluate(ctx context.Context, a *agent.Agent) (outcome, error) {
	log := logger.L().With(slog.String("agent_id", a.ID))

	// 回撤熔断与是否出单无关，先于其他检查执行。
	if a.DrawdownBreached() {
		if err := g.agents.PauseForDrawdown(ctx, a); err != nil {
			if errors.Is(err, agent.ErrStaleAgent) {
				log.Debug("agent 状态已被修改，跳过回撤暂停")
				return outcomeSkipped, nil
			}
			return outcomeSkipped, err
		}
		g.publisher.Publish(events.Event{
			Type:    events.TypeAgentPaused,
			Subject: a.ID,
			Attributes: map[string]string{
				"reason":  "drawdown",
				"pnl_pct": a.Stats.PnLPct.String(),
			},
		})
		return outcomePaused, nil
	}

	active, err := g.intents.HasActive(ctx, a.ID)
	if err != nil {
		return outcomeSkipped, err
	}
	if active {
		log.Debug("已有未终结意图，跳过")
		return outcomeSkipped, nil
	}

	if !a.Budget.Remaining.IsPositive() {
		log.Debug("剩余预算不足，跳过")
		return outcomeSkipped, nil
	}

	size := PositionSize(a)
	if size.LessThan(g.minTrade) || !size.IsPositive() {
		log.Debug("交易金额低于下限，跳过", slog.String("size_usd", size.String()))
		return outcomeSkipped, nil
	}
	amount := BaseUnits(size, a.SellTokenDecimals)

	now := g.now().Unix()
	intent := &trade.Intent{
		ID:            g.newID(),
		AgentID:       a.ID,
		Owner:         a.Owner,
		SellToken:     a.SellToken,
		BuyToken:      a.BuyToken,
		SellAmount:    amount,
		SellAmountUSD: size,
		Status:        trade.StatusQueued,
		CreatedAt:     now,
		NextRunAt:     now,
	}
	if err := g.intents.CreateIfNoActive(ctx, intent); err != nil {
		if errors.Is(err, trade.ErrActiveIntentExists) {
			log.Debug("并发调用已为该 agent 入队，跳过")
			return outcomeSkipped, nil
		}
		return outcomeSkipped, err
	}

	logger.Audit().Info("交易意图入队",
		slog.String("agent_id", a.ID),
		slog.String("intent_id", intent.ID),
		slog.String("strategy", string(a.Strategy)),
		slog.String("sell_amount", amount),
		slog.String("sell_amount_usd", size.String()))
	g.publisher.Publish(events.Event{
		Type:    events.TypeIntentQueued,
		Subject: intent.ID,
		Attributes: map[string]string{
			"agent_id":        a.ID,
			"sell_amount_usd": size.String(),
		},
	})
	return outcomeQueued, nil
}
