package monitor

import (
	"context"
	"log/slog"

	"SwapPilot/internal/agent"
	"SwapPilot/internal/order"
	"SwapPilot/internal/trade"
	"SwapPilot/pkg/logger"
)

// Source 把一个订单族适配为统一的对账视图。
type Source interface {
	Family() order.Family
	Pending(ctx context.Context, limit int) ([]Tracked, error)
	// Apply 以条件更新写入 outcome，current.Status 不再匹配时返回 stale 错误。
	Apply(ctx context.Context, current Tracked, outcome order.Outcome) error
}

// OrderSource 适配金库订单族（buyback、flywheel_sentiment）。
type OrderSource struct {
	store order.Store
}

// NewOrderSource 创建 OrderSource。
func NewOrderSource(store order.Store) *OrderSource {
	return &OrderSource{store: store}
}

// Family 实现 Source 接口。
func (s *OrderSource) Family() order.Family { return s.store.Family() }

// Pending 实现 Source 接口。
func (s *OrderSource) Pending(ctx context.Context, limit int) ([]Tracked, error) {
	orders, err := s.store.ListPending(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Tracked, 0, len(orders))
	for _, o := range orders {
		t := Tracked{ID: o.ID, UID: o.UID, Status: o.Status}
		if o.Quote != nil {
			t.MinBuyAmount = o.Quote.BuyAmount
		}
		out = append(out, t)
	}
	return out, nil
}

// Apply 实现 Source 接口。
func (s *OrderSource) Apply(ctx context.Context, current Tracked, outcome order.Outcome) error {
	return s.store.Transition(ctx, current.ID, current.Status, outcome)
}

// TradeSource 适配交易队列：submitted 视为 pending。成交时按意图的美元金额扣减 agent 预算。
type TradeSource struct {
	intents trade.Store
	agents  agent.Store
}

// NewTradeSource 创建 TradeSource。
func NewTradeSource(intents trade.Store, agents agent.Store) *TradeSource {
	return &TradeSource{intents: intents, agents: agents}
}

// Family 实现 Source 接口。
func (s *TradeSource) Family() order.Family { return order.FamilyTradeQueue }

// Pending 实现 Source 接口。
func (s *TradeSource) Pending(ctx context.Context, limit int) ([]Tracked, error) {
	intents, err := s.intents.List(ctx,
		trade.WithStatuses(trade.StatusSubmitted, trade.StatusOpen),
		trade.WithOrderUID(),
		trade.WithLimit(limit))
	if err != nil {
		return nil, err
	}
	out := make([]Tracked, 0, len(intents))
	for _, i := range intents {
		t := Tracked{ID: i.ID, UID: i.OrderUID, Status: orderStatusOf(i.Status)}
		if i.Quote != nil {
			t.MinBuyAmount = i.Quote.BuyAmount
		}
		out = append(out, t)
	}
	return out, nil
}

// Apply 实现 Source 接口。
func (s *TradeSource) Apply(ctx context.Context, current Tracked, outcome order.Outcome) error {
	from := tradeStatusOf(current.Status)
	next := tradeStatusOf(outcome.Status)
	if err := s.intents.Transition(ctx, current.ID, from, trade.Update{
		Status:            next,
		ExecutedBuyAmount: outcome.ExecutedBuyAmount,
		Savings:           outcome.Savings,
		ErrorReason:       outcome.ErrorReason,
		FilledAt:          outcome.FilledAt,
	}); err != nil {
		return err
	}
	if next != trade.StatusFilled {
		return nil
	}

	intent, err := s.intents.Get(ctx, current.ID)
	if err != nil {
		return err
	}
	if err := s.agents.DebitBudget(ctx, intent.AgentID, intent.SellAmountUSD); err != nil {
		logger.L().Error("订单已成交但扣减 agent 预算失败",
			slog.String("intent_id", intent.ID),
			slog.String("agent_id", intent.AgentID),
			slog.String("amount_usd", intent.SellAmountUSD.String()),
			slog.Any("error", err))
		return err
	}
	logger.Audit().Info("agent 预算扣减",
		slog.String("agent_id", intent.AgentID),
		slog.String("intent_id", intent.ID),
		slog.String("amount_usd", intent.SellAmountUSD.String()))
	return nil
}

func orderStatusOf(s trade.Status) order.Status {
	switch s {
	case trade.StatusSubmitted:
		return order.StatusPending
	case trade.StatusOpen:
		return order.StatusOpen
	default:
		return order.Status(s)
	}
}

func tradeStatusOf(s order.Status) trade.Status {
	switch s {
	case order.StatusPending:
		return trade.StatusSubmitted
	default:
		return trade.Status(s)
	}
}

var (
	_ Source = (*OrderSource)(nil)
	_ Source = (*TradeSource)(nil)
)
