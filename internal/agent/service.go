package agent

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/pkg/logger"
)

// Service 封装 agent 生命周期操作，所有状态变化都会写入审计日志。
type Service struct {
	store Store
}

// NewService 创建 Service。
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store 返回底层存储。
func (s *Service) Store() Store {
	return s.store
}

// Fund 为 agent 追加预算。deploying 状态的 agent 在首次注资后进入 active。
func (s *Service) Fund(ctx context.Context, id string, amount decimal.Decimal) (*Agent, error) {
	if !amount.IsPositive() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "注资金额必须大于 0")
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Transition(current.Status, ActionFund)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddFunds(ctx, id, amount, current.Status, next); err != nil {
		return nil, err
	}
	logger.Audit().Info("agent 注资",
		slog.String("agent_id", id),
		slog.String("amount", amount.String()),
		slog.String("from", string(current.Status)),
		slog.String("to", string(next)))
	return s.store.Get(ctx, id)
}

// Apply 执行 activate、pause、resume、stop 或 drawdown。
func (s *Service) Apply(ctx context.Context, id string, action Action, reason string) (*Agent, error) {
	if action == ActionFund {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "注资请使用 Fund")
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Transition(current.Status, action)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateStatus(ctx, id, current.Status, next); err != nil {
		return nil, err
	}
	logger.Audit().Info("agent 状态变更",
		slog.String("agent_id", id),
		slog.String("action", string(action)),
		slog.String("from", string(current.Status)),
		slog.String("to", string(next)),
		slog.String("reason", reason))
	current.Status = next
	return current, nil
}

// PauseForDrawdown 在回撤超限时自动暂停 agent。
func (s *Service) PauseForDrawdown(ctx context.Context, agent *Agent) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent 不能为空")
	}
	next, err := Transition(agent.Status, ActionDrawdown)
	if err != nil {
		return err
	}
	if err := s.store.UpdateStatus(ctx, agent.ID, agent.Status, next); err != nil {
		return err
	}
	logger.Audit().Warn("agent 回撤超限自动暂停",
		slog.String("agent_id", agent.ID),
		slog.String("pnl_pct", agent.Stats.PnLPct.String()),
		slog.String("max_drawdown_pct", agent.Risk.MaxDrawdownPct.String()))
	agent.Status = next
	return nil
}

// SetTradingEnabled 切换交易开关。
func (s *Service) SetTradingEnabled(ctx context.Context, id string, enabled bool) error {
	if err := s.store.SetTradingEnabled(ctx, id, enabled); err != nil {
		return err
	}
	logger.Audit().Info("agent 交易开关变更", slog.String("agent_id", id), slog.Bool("enabled", enabled))
	return nil
}
