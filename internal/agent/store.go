package agent

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store 抽象了 agent 的持久化接口。
type Store interface {
	Create(ctx context.Context, agent *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	// ListTradable 返回状态为 active 且已开启交易的 agent。
	ListTradable(ctx context.Context, limit int) ([]*Agent, error)
	List(ctx context.Context, limit int) ([]*Agent, error)
	// UpdateStatus 仅当当前状态等于 expected 时写入 next。
	UpdateStatus(ctx context.Context, id string, expected, next Status) error
	// AddFunds 同时增加 allocated 与 remaining，并按需切换状态。
	AddFunds(ctx context.Context, id string, amount decimal.Decimal, expected, next Status) error
	// DebitBudget 扣减剩余预算（下限为 0）并累加成交次数。
	DebitBudget(ctx context.Context, id string, amount decimal.Decimal) error
	SetTradingEnabled(ctx context.Context, id string, enabled bool) error
	Close() error
}
