package agent

import (
	"strings"

	"github.com/shopspring/decimal"

	xerrors "SwapPilot/internal/errors"
)

// Strategy 标识 agent 使用的交易策略。
type Strategy string

const (
	StrategyDCA           Strategy = "dca"
	StrategyMomentum      Strategy = "momentum"
	StrategyMeanReversion Strategy = "mean_reversion"
	StrategySentiment     Strategy = "sentiment"
)

// Valid 判断策略是否为支持的枚举值。
func (s Strategy) Valid() bool {
	switch s {
	case StrategyDCA, StrategyMomentum, StrategyMeanReversion, StrategySentiment:
		return true
	default:
		return false
	}
}

// Status 表示 agent 的生命周期状态。
type Status string

const (
	StatusDeploying Status = "deploying"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// Action 是驱动状态变化的显式操作。
type Action string

const (
	ActionFund     Action = "fund"
	ActionActivate Action = "activate"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionStop     Action = "stop"
	// ActionDrawdown 由信号生成器在回撤超限时自动触发。
	ActionDrawdown Action = "drawdown"
)

// Risk 描述单个 agent 的风险参数，均为百分比。
type Risk struct {
	MaxDrawdownPct     decimal.Decimal `json:"maxDrawdownPct"`
	MaxPositionSizePct decimal.Decimal `json:"maxPositionSizePct"`
}

// Budget 记录分配预算与剩余预算，单位为 Currency。
type Budget struct {
	Allocated decimal.Decimal `json:"allocatedBudget"`
	Remaining decimal.Decimal `json:"remainingBudget"`
	Currency  string          `json:"currency"`
}

// Stats 是 agent 的运行统计。
type Stats struct {
	PnLUSD     decimal.Decimal `json:"pnlUsd"`
	PnLPct     decimal.Decimal `json:"pnlPct"`
	TradeCount int             `json:"tradeCount"`
}

// Agent 描述一个自治交易配置。
type Agent struct {
	ID                string   `json:"id"`
	Owner             string   `json:"owner"`
	Name              string   `json:"name"`
	Strategy          Strategy `json:"strategy"`
	Risk              Risk     `json:"risk"`
	Budget            Budget   `json:"budget"`
	SellToken         string   `json:"sellToken"`
	BuyToken          string   `json:"buyToken"`
	SellTokenDecimals int32    `json:"sellTokenDecimals"`
	TradingEnabled    bool     `json:"tradingEnabled"`
	Status            Status   `json:"status"`
	Stats             Stats    `json:"stats"`
	CreatedAt         int64    `json:"createdAt"`
	UpdatedAt         int64    `json:"updatedAt"`
}

// Tradable 表示 agent 当前可以被信号生成器评估。
func (a *Agent) Tradable() bool {
	return a != nil && a.Status == StatusActive && a.TradingEnabled
}

// DrawdownBreached 判断 |pnlPct| 是否超过最大回撤。
func (a *Agent) DrawdownBreached() bool {
	if a == nil || a.Risk.MaxDrawdownPct.IsZero() {
		return false
	}
	return a.Stats.PnLPct.Abs().GreaterThan(a.Risk.MaxDrawdownPct)
}

var (
	// ErrAgentNotFound 表示 agent 不存在。
	ErrAgentNotFound = xerrors.New(xerrors.CodeNotFound, "agent not found")
	// ErrStaleAgent 表示条件更新时 agent 状态已被其他调用修改。
	ErrStaleAgent = xerrors.New(xerrors.CodeConflict, "agent changed concurrently")
)

var transitions = map[Action]map[Status]Status{
	ActionFund: {
		StatusDeploying: StatusActive,
		StatusActive:    StatusActive,
		StatusPaused:    StatusPaused,
	},
	ActionActivate: {
		StatusPaused: StatusActive,
		StatusError:  StatusActive,
	},
	ActionPause: {
		StatusActive: StatusPaused,
	},
	ActionResume: {
		StatusPaused: StatusActive,
	},
	ActionStop: {
		StatusDeploying: StatusStopped,
		StatusActive:    StatusStopped,
		StatusPaused:    StatusStopped,
		StatusError:     StatusStopped,
	},
	ActionDrawdown: {
		StatusActive: StatusPaused,
	},
}

// Transition 返回在 from 状态执行 action 之后的目标状态。
func Transition(from Status, action Action) (Status, error) {
	next, ok := transitions[action][from]
	if !ok {
		return from, xerrors.New(xerrors.CodeInvalidTransition,
			"agent 状态 "+string(from)+" 不允许执行 "+string(action),
			xerrors.WithMetadata("action", string(action)),
			xerrors.WithMetadata("status", string(from)))
	}
	return next, nil
}

// ParseAction 将外部输入转换为 Action。
func ParseAction(raw string) (Action, bool) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := transitions[action]; !ok {
		return "", false
	}
	return action, true
}

// Validate 检查新建 agent 的必填字段与预算不变量。
func (a *Agent) Validate() error {
	if a == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent 不能为空")
	}
	if strings.TrimSpace(a.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	if !a.Strategy.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的策略: "+string(a.Strategy))
	}
	if strings.TrimSpace(a.SellToken) == "" || strings.TrimSpace(a.BuyToken) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易对不能为空")
	}
	// 下单金额按 SellTokenDecimals 换算为最小单位，缺失时美元金额会被当成最小单位。
	if a.SellTokenDecimals <= 0 || a.SellTokenDecimals > 36 {
		return xerrors.New(xerrors.CodeInvalidArgument, "sellTokenDecimals 必须位于 (0, 36] 区间")
	}
	if a.Budget.Remaining.IsNegative() || a.Budget.Remaining.GreaterThan(a.Budget.Allocated) {
		return xerrors.New(xerrors.CodeInvalidArgument, "剩余预算必须位于 [0, allocated] 区间")
	}
	return nil
}

func cloneAgent(a *Agent) *Agent {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}
