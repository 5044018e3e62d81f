package trade

import (
	"strings"

	"github.com/shopspring/decimal"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/internal/order"
)

// Status 表示交易意图在生命周期中的状态。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusQuoted    Status = "quoted"
	StatusSigned    Status = "signed"
	StatusSubmitted Status = "submitted"
	StatusOpen      Status = "open"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

// ActiveStatuses 列出所有非终态。每个 agent 同一时刻最多只有一条处于这些状态的意图。
var ActiveStatuses = []Status{StatusQueued, StatusQuoted, StatusSigned, StatusSubmitted, StatusOpen}

var statusRank = map[Status]int{
	StatusQueued:    0,
	StatusQuoted:    1,
	StatusSigned:    2,
	StatusSubmitted: 3,
	StatusOpen:      4,
	StatusFilled:    5,
	StatusCancelled: 5,
	StatusExpired:   5,
	StatusFailed:    5,
}

// Terminal 表示状态不可再变化。
func (s Status) Terminal() bool {
	return statusRank[s] == 5
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	_, ok := statusRank[status]
	return ok
}

// CanTransition 只允许严格前向的状态变化，终态不可再变化。
func CanTransition(from, to Status) bool {
	if !IsValidStatus(from) || !IsValidStatus(to) || from.Terminal() {
		return false
	}
	return statusRank[to] > statusRank[from]
}

// Intent 描述一笔等待执行的候选交易。
type Intent struct {
	ID                string          `json:"id"`
	AgentID           string          `json:"agentId"`
	Owner             string          `json:"owner"`
	SellToken         string          `json:"sellToken"`
	BuyToken          string          `json:"buyToken"`
	SellAmount        string          `json:"sellAmount"`
	SellAmountUSD     decimal.Decimal `json:"sellAmountUsd"`
	Status            Status          `json:"status"`
	OrderUID          string          `json:"orderUid,omitempty"`
	Quote             *order.Snapshot `json:"quote,omitempty"`
	ExecutedBuyAmount string          `json:"executedBuyAmount,omitempty"`
	Savings           string          `json:"savings,omitempty"`
	ErrorReason       string          `json:"errorReason,omitempty"`
	Attempts          int             `json:"attempts"`
	CreatedAt         int64           `json:"createdAt"`
	UpdatedAt         int64           `json:"updatedAt"`
	NextRunAt         int64           `json:"nextRunAt"`
	FilledAt          int64           `json:"filledAt,omitempty"`
}

// Update 描述一次条件状态变更要写入的字段。空的 OrderUID 与 nil 的 Quote 表示保持原值。
type Update struct {
	Status            Status
	OrderUID          string
	Quote             *order.Snapshot
	ExecutedBuyAmount string
	Savings           string
	ErrorReason       string
	FilledAt          int64
}

var (
	// ErrIntentNotFound 表示意图不存在。
	ErrIntentNotFound = xerrors.New(xerrors.CodeNotFound, "trade intent not found")
	// ErrActiveIntentExists 表示该 agent 已有未终结的意图。
	ErrActiveIntentExists = xerrors.New(xerrors.CodeIntentConflict, "")
	// ErrStaleIntent 表示条件更新时意图状态已被修改。
	ErrStaleIntent = xerrors.New(xerrors.CodeConflict, "trade intent changed concurrently")
)

func (i *Intent) validate() error {
	if i == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "intent 不能为空")
	}
	if strings.TrimSpace(i.ID) == "" || strings.TrimSpace(i.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "intent ID 与 agent ID 不能为空")
	}
	if !order.IsPositiveAmount(i.SellAmount) {
		return xerrors.New(xerrors.CodeInvalidArgument, "卖出数量必须为正整数")
	}
	if i.Status == "" {
		i.Status = StatusQueued
	}
	if i.Status.Terminal() {
		return xerrors.New(xerrors.CodeInvalidArgument, "不能直接创建终态意图")
	}
	return nil
}

func cloneIntent(i *Intent) *Intent {
	if i == nil {
		return nil
	}
	clone := *i
	if i.Quote != nil {
		q := *i.Quote
		clone.Quote = &q
	}
	return &clone
}

func applyUpdate(i *Intent, update Update, now int64) {
	i.Status = update.Status
	if update.OrderUID != "" {
		i.OrderUID = update.OrderUID
	}
	if update.Quote != nil {
		q := *update.Quote
		i.Quote = &q
	}
	i.ExecutedBuyAmount = update.ExecutedBuyAmount
	i.Savings = update.Savings
	i.ErrorReason = update.ErrorReason
	i.FilledAt = update.FilledAt
	i.UpdatedAt = now
}
