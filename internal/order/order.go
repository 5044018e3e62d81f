// Package order holds the order shape shared by the three settlement order
// families and the persisted rows for the treasury families (buyback and
// flywheel sentiment). Trade-queue orders live on the trade intent itself.
package order

import (
	"math/big"
	"strings"

	xerrors "SwapPilot/internal/errors"
)

// Family 标识订单所属的族。
type Family string

const (
	FamilyTradeQueue Family = "trade_queue"
	FamilyBuyback    Family = "buyback"
	FamilySentiment  Family = "flywheel_sentiment"
)

// Families 按对账顺序列出全部订单族。
var Families = []Family{FamilyTradeQueue, FamilyBuyback, FamilySentiment}

// Status 表示金库订单的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusOpen      Status = "open"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

// Terminal 表示状态不可再变化。
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition 只允许 pending -> open -> 终态 的前向变化。
func CanTransition(from, to Status) bool {
	if from == to || from.Terminal() {
		return false
	}
	if from == StatusOpen && to == StatusPending {
		return false
	}
	return true
}

// Snapshot 是签名时捕获的报价快照。BuyAmount 是最低可接受成交量。
type Snapshot struct {
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
	FeeAmount  string `json:"feeAmount"`
	ValidTo    uint32 `json:"validTo"`
	Kind       string `json:"kind"`
	QuoteID    int64  `json:"quoteId,omitempty"`
}

// Outcome 是对账后要写入的终态或中间态。
type Outcome struct {
	Status            Status
	ExecutedBuyAmount string
	Savings           string
	ErrorReason       string
	FilledAt          int64
}

// Order 是金库族订单的持久化行。
type Order struct {
	ID                string    `json:"id"`
	Family            Family    `json:"family"`
	UID               string    `json:"uid,omitempty"`
	SellToken         string    `json:"sellToken"`
	BuyToken          string    `json:"buyToken"`
	SellAmount        string    `json:"sellAmount"`
	Quote             *Snapshot `json:"quote,omitempty"`
	Status            Status    `json:"status"`
	ExecutedBuyAmount string    `json:"executedBuyAmount,omitempty"`
	Savings           string    `json:"savings,omitempty"`
	ErrorReason       string    `json:"errorReason,omitempty"`
	CreatedAt         int64     `json:"createdAt"`
	UpdatedAt         int64     `json:"updatedAt"`
	FilledAt          int64     `json:"filledAt,omitempty"`
}

var (
	// ErrOrderNotFound 表示订单不存在。
	ErrOrderNotFound = xerrors.New(xerrors.CodeNotFound, "order not found")
	// ErrStaleOrder 表示条件更新时订单状态已被修改。
	ErrStaleOrder = xerrors.New(xerrors.CodeConflict, "order changed concurrently")
)

// Savings 返回 executed - quotedMin，结果非正时返回 "0"。两者均为最小单位整数。
func Savings(executed, quotedMin string) string {
	exec, ok := new(big.Int).SetString(strings.TrimSpace(executed), 10)
	if !ok {
		return "0"
	}
	minimum, ok := new(big.Int).SetString(strings.TrimSpace(quotedMin), 10)
	if !ok {
		return "0"
	}
	diff := new(big.Int).Sub(exec, minimum)
	if diff.Sign() <= 0 {
		return "0"
	}
	return diff.String()
}

// IsPositiveAmount 判断最小单位整数字符串是否大于 0。
func IsPositiveAmount(amount string) bool {
	v, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	return ok && v.Sign() > 0
}

func cloneOrder(o *Order) *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Quote != nil {
		q := *o.Quote
		clone.Quote = &q
	}
	return &clone
}
