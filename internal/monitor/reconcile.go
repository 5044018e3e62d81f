package monitor

import (
	"time"

	"SwapPilot/internal/order"
	"SwapPilot/internal/settlement"
)

// Tracked 是任意订单族中一条待对账订单的统一视图。
type Tracked struct {
	ID     string
	UID    string
	Status order.Status
	// MinBuyAmount 是报价快照中的最低成交量，用于计算 savings。
	MinBuyAmount string
}

// Reconcile 根据结算协议返回的状态计算新的结果。changed 为 false 时不应写库。
func Reconcile(current Tracked, remote *settlement.OrderStatus, now time.Time) (order.Outcome, bool) {
	next := order.Outcome{Status: current.Status}
	switch {
	case remote.Status == settlement.StatusFulfilled || order.IsPositiveAmount(remote.ExecutedBuyAmount):
		next.Status = order.StatusFilled
		next.ExecutedBuyAmount = remote.ExecutedBuyAmount
		next.Savings = order.Savings(remote.ExecutedBuyAmount, current.MinBuyAmount)
		next.FilledAt = now.Unix()
	case remote.Status == settlement.StatusExpired:
		next.Status = order.StatusExpired
		next.ErrorReason = "order expired before settlement"
	case remote.Status == settlement.StatusCancelled || remote.Invalidated:
		next.Status = order.StatusCancelled
		next.ErrorReason = "order cancelled or invalidated"
	case remote.Status == settlement.StatusOpen:
		next.Status = order.StatusOpen
	}
	if next.Status == current.Status || !order.CanTransition(current.Status, next.Status) {
		return order.Outcome{Status: current.Status}, false
	}
	return next, true
}
