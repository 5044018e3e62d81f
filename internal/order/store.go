package order

import "context"

// Store 保存单个订单族的行。
type Store interface {
	Family() Family
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// ListPending 返回带 UID 且尚未终结的订单。
	ListPending(ctx context.Context, limit int) ([]*Order, error)
	List(ctx context.Context, limit int) ([]*Order, error)
	// Transition 仅当当前状态等于 from 时写入 outcome。
	Transition(ctx context.Context, id string, from Status, outcome Outcome) error
	Close() error
}
