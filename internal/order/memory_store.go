package order

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "SwapPilot/internal/errors"
)

// MemoryStore 以内存方式保存单个订单族。
type MemoryStore struct {
	family Family
	mu     sync.RWMutex
	orders map[string]*Order
	writes int
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore(family Family) *MemoryStore {
	return &MemoryStore{family: family, orders: make(map[string]*Order)}
}

// Family 实现 Store 接口。
func (m *MemoryStore) Family() Family { return m.family }

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, order *Order) error {
	if order == nil || order.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "订单 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "订单已存在")
	}
	now := time.Now().Unix()
	order.Family = m.family
	if order.CreatedAt == 0 {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	m.orders[order.ID] = cloneOrder(order)
	m.writes++
	return nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListPending 实现 Store 接口。
func (m *MemoryStore) ListPending(_ context.Context, limit int) ([]*Order, error) {
	return m.list(limit, func(o *Order) bool { return o.UID != "" && !o.Status.Terminal() }), nil
}

// List 实现 Store 接口。
func (m *MemoryStore) List(_ context.Context, limit int) ([]*Order, error) {
	return m.list(limit, nil), nil
}

func (m *MemoryStore) list(limit int, keep func(*Order) bool) []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		if keep != nil && !keep(o) {
			continue
		}
		results = append(results, cloneOrder(o))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt < results[j].CreatedAt
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Transition 实现 Store 接口。
func (m *MemoryStore) Transition(_ context.Context, id string, from Status, outcome Outcome) error {
	if !CanTransition(from, outcome.Status) {
		return xerrors.New(xerrors.CodeInvalidTransition, "订单状态 "+string(from)+" 不能变为 "+string(outcome.Status))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != from {
		return ErrStaleOrder
	}
	o.Status = outcome.Status
	o.ExecutedBuyAmount = outcome.ExecutedBuyAmount
	o.Savings = outcome.Savings
	o.ErrorReason = outcome.ErrorReason
	o.FilledAt = outcome.FilledAt
	o.UpdatedAt = time.Now().Unix()
	m.writes++
	return nil
}

// Writes 返回累计写入次数，供幂等性测试使用。
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
