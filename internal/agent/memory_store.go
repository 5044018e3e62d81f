package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "SwapPilot/internal/errors"
)

// MemoryStore 以内存方式保存 agent，主要用于测试与单机运行。
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*Agent)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, agent *Agent) error {
	if err := agent.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agent.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "agent 已存在")
	}
	now := time.Now().Unix()
	if agent.CreatedAt == 0 {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = StatusDeploying
	}
	m.agents[agent.ID] = cloneAgent(agent)
	return nil
}

// Get 返回 agent 副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return cloneAgent(agent), nil
}

// ListTradable 实现 Store 接口。
func (m *MemoryStore) ListTradable(_ context.Context, limit int) ([]*Agent, error) {
	return m.list(limit, (*Agent).Tradable), nil
}

// List 返回全部 agent。
func (m *MemoryStore) List(_ context.Context, limit int) ([]*Agent, error) {
	return m.list(limit, nil), nil
}

func (m *MemoryStore) list(limit int, keep func(*Agent) bool) []*Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		if keep != nil && !keep(agent) {
			continue
		}
		results = append(results, cloneAgent(agent))
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

// UpdateStatus 实现 Store 接口。
func (m *MemoryStore) UpdateStatus(_ context.Context, id string, expected, next Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	if agent.Status != expected {
		return ErrStaleAgent
	}
	agent.Status = next
	agent.UpdatedAt = time.Now().Unix()
	return nil
}

// AddFunds 实现 Store 接口。
func (m *MemoryStore) AddFunds(_ context.Context, id string, amount decimal.Decimal, expected, next Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	if agent.Status != expected {
		return ErrStaleAgent
	}
	agent.Budget.Allocated = agent.Budget.Allocated.Add(amount)
	agent.Budget.Remaining = agent.Budget.Remaining.Add(amount)
	agent.Status = next
	agent.UpdatedAt = time.Now().Unix()
	return nil
}

// DebitBudget 实现 Store 接口。
func (m *MemoryStore) DebitBudget(_ context.Context, id string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	remaining := agent.Budget.Remaining.Sub(amount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	agent.Budget.Remaining = remaining
	agent.Stats.TradeCount++
	agent.UpdatedAt = time.Now().Unix()
	return nil
}

// SetTradingEnabled 实现 Store 接口。
func (m *MemoryStore) SetTradingEnabled(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	agent.TradingEnabled = enabled
	agent.UpdatedAt = time.Now().Unix()
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
