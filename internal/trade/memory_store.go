package trade

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "SwapPilot/internal/errors"
)

// MemoryStore 以内存方式保存交易意图。去重检查与插入在同一把锁内完成。
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*Intent
	writes  int
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*Intent)}
}

// CreateIfNoActive 实现 Store 接口。
func (m *MemoryStore) CreateIfNoActive(_ context.Context, intent *Intent) error {
	if err := intent.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[intent.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "intent 已存在")
	}
	if m.hasActiveLocked(intent.AgentID) {
		return ErrActiveIntentExists
	}
	now := time.Now().Unix()
	if intent.CreatedAt == 0 {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now
	if intent.NextRunAt == 0 {
		intent.NextRunAt = now
	}
	m.intents[intent.ID] = cloneIntent(intent)
	m.writes++
	return nil
}

// HasActive 实现 Store 接口。
func (m *MemoryStore) HasActive(_ context.Context, agentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasActiveLocked(agentID), nil
}

func (m *MemoryStore) hasActiveLocked(agentID string) bool {
	for _, intent := range m.intents {
		if intent.AgentID == agentID && !intent.Status.Terminal() {
			return true
		}
	}
	return false
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, id string) (*Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	intent, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return cloneIntent(intent), nil
}

// List 实现 Store 接口，按 next_run_at、created_at 升序返回。
func (m *MemoryStore) List(_ context.Context, opts ...ListOption) ([]*Intent, error) {
	options := buildListOptions(opts)

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Intent, 0, len(m.intents))
	for _, intent := range m.intents {
		if !options.matches(intent) {
			continue
		}
		results = append(results, cloneIntent(intent))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].NextRunAt == results[j].NextRunAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt < results[j].CreatedAt
		}
		return results[i].NextRunAt < results[j].NextRunAt
	})
	if len(results) > options.Limit {
		results = results[:options.Limit]
	}
	return results, nil
}

// Transition 实现 Store 接口。
func (m *MemoryStore) Transition(_ context.Context, id string, from Status, update Update) error {
	if !CanTransition(from, update.Status) {
		return xerrors.New(xerrors.CodeInvalidTransition, "intent 状态 "+string(from)+" 不能变为 "+string(update.Status))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	if intent.Status != from {
		return ErrStaleIntent
	}
	applyUpdate(intent, update, time.Now().Unix())
	m.writes++
	return nil
}

// RecordFailure 实现 Store 接口。
func (m *MemoryStore) RecordFailure(_ context.Context, id string, from Status, reason string, nextRunAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	if intent.Status != from {
		return ErrStaleIntent
	}
	intent.Attempts++
	intent.ErrorReason = reason
	intent.NextRunAt = nextRunAt
	intent.UpdatedAt = time.Now().Unix()
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
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
