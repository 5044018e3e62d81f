package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker 是进程内的任务锁，锁在 ttl 过期后自动失效。
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]uint64
	until map[string]time.Time
	seq   uint64
	now   func() time.Time
}

// NewMemoryLocker 创建 MemoryLocker。
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]uint64),
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

// TryLock 实现 Locker 接口。
func (m *MemoryLocker) TryLock(_ context.Context, name string, ttl time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[name]; ok && m.now().Before(m.until[name]) {
		return nil, false, nil
	}
	m.seq++
	token := m.seq
	m.held[name] = token
	m.until[name] = m.now().Add(ttl)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.held[name] == token {
			delete(m.held, name)
			delete(m.until, name)
		}
	}, true, nil
}
