package trade

import "context"

// Store 抽象了交易意图队列的持久化接口。
type Store interface {
	// CreateIfNoActive 原子地插入意图；若该 agent 已有未终结意图则返回 ErrActiveIntentExists。
	CreateIfNoActive(ctx context.Context, intent *Intent) error
	// HasActive 是廉价的预检查，最终以 CreateIfNoActive 为准。
	HasActive(ctx context.Context, agentID string) (bool, error)
	Get(ctx context.Context, id string) (*Intent, error)
	List(ctx context.Context, opts ...ListOption) ([]*Intent, error)
	// Transition 仅当当前状态等于 from 且变化为前向时写入 update。
	Transition(ctx context.Context, id string, from Status, update Update) error
	// RecordFailure 记录一次失败尝试并推迟下次执行时间，状态保持不变。
	RecordFailure(ctx context.Context, id string, from Status, reason string, nextRunAt int64) error
	Close() error
}
