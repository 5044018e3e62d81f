package events

import (
	"context"
	"log/slog"

	"SwapPilot/pkg/logger"
)

// LogSink 将事件写入审计日志。
type LogSink struct{}

// Send 实现 Sink 接口。
func (LogSink) Send(_ context.Context, event Event) error {
	attrs := []any{slog.String("type", event.Type), slog.String("subject", event.Subject)}
	for k, v := range event.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.Audit().Info("event", attrs...)
	return nil
}

// Close 实现 Sink 接口。
func (LogSink) Close() error { return nil }

// MemorySink 在内存中保存事件，主要用于测试。
type MemorySink struct {
	events chan Event
}

// NewMemorySink 创建 MemorySink。
func NewMemorySink(size int) *MemorySink {
	if size <= 0 {
		size = 64
	}
	return &MemorySink{events: make(chan Event, size)}
}

// Send 实现 Sink 接口。
func (m *MemorySink) Send(ctx context.Context, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.events <- event:
		return nil
	}
}

// Events 返回接收事件的 channel。
func (m *MemorySink) Events() <-chan Event { return m.events }

// Close 实现 Sink 接口。
func (m *MemorySink) Close() error { return nil }
