package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"SwapPilot/pkg/logger"
)

// Dispatcher 在后台协程中把事件写入 Sink。缓冲区满或已关闭时事件被丢弃并记录日志，
// 发送失败只记录日志，不影响调用方。
type Dispatcher struct {
	sink    Sink
	ch      chan Event
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewDispatcher 创建 Dispatcher 并启动后台协程。
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &Dispatcher{
		sink:    sink,
		ch:      make(chan Event, buffer),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Publish 实现 Publisher 接口。
func (d *Dispatcher) Publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- event:
	default:
		d.dropped.Add(1)
		logger.L().Warn("事件缓冲区已满，丢弃事件", slog.String("type", event.Type), slog.String("subject", event.Subject))
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for event := range d.ch {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Send(ctx, event); err != nil {
			logger.L().Warn("事件投递失败",
				slog.String("type", event.Type),
				slog.String("subject", event.Subject),
				slog.Any("error", err))
		}
		cancel()
	}
}

// Dropped 返回因缓冲区已满被丢弃的事件数。
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close 停止接收新事件，等待缓冲区写完后关闭 Sink。
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()

	<-d.done
	return d.sink.Close()
}
