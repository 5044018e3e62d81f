package events

import (
	"context"
	"time"

	xerrors "SwapPilot/internal/errors"
)

// 事件类型。
const (
	TypeIntentQueued   = "intent.queued"
	TypeAgentPaused    = "agent.paused"
	TypeOrderSubmitted = "order.submitted"
	TypeOrderSettled   = "order.settled"
	TypeAlert          = "alert"
)

// Event 描述一次尽力而为的通知事件。
type Event struct {
	Type       string            `json:"type"`
	Subject    string            `json:"subject"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Publisher 投递事件。Publish 不阻塞调用方，也不返回错误。
type Publisher interface {
	Publish(event Event)
}

// Sink 是事件最终写入的目标。
type Sink interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// Discard 丢弃所有事件。
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Alert 根据错误码判断是否需要告警，需要时投递 alert 事件。
func Alert(p Publisher, subject string, err error) {
	if p == nil || err == nil || !xerrors.ShouldAlert(err) {
		return
	}
	attrs := map[string]string{
		"code":     string(xerrors.CodeOf(err)),
		"severity": string(xerrors.SeverityOf(err)),
		"reason":   xerrors.Reason(err),
	}
	if e, ok := xerrors.From(err); ok {
		for k, v := range e.Metadata() {
			attrs[k] = v
		}
	}
	p.Publish(Event{Type: TypeAlert, Subject: subject, Attributes: attrs, OccurredAt: time.Now()})
}
