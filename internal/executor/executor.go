package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/internal/events"
	"SwapPilot/internal/order"
	"SwapPilot/internal/settlement"
	"SwapPilot/internal/trade"
	"SwapPilot/pkg/logger"
)

// Keys 返回所有者对应的委托签名私钥。
type Keys interface {
	ForOwner(owner string) (*ecdsa.PrivateKey, error)
}

// Summary 是一次执行的统计结果。
type Summary struct {
	Processed int `json:"processed"`
	Submitted int `json:"submitted"`
	Deferred  int `json:"deferred"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
}

// Executor 把到期的 queued/quoted/signed 意图推进到 submitted。
// 失败时意图保持原状态并按指数退避推迟；累计失败达到上限后标记为 failed。
type Executor struct {
	intents     trade.Store
	pipeline    *settlement.Pipeline
	keys        Keys
	publisher   events.Publisher
	limit       int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	now         func() time.Time
}

// Option 定义可选配置。
type Option func(*Executor)

// WithBatchLimit 设置单次处理的意图上限。
func WithBatchLimit(limit int) Option {
	return func(e *Executor) {
		if limit > 0 {
			e.limit = limit
		}
	}
}

// WithMaxAttempts 设置意图被标记为 failed 之前允许的失败次数。
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryDelay 设置退避的起始与上限间隔。
func WithRetryDelay(base, maxDelay time.Duration) Option {
	return func(e *Executor) {
		if base > 0 {
			e.baseDelay = base
		}
		if maxDelay >= e.baseDelay {
			e.maxDelay = maxDelay
		}
	}
}

// WithPublisher 设置事件发布器。
func WithPublisher(p events.Publisher) Option {
	return func(e *Executor) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New 创建 Executor。
func New(intents trade.Store, pipeline *settlement.Pipeline, keys Keys, opts ...Option) *Executor {
	e := &Executor{
		intents:     intents,
		pipeline:    pipeline,
		keys:        keys,
		publisher:   events.Discard,
		limit:       50,
		maxAttempts: 12,
		baseDelay:   time.Minute,
		maxDelay:    time.Hour,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Run 处理一批到期意图。只有列出意图失败会返回错误。
func (e *Executor) Run(ctx context.Context) (*Summary, error) {
	due, err := e.intents.List(ctx,
		trade.WithStatuses(trade.StatusQueued, trade.StatusQuoted, trade.StatusSigned),
		trade.WithDueBefore(e.now().Unix()),
		trade.WithLimit(e.limit))
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for _, intent := range due {
		if ctx.Err() != nil {
			break
		}
		summary.Processed++
		status, err := e.execute(ctx, intent)
		if err == nil {
			summary.Submitted++
			continue
		}
		if errors.Is(err, trade.ErrStaleIntent) {
			// 另一个调用已推进该意图。
			logger.L().Debug("意图已被并发修改，跳过", slog.String("intent_id", intent.ID))
			continue
		}
		failed, recErr := e.recordFailure(ctx, intent, status, err)
		switch {
		case recErr != nil:
			summary.Errors++
			logger.L().Error("记录意图失败状态出错",
				slog.String("intent_id", intent.ID),
				slog.Any("error", recErr))
		case failed:
			summary.Failed++
		default:
			summary.Deferred++
		}
	}

	logger.L().Info("意图执行完成",
		slog.Int("processed", summary.Processed),
		slog.Int("submitted", summary.Submitted),
		slog.Int("deferred", summary.Deferred),
		slog.Int("failed", summary.Failed),
		slog.Int("errors", summary.Errors))
	return summary, nil
}

// execute 每次都重新报价，返回出错时意图所处的状态。
func (e *Executor) execute(ctx context.Context, intent *trade.Intent) (trade.Status, error) {
	status := intent.Status
	if !common.IsHexAddress(intent.Owner) {
		return status, xerrors.New(xerrors.CodeInvalidArgument, "意图所有者地址非法",
			xerrors.WithRetryable(false))
	}
	key, err := e.keys.ForOwner(intent.Owner)
	if err != nil {
		return status, err
	}
	req := settlement.Request{
		SellToken:  intent.SellToken,
		BuyToken:   intent.BuyToken,
		SellAmount: intent.SellAmount,
		Receiver:   common.HexToAddress(intent.Owner),
		Key:        key,
	}

	quote, err := e.pipeline.Quote(ctx, req)
	if err != nil {
		return status, err
	}
	snapshot := quote.Snapshot()
	if status == trade.StatusQueued {
		if err := e.intents.Transition(ctx, intent.ID, status, trade.Update{Status: trade.StatusQuoted, Quote: snapshot}); err != nil {
			return status, err
		}
		status = trade.StatusQuoted
	}

	built := e.pipeline.Build(quote, req)
	sig, err := e.pipeline.Sign(built, key)
	if err != nil {
		return status, err
	}
	if status == trade.StatusQuoted {
		if err := e.intents.Transition(ctx, intent.ID, status, trade.Update{Status: trade.StatusSigned, Quote: snapshot}); err != nil {
			return status, err
		}
		status = trade.StatusSigned
	}

	uid, err := e.pipeline.Submit(ctx, built, sig, quote.ID)
	if err != nil {
		return status, err
	}
	if err := e.markSubmitted(ctx, intent.ID, status, uid, snapshot); err != nil {
		// 订单已提交但状态写入失败，下次执行会重新报价并产生新订单。
		logger.L().Error("订单已提交但意图状态写入失败",
			slog.String("intent_id", intent.ID),
			slog.String("uid", uid),
			slog.Any("error", err))
		return status, err
	}

	logger.Audit().Info("订单已提交",
		slog.String("intent_id", intent.ID),
		slog.String("agent_id", intent.AgentID),
		slog.String("uid", uid),
		slog.String("sell_amount", built.SellAmount),
		slog.String("min_buy_amount", built.BuyAmount))
	e.publisher.Publish(events.Event{
		Type:    events.TypeOrderSubmitted,
		Subject: uid,
		Attributes: map[string]string{
			"family":    "trade_queue",
			"intent_id": intent.ID,
			"agent_id":  intent.AgentID,
		},
	})
	return trade.StatusSubmitted, nil
}

// markSubmitted 写入 submitted 状态，失败时用同一 uid 重试一次。
// 首次写入可能已生效但返回错误，此时以存储中的 uid 为准。
func (e *Executor) markSubmitted(ctx context.Context, id string, from trade.Status, uid string, snapshot *order.Snapshot) error {
	update := trade.Update{Status: trade.StatusSubmitted, OrderUID: uid, Quote: snapshot}
	err := e.intents.Transition(ctx, id, from, update)
	if err == nil {
		return nil
	}
	logger.L().Warn("写入 submitted 状态失败，重试一次",
		slog.String("intent_id", id),
		slog.String("uid", uid),
		slog.Any("error", err))
	if retryErr := e.intents.Transition(ctx, id, from, update); retryErr == nil {
		return nil
	}
	if current, getErr := e.intents.Get(ctx, id); getErr == nil &&
		current.Status == trade.StatusSubmitted && current.OrderUID == uid {
		return nil
	}
	return err
}

// recordFailure 返回意图是否已被标记为 failed。
func (e *Executor) recordFailure(ctx context.Context, intent *trade.Intent, status trade.Status, cause error) (bool, error) {
	reason := xerrors.Reason(cause)
	attempts := intent.Attempts + 1
	log := logger.L().With(
		slog.String("intent_id", intent.ID),
		slog.String("status", string(status)),
		slog.Int("attempts", attempts),
		slog.String("code", string(xerrors.CodeOf(cause))))
	events.Alert(e.publisher, intent.ID, cause)

	permanent := false
	if xe, ok := xerrors.From(cause); ok && xe.Code() == xerrors.CodeInvalidArgument {
		permanent = true
	}
	if permanent || attempts >= e.maxAttempts {
		if err := e.intents.Transition(ctx, intent.ID, status, trade.Update{
			Status:      trade.StatusFailed,
			ErrorReason: reason,
		}); err != nil {
			return false, err
		}
		log.Warn("意图执行失败次数达到上限，标记为 failed", slog.String("reason", reason))
		logger.Audit().Warn("交易意图失败",
			slog.String("intent_id", intent.ID),
			slog.String("agent_id", intent.AgentID),
			slog.String("reason", reason))
		return true, nil
	}

	next := e.now().Add(e.backoff(attempts)).Unix()
	if err := e.intents.RecordFailure(ctx, intent.ID, status, reason, next); err != nil {
		return false, err
	}
	log.Warn("意图执行失败，等待下次调度", slog.Any("error", cause), slog.Int64("next_run_at", next))
	return false, nil
}

func (e *Executor) backoff(attempts int) time.Duration {
	delay := e.baseDelay
	for i := 1; i < attempts && delay < e.maxDelay; i++ {
		delay *= 2
	}
	if delay > e.maxDelay {
		delay = e.maxDelay
	}
	return delay
}
