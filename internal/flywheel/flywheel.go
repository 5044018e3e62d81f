package flywheel

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/internal/events"
	"SwapPilot/internal/order"
	"SwapPilot/internal/settlement"
	"SwapPilot/pkg/logger"
)

// TreasuryKeys 返回金库签名私钥。
type TreasuryKeys interface {
	Treasury() (*ecdsa.PrivateKey, error)
}

// OrderRef 是本次调用写入的订单摘要。
type OrderRef struct {
	ID     string       `json:"id"`
	UID    string       `json:"uid,omitempty"`
	Status order.Status `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// swapper 报价、签名并提交一笔金库兑换，无论成功失败都写一条订单记录。
type swapper struct {
	pipeline  *settlement.Pipeline
	orders    order.Store
	publisher events.Publisher
	now       func() time.Time
	newID     func() string
}

func newSwapper(pipeline *settlement.Pipeline, orders order.Store) swapper {
	return swapper{
		pipeline:  pipeline,
		orders:    orders,
		publisher: events.Discard,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (s swapper) swap(ctx context.Context, req settlement.Request) (*OrderRef, error) {
	record := &order.Order{
		ID:         s.newID(),
		SellToken:  req.SellToken,
		BuyToken:   req.BuyToken,
		SellAmount: req.SellAmount,
		CreatedAt:  s.now().Unix(),
	}

	res, execErr := s.pipeline.Execute(ctx, req)
	if execErr != nil {
		record.Status = order.StatusFailed
		record.ErrorReason = xerrors.Reason(execErr)
		events.Alert(s.publisher, record.ID, execErr)
	} else {
		record.Status = order.StatusOpen
		record.UID = res.UID
		record.Quote = res.Quote.Snapshot()
	}

	if err := s.orders.Create(ctx, record); err != nil {
		logger.L().Error("写入金库订单失败",
			slog.String("family", string(s.orders.Family())),
			slog.String("uid", record.UID),
			slog.Any("error", err))
		return nil, err
	}

	ref := &OrderRef{ID: record.ID, UID: record.UID, Status: record.Status, Error: record.ErrorReason}
	if execErr != nil {
		logger.L().Warn("金库兑换失败",
			slog.String("family", string(s.orders.Family())),
			slog.String("order_id", record.ID),
			slog.Any("error", execErr))
		return ref, nil
	}

	logger.Audit().Info("金库兑换已提交",
		slog.String("family", string(s.orders.Family())),
		slog.String("order_id", record.ID),
		slog.String("uid", record.UID),
		slog.String("sell_token", record.SellToken),
		slog.String("buy_token", record.BuyToken),
		slog.String("sell_amount", record.SellAmount))
	s.publisher.Publish(events.Event{
		Type:    events.TypeOrderSubmitted,
		Subject: record.UID,
		Attributes: map[string]string{
			"family":   string(s.orders.Family()),
			"order_id": record.ID,
		},
	})
	return ref, nil
}
