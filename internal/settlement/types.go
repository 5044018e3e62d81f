package settlement

import (
	"context"

	"SwapPilot/internal/order"
)

const (
	// KindSell 是本系统唯一使用的订单类型。
	KindSell = "sell"
	// BalanceERC20 是订单的卖出/买入余额来源。
	BalanceERC20 = "erc20"
	// SigningSchemeEIP712 表示使用 EIP-712 typed-data 签名。
	SigningSchemeEIP712 = "eip712"
	// ZeroAppData 是未配置 appData 时使用的 32 字节零值。
	ZeroAppData = "0x0000000000000000000000000000000000000000000000000000000000000000"
)

// QuoteRequest 是报价接口的请求体。
type QuoteRequest struct {
	SellToken           string `json:"sellToken"`
	BuyToken            string `json:"buyToken"`
	From                string `json:"from"`
	Receiver            string `json:"receiver"`
	SellAmountBeforeFee string `json:"sellAmountBeforeFee"`
	Kind                string `json:"kind"`
	AppData             string `json:"appData,omitempty"`
}

// Quote 是报价接口返回的订单参数。BuyAmount 是最低可接受成交量。
type Quote struct {
	SellToken  string `json:"sellToken"`
	BuyToken   string `json:"buyToken"`
	Receiver   string `json:"receiver"`
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
	FeeAmount  string `json:"feeAmount"`
	ValidTo    uint32 `json:"validTo"`
	Kind       string `json:"kind"`
	ID         int64  `json:"-"`
}

// Snapshot 将报价转换为随订单落库的快照。
func (q *Quote) Snapshot() *order.Snapshot {
	if q == nil {
		return nil
	}
	return &order.Snapshot{
		SellAmount: q.SellAmount,
		BuyAmount:  q.BuyAmount,
		FeeAmount:  q.FeeAmount,
		ValidTo:    q.ValidTo,
		Kind:       q.Kind,
		QuoteID:    q.ID,
	}
}

type quoteResponse struct {
	Quote      Quote  `json:"quote"`
	From       string `json:"from"`
	Expiration string `json:"expiration"`
	ID         int64  `json:"id"`
}

// Order 是签名与提交使用的规范订单，字段顺序与 GPv2 Order 结构一致。
type Order struct {
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	Receiver          string `json:"receiver"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidTo           uint32 `json:"validTo"`
	AppData           string `json:"appData"`
	FeeAmount         string `json:"feeAmount"`
	Kind              string `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	SellTokenBalance  string `json:"sellTokenBalance"`
	BuyTokenBalance   string `json:"buyTokenBalance"`
}

// SignedOrder 是提交接口的请求体。
type SignedOrder struct {
	Order
	SigningScheme string `json:"signingScheme"`
	Signature     string `json:"signature"`
	From          string `json:"from"`
	QuoteID       int64  `json:"quoteId,omitempty"`
}

// 结算协议的订单状态。
const (
	StatusPresignaturePending = "presignaturePending"
	StatusOpen                = "open"
	StatusFulfilled           = "fulfilled"
	StatusCancelled           = "cancelled"
	StatusExpired             = "expired"
)

// OrderStatus 是状态查询接口返回的订单视图。
type OrderStatus struct {
	UID               string `json:"uid"`
	Status            string `json:"status"`
	ExecutedBuyAmount string `json:"executedBuyAmount"`
	Invalidated       bool   `json:"invalidated"`
}

// API 是流水线实际使用的结算协议调用集合。
type API interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	Submit(ctx context.Context, order SignedOrder) (string, error)
	Status(ctx context.Context, uid string) (*OrderStatus, error)
}
