package settlement

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/pkg/logger"
)

// Request 描述一次报价、签名、提交的输入。
type Request struct {
	SellToken  string
	BuyToken   string
	SellAmount string
	Receiver   common.Address
	Key        *ecdsa.PrivateKey
}

// Result 是成功提交后的订单信息。
type Result struct {
	UID       string
	Quote     *Quote
	Order     Order
	Signature *Signature
}

// Pipeline 串联报价、订单构造、签名与提交。各步骤也可以单独调用，
// 以便调用方在每一步之后持久化中间状态。
type Pipeline struct {
	api     API
	signer  *Signer
	appData string
}

// NewPipeline 创建 Pipeline。appData 为空时使用 32 字节零值。
func NewPipeline(api API, signer *Signer, appData string) *Pipeline {
	if strings.TrimSpace(appData) == "" {
		appData = ZeroAppData
	}
	return &Pipeline{api: api, signer: signer, appData: appData}
}

// API 返回底层结算协议客户端。
func (p *Pipeline) API() API {
	return p.api
}

// Quote 以签名者地址作为 from 请求报价。
func (p *Pipeline) Quote(ctx context.Context, req Request) (*Quote, error) {
	if req.Key == nil {
		return nil, xerrors.New(xerrors.CodeSigningFailed, "签名私钥为空")
	}
	from := crypto.PubkeyToAddress(req.Key.PublicKey)
	return p.api.Quote(ctx, QuoteRequest{
		SellToken:           req.SellToken,
		BuyToken:            req.BuyToken,
		From:                from.Hex(),
		Receiver:            req.Receiver.Hex(),
		SellAmountBeforeFee: req.SellAmount,
		Kind:                KindSell,
		AppData:             p.appData,
	})
}

// Build 将报价转换为规范订单。报价中的 buyAmount 作为最低成交量原样保留。
func (p *Pipeline) Build(quote *Quote, req Request) Order {
	return Order{
		SellToken:         req.SellToken,
		BuyToken:          req.BuyToken,
		Receiver:          req.Receiver.Hex(),
		SellAmount:        quote.SellAmount,
		BuyAmount:         quote.BuyAmount,
		ValidTo:           quote.ValidTo,
		AppData:           p.appData,
		FeeAmount:         quote.FeeAmount,
		Kind:              KindSell,
		PartiallyFillable: false,
		SellTokenBalance:  BalanceERC20,
		BuyTokenBalance:   BalanceERC20,
	}
}

// Sign 对订单签名。
func (p *Pipeline) Sign(order Order, key *ecdsa.PrivateKey) (*Signature, error) {
	return p.signer.Sign(order, key)
}

// Submit 提交订单，并用本地计算的 UID 校验协议返回值。
func (p *Pipeline) Submit(ctx context.Context, order Order, sig *Signature, quoteID int64) (string, error) {
	if sig == nil {
		return "", xerrors.New(xerrors.CodeSigningFailed, "订单尚未签名")
	}
	uid, err := p.api.Submit(ctx, SignedOrder{
		Order:         order,
		SigningScheme: SigningSchemeEIP712,
		Signature:     sig.Hex,
		From:          sig.Owner.Hex(),
		QuoteID:       quoteID,
	})
	if err != nil {
		return "", err
	}
	if local := ComputeUID(sig.Digest, sig.Owner, order.ValidTo); !strings.EqualFold(local, uid) {
		logger.L().Warn("结算协议返回的订单 UID 与本地计算不一致",
			slog.String("uid", uid),
			slog.String("local_uid", local))
	}
	return uid, nil
}

// Execute 依次执行报价、构造、签名与提交。任一步失败都直接返回，不做重试。
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Result, error) {
	quote, err := p.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	order := p.Build(quote, req)
	sig, err := p.Sign(order, req.Key)
	if err != nil {
		return nil, err
	}
	uid, err := p.Submit(ctx, order, sig, quote.ID)
	if err != nil {
		return nil, err
	}
	return &Result{UID: uid, Quote: quote, Order: order, Signature: sig}, nil
}
