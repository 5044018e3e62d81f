package flywheel

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"SwapPilot/internal/events"
	"SwapPilot/internal/order"
	"SwapPilot/internal/settlement"
	"SwapPilot/internal/web3"
	"SwapPilot/pkg/logger"
)

// BuybackConfig 描述回购任务的参数。Threshold 以结算币的常规单位表示。
type BuybackConfig struct {
	Enabled         bool
	SettlementToken string
	TargetToken     string
	Decimals        int32
	Threshold       decimal.Decimal
	Percent         decimal.Decimal
}

// BuybackResult 是一次回购调用的结果。
type BuybackResult struct {
	Skipped bool      `json:"skipped"`
	Reason  string    `json:"reason,omitempty"`
	Balance string    `json:"balance,omitempty"`
	Spend   string    `json:"spend,omitempty"`
	Order   *OrderRef `json:"order,omitempty"`
}

// Buyback 在金库结算币余额达到阈值时，将余额的固定比例兑换为目标资产。
type Buyback struct {
	cfg   BuybackConfig
	chain web3.Chain
	keys  TreasuryKeys
	swapper
}

// NewBuyback 创建 Buyback。
func NewBuyback(cfg BuybackConfig, chain web3.Chain, keys TreasuryKeys, pipeline *settlement.Pipeline, orders order.Store, publisher events.Publisher) *Buyback {
	s := newSwapper(pipeline, orders)
	if publisher != nil {
		s.publisher = publisher
	}
	return &Buyback{cfg: cfg, chain: chain, keys: keys, swapper: s}
}

// SpendAmount 返回 floor(balance × percent / 100)。
func SpendAmount(balance *big.Int, percent decimal.Decimal) *big.Int {
	if balance == nil || balance.Sign() <= 0 || !percent.IsPositive() {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(balance, 0).Mul(percent).Div(decimal.NewFromInt(100)).Floor().BigInt()
}

// Run 执行一次回购检查。配置缺失或未达阈值时返回 skipped；兑换失败写入 failed 订单。
func (b *Buyback) Run(ctx context.Context) (*BuybackResult, error) {
	if !b.cfg.Enabled {
		return &BuybackResult{Skipped: true, Reason: "buyback disabled"}, nil
	}
	if !common.IsHexAddress(b.cfg.SettlementToken) || !common.IsHexAddress(b.cfg.TargetToken) {
		return &BuybackResult{Skipped: true, Reason: "settlement or target token not configured"}, nil
	}
	if !b.cfg.Percent.IsPositive() || b.cfg.Percent.GreaterThan(decimal.NewFromInt(100)) {
		return &BuybackResult{Skipped: true, Reason: "buyback percent must be in (0, 100]"}, nil
	}
	if !b.cfg.Threshold.IsPositive() {
		return &BuybackResult{Skipped: true, Reason: "buyback threshold not configured"}, nil
	}
	key, err := b.keys.Treasury()
	if err != nil {
		return &BuybackResult{Skipped: true, Reason: "treasury key not configured"}, nil
	}
	treasury := crypto.PubkeyToAddress(key.PublicKey)

	balance, err := b.chain.TokenBalance(ctx, common.HexToAddress(b.cfg.SettlementToken), treasury)
	if err != nil {
		logger.L().Warn("读取金库余额失败", slog.Any("error", err))
		return &BuybackResult{Skipped: true, Reason: "balance read failed"}, nil
	}
	threshold := b.cfg.Threshold.Shift(b.cfg.Decimals).Ceil().BigInt()
	result := &BuybackResult{Balance: balance.String()}
	if balance.Sign() <= 0 || balance.Cmp(threshold) < 0 {
		logger.L().Debug("金库余额未达回购阈值",
			slog.String("balance", balance.String()),
			slog.String("threshold", threshold.String()))
		result.Skipped = true
		result.Reason = "balance below threshold"
		return result, nil
	}

	spend := SpendAmount(balance, b.cfg.Percent)
	if spend.Sign() <= 0 {
		result.Skipped = true
		result.Reason = "spend amount rounds to zero"
		return result, nil
	}
	result.Spend = spend.String()

	ref, err := b.swap(ctx, settlement.Request{
		SellToken:  b.cfg.SettlementToken,
		BuyToken:   b.cfg.TargetToken,
		SellAmount: spend.String(),
		Receiver:   treasury,
		Key:        key,
	})
	if err != nil {
		return nil, err
	}
	result.Order = ref
	return result, nil
}
