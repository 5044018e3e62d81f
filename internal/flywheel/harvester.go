package flywheel

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/internal/events"
	"SwapPilot/internal/order"
	"SwapPilot/internal/settlement"
	"SwapPilot/internal/web3"
	"SwapPilot/pkg/logger"
)

// HarvestConfig 描述手续费收割任务的参数。MinSwapAmount 以中间代币最小单位表示。
type HarvestConfig struct {
	Enabled           bool
	FeeLocker         string
	IntermediateToken string
	SettlementToken   string
	VaultRelayer      string
	MinSwapAmount     *big.Int
	Assets            []web3.RevenueAsset
}

// HarvestResult 是一次收割调用的结果。
type HarvestResult struct {
	Skipped bool      `json:"skipped"`
	Reason  string    `json:"reason,omitempty"`
	Assets  int       `json:"assets"`
	Claimed int       `json:"claimed"`
	Errors  int       `json:"errors"`
	Balance string    `json:"balance,omitempty"`
	Order   *OrderRef `json:"order,omitempty"`
}

// Harvester 领取收益资产累积的手续费，并把中间代币兑换为结算币。
type Harvester struct {
	cfg   HarvestConfig
	chain web3.Chain
	keys  TreasuryKeys
	swapper
}

// NewHarvester 创建 Harvester。
func NewHarvester(cfg HarvestConfig, chain web3.Chain, keys TreasuryKeys, pipeline *settlement.Pipeline, orders order.Store, publisher events.Publisher) *Harvester {
	s := newSwapper(pipeline, orders)
	if publisher != nil {
		s.publisher = publisher
	}
	return &Harvester{cfg: cfg, chain: chain, keys: keys, swapper: s}
}

// Run 执行一次收割。单个资产或代币的失败只计数，不影响其余资产。
func (h *Harvester) Run(ctx context.Context) (*HarvestResult, error) {
	if !h.cfg.Enabled {
		return &HarvestResult{Skipped: true, Reason: "harvest disabled"}, nil
	}
	if !common.IsHexAddress(h.cfg.FeeLocker) {
		return &HarvestResult{Skipped: true, Reason: "fee locker not configured"}, nil
	}
	if !common.IsHexAddress(h.cfg.IntermediateToken) || !common.IsHexAddress(h.cfg.SettlementToken) {
		return &HarvestResult{Skipped: true, Reason: "intermediate or settlement token not configured"}, nil
	}
	if !common.IsHexAddress(h.cfg.VaultRelayer) {
		return &HarvestResult{Skipped: true, Reason: "vault relayer not configured"}, nil
	}
	if len(h.cfg.Assets) == 0 {
		return &HarvestResult{Skipped: true, Reason: "no revenue assets configured"}, nil
	}
	key, err := h.keys.Treasury()
	if err != nil {
		return &HarvestResult{Skipped: true, Reason: "treasury key not configured"}, nil
	}
	treasury := crypto.PubkeyToAddress(key.PublicKey)
	locker := common.HexToAddress(h.cfg.FeeLocker)

	result := &HarvestResult{}
	for _, asset := range h.cfg.Assets {
		if ctx.Err() != nil {
			break
		}
		result.Assets++
		claimed, errs := h.harvestAsset(ctx, key, treasury, locker, asset)
		result.Claimed += claimed
		result.Errors += errs
	}
	if result.Claimed == 0 {
		// 本次未领取到任何手续费时不动用金库里已有的中间代币。
		logger.L().Debug("本轮未领取手续费，跳过兑换", slog.Int("errors", result.Errors))
		result.Reason = "no fees claimed"
		return result, nil
	}

	intermediate := common.HexToAddress(h.cfg.IntermediateToken)
	balance, err := h.chain.TokenBalance(ctx, intermediate, treasury)
	if err != nil {
		result.Errors++
		logger.L().Warn("读取中间代币余额失败", slog.Any("error", err))
		return result, nil
	}
	result.Balance = balance.String()
	if balance.Sign() <= 0 || (h.cfg.MinSwapAmount != nil && balance.Cmp(h.cfg.MinSwapAmount) < 0) {
		logger.L().Debug("中间代币余额低于兑换下限", slog.String("balance", balance.String()))
		return result, nil
	}

	if err := h.ensureAllowance(ctx, key, intermediate, treasury, balance); err != nil {
		result.Errors++
		logger.L().Warn("授权结算合约失败", slog.Any("error", err))
		return result, nil
	}

	ref, err := h.swap(ctx, settlement.Request{
		SellToken:  h.cfg.IntermediateToken,
		BuyToken:   h.cfg.SettlementToken,
		SellAmount: balance.String(),
		Receiver:   treasury,
		Key:        key,
	})
	if err != nil {
		return nil, err
	}
	result.Order = ref
	return result, nil
}

func (h *Harvester) harvestAsset(ctx context.Context, key *ecdsa.PrivateKey, treasury, locker common.Address, asset web3.RevenueAsset) (claimed, errs int) {
	log := logger.L().With(slog.String("asset", asset.Name), slog.String("token", asset.Token))

	var positive []common.Address
	for _, feeToken := range asset.FeeTokenAddresses() {
		available, err := h.chain.AvailableFees(ctx, locker, treasury, feeToken)
		if err != nil {
			errs++
			log.Warn("读取可领取手续费失败", slog.String("fee_token", feeToken.Hex()), slog.Any("error", err))
			continue
		}
		if available.Sign() > 0 {
			positive = append(positive, feeToken)
		}
	}
	if len(positive) == 0 {
		return 0, errs
	}

	if lpLocker, ok := asset.LockerAddress(); ok {
		if _, err := h.chain.CollectFees(ctx, key, lpLocker, asset.TokenAddress()); err != nil {
			// 近期已 collect 过时合约会回滚，属于正常情况。
			log.Debug("collect 失败，继续 claim", slog.Any("error", err))
		}
	}

	for _, feeToken := range positive {
		if _, err := h.chain.ClaimFees(ctx, key, locker, treasury, feeToken); err != nil {
			errs++
			log.Warn("领取手续费失败", slog.String("fee_token", feeToken.Hex()),
				slog.String("code", string(xerrors.CodeOf(err))), slog.Any("error", err))
			continue
		}
		claimed++
		logger.Audit().Info("手续费已领取",
			slog.String("asset", asset.Name),
			slog.String("fee_token", feeToken.Hex()))
	}
	return claimed, errs
}

func (h *Harvester) ensureAllowance(ctx context.Context, key *ecdsa.PrivateKey, token, owner common.Address, amount *big.Int) error {
	spender := common.HexToAddress(h.cfg.VaultRelayer)
	allowance, err := h.chain.Allowance(ctx, token, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	if _, err := h.chain.Approve(ctx, key, token, spender, math.MaxBig256); err != nil {
		return err
	}
	logger.Audit().Info("已授权结算合约",
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()))
	return nil
}
