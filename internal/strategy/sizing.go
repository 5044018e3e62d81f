package strategy

import (
	"github.com/shopspring/decimal"

	"SwapPilot/internal/agent"
)

var (
	hundred        = decimal.NewFromInt(100)
	dcaCeilingPct  = decimal.NewFromInt(10)
	sentimentCeil  = decimal.NewFromInt(15)
	meanRevDivisor = decimal.NewFromInt(2)
)

// PositionSizePct 返回策略在一次评估中允许使用的剩余预算百分比。
func PositionSizePct(strategy agent.Strategy, configured decimal.Decimal) decimal.Decimal {
	switch strategy {
	case agent.StrategyDCA:
		return decimal.Min(configured, dcaCeilingPct)
	case agent.StrategyMomentum:
		return configured
	case agent.StrategyMeanReversion:
		return configured.Div(meanRevDivisor)
	case agent.StrategySentiment:
		return decimal.Min(configured, sentimentCeil)
	default:
		return decimal.Zero
	}
}

// PositionSize 计算本次交易的美元金额：min(remaining × pct / 100, remaining)。
func PositionSize(a *agent.Agent) decimal.Decimal {
	remaining := a.Budget.Remaining
	if !remaining.IsPositive() {
		return decimal.Zero
	}
	pct := PositionSizePct(a.Strategy, a.Risk.MaxPositionSizePct)
	if !pct.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(remaining.Mul(pct).Div(hundred), remaining)
}

// BaseUnits 将美元金额按卖出代币精度换算为最小单位整数，向下取整。
func BaseUnits(usd decimal.Decimal, decimals int32) string {
	return usd.Shift(decimals).Floor().StringFixed(0)
}
