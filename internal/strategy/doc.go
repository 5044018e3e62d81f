// Package strategy 实现策略信号生成：按策略计算仓位，执行回撤熔断，并在去重保护下
// 为每个 agent 最多入队一条交易意图。
package strategy
