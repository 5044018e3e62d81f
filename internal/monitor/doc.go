// Package monitor 对三个订单族（交易队列、回购、飞轮情绪单）做状态对账。
// 只有计算出的新状态与存储状态不同时才写库，重复运行不会产生额外写入。
package monitor
