// Package flywheel 实现金库飞轮的两个任务：手续费收割（collect、claim 后把中间代币兑换为结算币）
// 与阈值回购（结算币余额达到阈值后按比例兑换为目标资产）。两者共用报价、签名、提交流水线，
// 每次兑换都会写入对应订单族的一条记录。
package flywheel
