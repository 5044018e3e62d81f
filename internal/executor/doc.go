// Package executor 驱动排队中的交易意图完成报价、签名与提交。
package executor
