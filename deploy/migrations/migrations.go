// Package migrations 内嵌 agents、trade_intents 与金库订单表的建表脚本。
package migrations

import "embed"

// Files 按文件名中的版本号顺序由 storage/mysql.Migrate 应用。
//
//go:embed *.sql
var Files embed.FS
