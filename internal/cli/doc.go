// Package cli 实现 swapctl 命令行工具。
package cli
