// Package scheduler 使用 cron 表达式在进程内周期性触发任务。
package scheduler
