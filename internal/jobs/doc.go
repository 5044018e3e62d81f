// Package jobs 维护可触发任务的注册表。同名任务在锁保护下串行执行，执行结果以 JSON 摘要返回。
package jobs
