// Package redis 提供基于 Redis 的跨进程任务锁，保证多个副本不会同时执行同一个任务。
package redis
