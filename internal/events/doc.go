// Package events 提供尽力而为的事件通知：业务代码通过 Publisher 投递事件，
// Dispatcher 在后台写入日志或 RabbitMQ，失败只记录日志。
package events
