package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// 仅当值仍为本持有者的令牌时才删除，避免释放他人在过期后重新获得的锁。
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockConfig 描述 Redis 任务锁的连接参数。
type LockConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// Locker 使用 SET NX PX 实现跨进程的任务锁。
type Locker struct {
	client goredis.UniversalClient
	prefix string
}

// NewLocker 创建 Locker 并检查连接。
func NewLocker(ctx context.Context, cfg LockConfig) (*Locker, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewLockerWithClient(client, cfg.Prefix), nil
}

// NewLockerWithClient 复用已有的 Redis 客户端。
func NewLockerWithClient(client goredis.UniversalClient, prefix string) *Locker {
	if prefix == "" {
		prefix = "swappilot:lock:"
	}
	return &Locker{client: client, prefix: prefix}
}

// TryLock 尝试获取名为 name 的锁。锁已被占用时返回 ok=false。
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := l.prefix + name
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("Redis 加锁失败: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	unlock := func() {
		// 调用方的 ctx 可能已取消，释放使用独立的短超时。
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return unlock, true, nil
}

// Close 关闭底层连接。
func (l *Locker) Close() error {
	return l.client.Close()
}
