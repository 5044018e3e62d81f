package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func TestNewLockerRequiresAddress(t *testing.T) {
	if _, err := NewLocker(context.Background(), LockConfig{}); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestNewLockerFailsWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewLocker(ctx, LockConfig{Address: "127.0.0.1:1"}); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestTryLockSurfacesErrors(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	locker := NewLockerWithClient(client, "")
	defer locker.Close()

	if locker.prefix != "swappilot:lock:" {
		t.Fatalf("unexpected default prefix %q", locker.prefix)
	}
	unlock, ok, err := locker.TryLock(context.Background(), "signals", time.Minute)
	if err == nil || ok || unlock != nil {
		t.Fatalf("expected lock error, got ok=%v err=%v", ok, err)
	}
}
