package lock

import (
	"context"
	"time"
)

// Lock 分布式锁接口
type Lock interface {
	// AcquireLock 获取锁，bool表示是否成功获取，锁被占用时返回false和nil
	AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error)

	// RefreshLock 刷新锁的过期时间
	RefreshLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error)

	// ReleaseLock 释放锁，未持有时直接返回
	ReleaseLock(ctx context.Context, lockName string) error

	// ReleaseAllLocks 释放所有持有的锁
	ReleaseAllLocks()

	// Close 关闭锁客户端
	Close() error
}
