package lock

import (
	"context"
	"fmt"
	"time"
)

const releaseTimeout = 3 * time.Second

// Acquire 循环尝试获取锁直到成功或ctx结束，返回释放函数
func Acquire(ctx context.Context, l Lock, lockName string, ttl, retryInterval time.Duration) (func() error, error) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.AcquireLock(ctx, lockName, ttl)
		if err != nil {
			return nil, fmt.Errorf("获取锁 %s 失败: %w", lockName, err)
		}
		if ok {
			return func() error {
				// 请求ctx可能已取消，释放使用独立的超时
				rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
				defer cancel()
				return l.ReleaseLock(rctx, lockName)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待锁 %s 超时: %w", lockName, ctx.Err())
		case <-ticker.C:
		}
	}
}
