package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
)

// 只释放/续约自己持有的锁
var (
	unlockScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)
	refreshScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedLock 多个独立Redis节点上的Redlock实现
type RedLock struct {
	clients    []*redis.Client
	addrs      []string
	logger     *zap.Logger
	mu         sync.Mutex
	locks      map[string]string // key是锁名，value是token值
	retries    int
	retryDelay time.Duration
}

// NewRedLock 创建新的分布式锁客户端
func NewRedLock(ctx context.Context, redisCfg config.RedisConfig, lockCfg config.LockConfig, logger *zap.Logger) (*RedLock, error) {
	var clients []*redis.Client

	for _, addr := range redisCfg.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     redisCfg.Password,
			DB:           redisCfg.DB,
			PoolSize:     redisCfg.PoolSize,
			MaxRetries:   redisCfg.MaxRetries,
			DialTimeout:  redisCfg.Timeout,
			ReadTimeout:  redisCfg.Timeout,
			WriteTimeout: redisCfg.Timeout,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			for _, c := range clients {
				c.Close()
			}
			client.Close()
			return nil, fmt.Errorf("Redis锁节点 %s 连接测试失败: %w", addr, err)
		}

		clients = append(clients, client)
	}

	return NewRedLockWithClients(clients, redisCfg.LockAddresses, lockCfg.RetryCount, lockCfg.RetryInterval, logger), nil
}

func NewRedLockWithClients(clients []*redis.Client, addrs []string, retries int, retryDelay time.Duration, logger *zap.Logger) *RedLock {
	if retries < 1 {
		retries = 1
	}
	return &RedLock{
		clients:    clients,
		addrs:      addrs,
		logger:     logger,
		locks:      make(map[string]string),
		retries:    retries,
		retryDelay: retryDelay,
	}
}

func (r *RedLock) quorum() int {
	return len(r.clients)/2 + 1
}

// AcquireLock 在多数节点上SetNX成功且剩余有效期为正时视为获取成功
func (r *RedLock) AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()

	for attempt := 0; attempt < r.retries; attempt++ {
		success := 0
		start := time.Now()

		for i, client := range r.clients {
			ok, err := client.SetNX(ctx, lockName, token, ttl).Result()
			if err != nil {
				r.logger.Warn("在节点获取锁失败", zap.String("node", r.addrs[i]), zap.String("lock", lockName), zap.Error(err))
				continue
			}
			if ok {
				success++
			}
		}

		validity := ttl - time.Since(start)
		if success >= r.quorum() && validity > 0 {
			r.mu.Lock()
			r.locks[lockName] = token
			r.mu.Unlock()
			r.logger.Debug("获取锁成功", zap.String("lock", lockName))
			return true, nil
		}

		// 获取失败，释放所有节点上的锁
		r.unlockAll(context.Background(), lockName, token)

		if attempt < r.retries-1 {
			select {
			case <-ctx.Done():
				return false, nil
			case <-time.After(r.retryDelay):
			}
		}
	}

	return false, nil
}

// RefreshLock 刷新锁的过期时间
func (r *RedLock) RefreshLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	token, exists := r.locks[lockName]
	r.mu.Unlock()
	if !exists {
		return false, nil
	}

	success := 0
	for i, client := range r.clients {
		n, err := refreshScript.Run(ctx, client, []string{lockName}, token, ttl.Milliseconds()).Int64()
		if err != nil {
			r.logger.Warn("在节点刷新锁失败", zap.String("node", r.addrs[i]), zap.String("lock", lockName), zap.Error(err))
			continue
		}
		if n == 1 {
			success++
		}
	}

	if success >= r.quorum() {
		return true, nil
	}

	r.mu.Lock()
	delete(r.locks, lockName)
	r.mu.Unlock()
	return false, nil
}

// ReleaseLock 释放锁
func (r *RedLock) ReleaseLock(ctx context.Context, lockName string) error {
	r.mu.Lock()
	token, exists := r.locks[lockName]
	delete(r.locks, lockName)
	r.mu.Unlock()
	if !exists {
		return nil
	}

	r.unlockAll(ctx, lockName, token)
	return nil
}

// unlockAll 在所有节点上释放锁
func (r *RedLock) unlockAll(ctx context.Context, lockName, token string) {
	for i, client := range r.clients {
		if err := unlockScript.Run(ctx, client, []string{lockName}, token).Err(); err != nil && err != redis.Nil {
			r.logger.Warn("在节点释放锁失败", zap.String("node", r.addrs[i]), zap.String("lock", lockName), zap.Error(err))
		}
	}
}

// ReleaseAllLocks 释放所有持有的锁
func (r *RedLock) ReleaseAllLocks() {
	r.mu.Lock()
	held := r.locks
	r.locks = make(map[string]string)
	r.mu.Unlock()

	for name, token := range held {
		r.unlockAll(context.Background(), name, token)
	}
}

// Close 关闭分布式锁客户端
func (r *RedLock) Close() error {
	r.ReleaseAllLocks()

	for i, client := range r.clients {
		if err := client.Close(); err != nil {
			r.logger.Warn("关闭Redis锁节点失败", zap.String("node", r.addrs[i]), zap.Error(err))
		}
	}
	return nil
}
