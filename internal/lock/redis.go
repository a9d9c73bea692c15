// Package lock 基于 Redis 的同步运行锁，防止多个实例同时对同一 Fleetio 账号做匹配后创建。
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
	keyPrefix           = "odosync:sync:lock:"
)

// ErrLocked 锁被其他实例持有
var ErrLocked = errors.New("sync lock held by another instance")

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient 创建 Redis 客户端并 PING 校验连接
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// KeyFor 按 Fleetio 账号生成锁键，不在 Redis 中保存原始令牌
func KeyFor(account string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(account)))
	return keyPrefix + hex.EncodeToString(sum[:8])
}

// RunLock 同步运行锁
type RunLock struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRunLock 创建运行锁；ttl 需大于一轮同步的最长耗时
func NewRunLock(client redis.Cmdable, key string, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RunLock{client: client, key: key, ttl: ttl}
}

// Key 锁键
func (l *RunLock) Key() string {
	return l.key
}

// Acquire 获取锁，返回释放函数
func (l *RunLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", l.key, err)
		}
		return nil
	}
	return release, nil
}
