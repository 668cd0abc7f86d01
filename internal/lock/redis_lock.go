// Package lock はプロセス間で集約サイクルの重複実行を防ぐ分散ロックを提供する。
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired は他のプロセスがロックを保持している場合に返される。
var ErrNotAcquired = errors.New("lock is held by another process")

// releaseScript は自分のトークンと一致する場合のみキーを削除する。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseFunc は取得したロックを解放する。
type ReleaseFunc func(ctx context.Context) error

// RedisLocker はRedisのSET NXによる排他ロック。
// TTLを設定するため、保持プロセスが異常終了してもロックは期限切れで解放される。
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker はRedisLockerを生成する。
func NewRedisLocker(client *redis.Client, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// Acquire はロックの取得を試みる。取得できない場合はErrNotAcquiredを返す。
func (l *RedisLocker) Acquire(ctx context.Context) (ReleaseFunc, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ロックの取得に失敗: %w", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("ロックの解放に失敗: %w", err)
		}
		return nil
	}, nil
}

// Connect はRedisクライアントを生成し、疎通を確認する。
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
