package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// testRedisClient はテスト用Redisに接続する。接続できない場合はテストをスキップする。
func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client, err := Connect(context.Background(), addr, os.Getenv("TEST_REDIS_PASSWORD"))
	if err != nil {
		t.Skipf("Redisに接続できないためスキップします: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testKey(t *testing.T) string {
	t.Helper()
	return "newsagg:test:lock:" + uuid.NewString()
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	client := testRedisClient(t)
	key := testKey(t)
	ctx := context.Background()

	locker := NewRedisLocker(client, key, time.Minute)

	release, err := locker.Acquire(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, err := locker.Acquire(ctx); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("保持中のロックは取得できないべき: %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	release2, err := locker.Acquire(ctx)
	if err != nil {
		t.Fatalf("解放後は再取得できるべき: %v", err)
	}
	_ = release2(ctx)
}

func TestRedisLocker_ReleaseDoesNotDeleteForeignLock(t *testing.T) {
	client := testRedisClient(t)
	key := testKey(t)
	ctx := context.Background()

	locker := NewRedisLocker(client, key, time.Minute)
	release, err := locker.Acquire(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// 期限切れ後に別プロセスが取得した状況を再現する
	if err := client.Set(ctx, key, "other-token", time.Minute).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	t.Cleanup(func() { client.Del(context.Background(), key) })

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, err := client.Get(ctx, key).Result()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "other-token" {
		t.Errorf("他プロセスのロックを削除してはならない: %q", got)
	}
}

func TestRedisLocker_ExpiresAfterTTL(t *testing.T) {
	client := testRedisClient(t)
	key := testKey(t)
	ctx := context.Background()

	locker := NewRedisLocker(client, key, 100*time.Millisecond)
	if _, err := locker.Acquire(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	time.Sleep(250 * time.Millisecond)

	release, err := locker.Acquire(ctx)
	if err != nil {
		t.Fatalf("TTL経過後は取得できるべき: %v", err)
	}
	_ = release(ctx)
}

func TestConnect_Unreachable(t *testing.T) {
	if _, err := Connect(context.Background(), "127.0.0.1:1", ""); err == nil {
		t.Fatal("到達不能なアドレスはエラーになるべき")
	}
}
