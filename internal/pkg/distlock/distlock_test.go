package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLock_MutualExclusion(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, "pipeline-run", time.Minute)
	second := NewRedisLock(client, "pipeline-run", time.Minute)

	ok, err := first.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("TryAcquire() error: %v", err)
	}
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	ok, err = second.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("TryAcquire() error: %v", err)
	}
	if ok {
		t.Fatal("second acquire should fail while first holds the lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	ok, err = second.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("TryAcquire() after release error: %v", err)
	}
	if !ok {
		t.Fatal("acquire should succeed after release")
	}
}

func TestRedisLock_ReleaseOnlyWhenOwned(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	owner := NewRedisLock(client, "pipeline-run", time.Minute)
	intruder := NewRedisLock(client, "pipeline-run", time.Minute)

	if ok, _ := owner.TryAcquire(ctx); !ok {
		t.Fatal("owner acquire should succeed")
	}

	// A non-owner release must not free the lock.
	if err := intruder.Release(ctx); err != nil {
		t.Fatalf("intruder Release() error: %v", err)
	}
	if ok, _ := intruder.TryAcquire(ctx); ok {
		t.Fatal("lock should still be held by owner")
	}
}

func TestRedisLock_Extend(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "pipeline-run", time.Minute)
	if ok, _ := lock.TryAcquire(ctx); !ok {
		t.Fatal("acquire should succeed")
	}
	if err := lock.Extend(ctx, 2*time.Minute); err != nil {
		t.Fatalf("Extend() error: %v", err)
	}

	other := NewRedisLock(client, "pipeline-run", time.Minute)
	if err := other.Extend(ctx, time.Minute); err == nil {
		t.Fatal("Extend() by non-owner should fail")
	}
}
