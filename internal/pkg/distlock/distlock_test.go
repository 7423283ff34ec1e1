package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) *redis.Client {
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

func TestRedisLock_AcquireRelease(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "test", time.Minute)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !ok {
		t.Fatal("first Acquire should succeed")
	}

	// A second holder cannot take the same key while held.
	other := NewRedisLock(client, "test", time.Minute)
	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ok {
		t.Fatal("second Acquire should fail while lock is held")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if !ok {
		t.Fatal("Acquire should succeed after release")
	}
}

func TestRedisLock_ReleaseOnlyIfOwned(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, "owned", time.Minute)
	if ok, _ := first.Acquire(ctx); !ok {
		t.Fatal("Acquire failed")
	}

	// A lock instance that never acquired must not release the holder's key.
	impostor := NewRedisLock(client, "owned", time.Minute)
	if err := impostor.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	ok, err := impostor.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ok {
		t.Fatal("key was released by a non-owner")
	}
}

func TestRedisLock_DistinctKeysIndependent(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "stats:user:u1", time.Minute)
	b := NewRedisLock(client, "stats:user:u2", time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("u1 Acquire failed")
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("u2 lock must be independent of u1")
	}
}

func TestStatLocker_SerializesPerUser(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewStatLocker(client, nil)

	ctx := context.Background()
	unlock, err := locker.Lock(ctx, "u1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	// While held, a second Lock for the same user blocks until released.
	acquired := make(chan struct{})
	go func() {
		unlock2, err := locker.Lock(ctx, "u1")
		if err != nil {
			t.Errorf("second Lock: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		unlock2()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first still held")
	case <-time.After(100 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after release")
	}
}

func TestStatLocker_TimesOutWhileHeld(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewStatLocker(client, nil)

	unlock, err := locker.Lock(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "u1"); err == nil {
		t.Fatal("Lock should fail when the holder never releases")
	}
}

func TestNewLockPrefersRedis(t *testing.T) {
	client := setupTestRedis(t)

	if _, ok := NewLock(client, nil, "k", time.Minute).(*RedisLock); !ok {
		t.Error("redis client available, want RedisLock")
	}
	if _, ok := NewLock(nil, nil, "k", time.Minute).(*PGAdvisoryLock); !ok {
		t.Error("no redis client, want PGAdvisoryLock fallback")
	}
}

func TestRedisLock_ExtendKeepsLockAlive(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	lock := NewRedisLock(client, "cycle", 200*time.Millisecond)
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("Acquire failed")
	}

	mr.FastForward(150 * time.Millisecond)
	if err := lock.Extend(ctx, 200*time.Millisecond); err != nil {
		t.Fatalf("Extend: %v", err)
	}

	// Past the original TTL but inside the extension: still held.
	mr.FastForward(150 * time.Millisecond)
	other := NewRedisLock(client, "cycle", 200*time.Millisecond)
	if ok, _ := other.Acquire(ctx); ok {
		t.Fatal("lock expired despite extension")
	}

	// Let the extension lapse.
	mr.FastForward(100 * time.Millisecond)
	if ok, _ := other.Acquire(ctx); !ok {
		t.Fatal("lock should expire once the extension lapses")
	}
}

func TestRedisLock_ExtendRequiresOwnership(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	holder := NewRedisLock(client, "owned-ttl", time.Minute)
	if ok, _ := holder.Acquire(ctx); !ok {
		t.Fatal("Acquire failed")
	}

	stranger := NewRedisLock(client, "owned-ttl", time.Minute)
	if err := stranger.Extend(ctx, time.Minute); err == nil {
		t.Fatal("Extend by a non-owner should fail")
	}
	if err := holder.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("Extend by the owner: %v", err)
	}
}
