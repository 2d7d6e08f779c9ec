package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"mindcast/pkg/domain"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	locker, err := NewRedisLocker(RedisLockerConfig{Addr: srv.Addr(), Prefix: "test:lock", TTL: ttl})
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}
	return locker, srv
}

func TestTryAcquireIsExclusive(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()

	first, ok, err := locker.TryAcquire(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, err := locker.TryAcquire(ctx, "user-1"); err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}
	if _, ok, err := locker.TryAcquire(ctx, "user-2"); err != nil || !ok {
		t.Fatalf("other key should be free: ok=%v err=%v", ok, err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, err := locker.TryAcquire(ctx, "user-1"); err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()

	var zero Lease
	if err := zero.Release(ctx); err != nil {
		t.Fatalf("zero lease release: %v", err)
	}
	lease, _, _ := locker.TryAcquire(ctx, "user-1")
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestStaleLeaseCannotReleaseNewHolder(t *testing.T) {
	locker, srv := newTestLocker(t, time.Second)
	ctx := context.Background()

	stale, ok, _ := locker.TryAcquire(ctx, "user-1")
	if !ok {
		t.Fatal("expected acquire")
	}
	srv.FastForward(2 * time.Second)

	current, ok, _ := locker.TryAcquire(ctx, "user-1")
	if !ok {
		t.Fatal("expected acquire after lease expiry")
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, ok, _ := locker.TryAcquire(ctx, "user-1"); ok {
		t.Fatal("stale release must not free the current holder's lock")
	}
	_ = current.Release(ctx)
}

func TestWithLockReleasesWhenCallbackFails(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithLock(ctx, locker, "user-1", func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	lease, ok, err := locker.TryAcquire(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("lock must be free after failed callback: ok=%v err=%v", ok, err)
	}
	_ = lease.Release(ctx)
}

func TestWithLockFailsFastOnContention(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()

	held, _, _ := locker.TryAcquire(ctx, "user-1")
	called := false
	err := WithLock(ctx, locker, "user-1", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, domain.ErrLockContention) {
		t.Fatalf("expected ErrLockContention, got %v", err)
	}
	if called {
		t.Fatal("callback must not run without the lock")
	}
	// The failed attempt's release must not free the other holder.
	if _, ok, _ := locker.TryAcquire(ctx, "user-1"); ok {
		t.Fatal("contended release freed the holder's lock")
	}
	_ = held.Release(ctx)
}

func TestWithLockSerializesConcurrentCallers(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()

	var inside, maxInside, wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(ctx, locker, "user-1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				atomic.AddInt32(&wins, 1)
				return nil
			})
			if err != nil && !errors.Is(err, domain.ErrLockContention) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if maxInside > 1 {
		t.Fatalf("critical section entered concurrently by %d callers", maxInside)
	}
	if wins == 0 {
		t.Fatal("expected at least one caller to win the lock")
	}
}
