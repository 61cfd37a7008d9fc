package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisLockMutualExclusion(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(rdb, "campaign:send:c1", time.Minute)
	b := NewRedisLock(rdb, "campaign:send:c1", time.Minute)

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second holder acquired a held lock")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = b.Acquire(ctx)
	if !ok {
		t.Error("lock not acquirable after release")
	}
}

func TestRedisLockReleaseOnlyOwn(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(rdb, "campaign:send:c1", time.Minute)
	b := NewRedisLock(rdb, "campaign:send:c1", time.Minute)

	a.Acquire(ctx)
	// b never acquired; its release must not free a's lock.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	c := NewRedisLock(rdb, "campaign:send:c1", time.Minute)
	if ok, _ := c.Acquire(ctx); ok {
		t.Error("foreign release freed the lock")
	}
}

func TestRedisLockKeysIndependent(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(rdb, "campaign:send:c1", time.Minute)
	b := NewRedisLock(rdb, "campaign:send:c2", time.Minute)

	a.Acquire(ctx)
	if ok, _ := b.Acquire(ctx); !ok {
		t.Error("different campaign should have its own lock")
	}
}

func TestNewLockPrefersRedis(t *testing.T) {
	rdb := newRedis(t)
	if _, ok := NewLock(rdb, nil, "k", time.Minute).(*RedisLock); !ok {
		t.Error("expected RedisLock when a client is available")
	}
	if _, ok := NewLock(nil, nil, "k", time.Minute).(*PGAdvisoryLock); !ok {
		t.Error("expected PGAdvisoryLock fallback")
	}
}
