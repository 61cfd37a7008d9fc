// Package distlock provides distributed locking so a campaign is never
// dispatched twice when two instances accept the same send request. Redis
// is preferred; PostgreSQL advisory locks are the fallback when Redis is
// not configured.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking. A lock instance is
// single-owner; concurrent goroutines need separate instances.
type DistLock interface {
	// Acquire tries to take the lock. Returns true on success.
	Acquire(ctx context.Context) (bool, error)
	// Release frees the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// NewLock creates a distributed lock using the best available backend.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// PGAdvisoryLock implements DistLock with pg_try_advisory_lock. The lock
// is session-scoped: a dropped connection releases it, which matches the
// crash-safety a Redis TTL gives.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock derives a deterministic advisory lock ID from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire is non-blocking: pg_try_advisory_lock returns immediately.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
