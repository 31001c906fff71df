// Package distlock guards the nightly batch run: only one pipeline execution
// may hold the run lock at a time, across every host in the deployment.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a distributed mutual-exclusion primitive. Implementations are safe
// for use from a single goroutine; concurrent use requires separate lock
// instances.
type Lock interface {
	// TryAcquire attempts to take the lock without blocking. Returns true on
	// success.
	TryAcquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this instance still owns it.
	Release(ctx context.Context) error
}

// New picks the best available backend: Redis when a client is provided
// (cross-host, TTL-expiring), otherwise a PostgreSQL advisory lock whose
// session scoping gives equivalent crash-safety.
func New(rdb *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if rdb != nil {
		return NewRedisLock(rdb, key, ttl)
	}
	return NewAdvisoryLock(db, key)
}

// AdvisoryLock implements Lock on pg_try_advisory_lock/pg_advisory_unlock.
// The lock ID is derived deterministically from the key string.
type AdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewAdvisoryLock creates a PostgreSQL advisory lock for key.
func NewAdvisoryLock(db *sql.DB, key string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &AdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// TryAcquire attempts the advisory lock without blocking.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	var ok bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&ok)
	return ok, err
}

// Release unlocks the advisory lock.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
