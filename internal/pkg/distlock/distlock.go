// Package distlock serializes dispatch batches across processes that share
// one provider budget.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/clock"
)

// ErrLockNotAcquired is returned by AcquireWait when the lock stayed taken
// for the whole wait.
var ErrLockNotAcquired = errors.New("distributed lock not acquired")

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock creates a distributed lock using the best available backend.
// Redis is preferred; with neither backend it returns nil.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	switch {
	case redisClient != nil:
		return NewRedisLock(redisClient, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return nil
	}
}

// AcquireWait polls Acquire every poll interval until it succeeds, ctx ends,
// or timeout elapses. A timeout of zero makes a single attempt.
func AcquireWait(ctx context.Context, l DistLock, c clock.Clock, poll, timeout time.Duration) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	deadline := c.Now().Add(timeout)
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !c.Now().Before(deadline) {
			return ErrLockNotAcquired
		}
		if err := c.Sleep(ctx, poll); err != nil {
			return err
		}
	}
}

// PGAdvisoryLock implements DistLock with session-scoped Postgres advisory
// locks. The lock is dropped with the connection if the process dies.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock derives a deterministic lock ID from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire uses pg_try_advisory_lock, which never blocks.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
