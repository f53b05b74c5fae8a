package dbsession

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"
)

// LockKey derives the fixed 64-bit advisory lock key from the managed
// schema+table name (spec.md §4.9): a stable hash so every runner against
// the same managed schema contends for the same lock.
func LockKey(schema, table string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(schema + "." + table))
	return int64(h.Sum64())
}

// Conn is the single-connection surface the lock needs — advisory locks
// are session-scoped, so callers must hold one dedicated *sql.Conn for
// the run's duration rather than a pooled *sql.DB.
type Conn interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AcquireBlocking blocks on pg_advisory_lock until granted or ctx is
// canceled. Use when the caller is willing to wait indefinitely.
func AcquireBlocking(ctx context.Context, conn Conn, key int64) error {
	var discard sql.NullBool
	row := conn.QueryRowContext(ctx, "SELECT pg_advisory_lock($1)", key)
	// pg_advisory_lock returns void; scanning into NullBool tolerates
	// drivers that still produce one empty result row.
	_ = row.Scan(&discard)
	return nil
}

// AcquireWithTimeout retries pg_try_advisory_lock with exponential
// backoff (25ms doubling, capped at 1s, with jitter) until acquired or
// timeout elapses, mirroring the teacher's own acquire() loop rationale:
// pg_try_advisory_lock avoids a blocking wait that could deadlock against
// a concurrently executing non-transactional statement.
func AcquireWithTimeout(ctx context.Context, conn Conn, key int64, timeout time.Duration) error {
	interval := 25 * time.Millisecond
	start := time.Now()
	for {
		var acquired bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
			return fmt.Errorf("dbsession: acquire lock: %w", err)
		}
		if acquired {
			return nil
		}
		if time.Since(start) > timeout {
			return fmt.Errorf("dbsession: lock %d not acquired within %s", key, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval + time.Duration(rand.Int63n(int64(interval)+1))):
		}
		interval *= 2
		if interval > time.Second {
			interval = time.Second
		}
	}
}

// Release releases the advisory lock. It is safe to call in all exit
// paths (success, error, panic-recovery defer).
func Release(ctx context.Context, conn Conn, key int64) error {
	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&released); err != nil {
		return fmt.Errorf("dbsession: release lock: %w", err)
	}
	if !released {
		return fmt.Errorf("dbsession: lock %d was not held by this session", key)
	}
	return nil
}
