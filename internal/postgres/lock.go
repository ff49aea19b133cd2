package postgres

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openshelf/coverage/internal/coverage"
)

// AdvisoryLocker implements coverage.Locker with Postgres session
// advisory locks, so mutual exclusion holds across processes sharing
// the database.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

var _ coverage.Locker = (*AdvisoryLocker)(nil)

// Acquire takes the advisory lock for the key without blocking. The
// lock is held by a dedicated connection until release is called.
func (l *AdvisoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	id := lockID(key)
	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&acquired); err != nil {
		conn.Release()
		return nil, err
	}
	if !acquired {
		conn.Release()
		return nil, coverage.ErrLockBusy
	}

	release := func() {
		// Unlock on a fresh context so a canceled run still releases.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, id)
		conn.Release()
	}
	return release, nil
}

func lockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
