package coverage

import (
	"context"
	"errors"
)

// ErrLockBusy is returned when another run already holds the lock for the
// same provider key.
var ErrLockBusy = errors.New("coverage: provider lock is held by another run")

// Locker serializes runs against the same (data source, operation,
// collection) key. The engine itself has no internal parallelism; without a
// Locker, mutual exclusion across processes is the orchestrator's problem.
type Locker interface {
	// Acquire takes the named lock, returning a release function, or
	// ErrLockBusy if it is already held.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// NoopLocker acquires every lock unconditionally, restating the original
// system's assumption that a single-writer scheduler prevents concurrent
// runs for one key.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}
