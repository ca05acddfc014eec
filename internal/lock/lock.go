// Package lock serializes deposits per pool, in-process or across instances.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a lock is not acquired within the locker's timeout.
	ErrTimeout = errors.New("lock acquisition timed out")

	// ErrNotHeld is returned by a release whose lock was lost (expired or taken over).
	ErrNotHeld = errors.New("lock not held")
)

// DefaultTimeout bounds how long Acquire waits.
const DefaultTimeout = 5 * time.Second

// Release frees a lock obtained from Acquire. It must be called exactly once.
type Release func(ctx context.Context) error

// Locker grants mutual exclusion per key.
type Locker interface {
	// Acquire blocks until key is free, ctx is done or the timeout elapses (ErrTimeout).
	Acquire(ctx context.Context, key string) (Release, error)
}
