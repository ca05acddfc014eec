package lock

import (
	"context"
	"sync"
	"time"

	"liquidity-pool/internal/observability"
)

// Local is an in-process keyed mutex.
type Local struct {
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal creates a Local locker. A non-positive timeout uses DefaultTimeout.
func NewLocal(timeout time.Duration) *Local {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Local{
		timeout: timeout,
		slots:   make(map[string]chan struct{}),
	}
}

var _ Locker = (*Local)(nil)

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire takes the lock for key.
func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	start := time.Now()
	ch := l.slot(key)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		observability.RecordLockWait(time.Since(start), false)
		return nil, ctx.Err()
	case <-timer.C:
		observability.RecordLockWait(time.Since(start), true)
		return nil, ErrTimeout
	}
	observability.RecordLockWait(time.Since(start), false)

	var once sync.Once
	return func(context.Context) error {
		released := false
		once.Do(func() {
			<-ch
			released = true
		})
		if !released {
			return ErrNotHeld
		}
		return nil
	}, nil
}
