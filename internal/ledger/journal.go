package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"liquidity-pool/internal/logging"
	"liquidity-pool/internal/observability"
)

// DefaultRollbackTimeout bounds a whole rollback.
const DefaultRollbackTimeout = 30 * time.Second

// compensationRetries is how often one undo step is retried. Undo steps carry
// their own operation ids, so retrying never applies them twice.
const compensationRetries = 3

type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// Journal records the undo action of every ledger effect applied so far, so a
// failed multi-step operation can be reverted in reverse order.
type Journal struct {
	steps   []compensation
	timeout time.Duration
	logger  *zap.Logger
}

// NewJournal creates an empty journal. timeout <= 0 uses DefaultRollbackTimeout.
func NewJournal(timeout time.Duration, logger *zap.Logger) *Journal {
	if timeout <= 0 {
		timeout = DefaultRollbackTimeout
	}
	return &Journal{timeout: timeout, logger: logging.OrNop(logger)}
}

// Record appends the undo action for an effect that has just been applied.
func (j *Journal) Record(step string, undo func(ctx context.Context) error) {
	j.steps = append(j.steps, compensation{step: step, undo: undo})
}

// Len returns the number of recorded effects.
func (j *Journal) Len() int {
	return len(j.steps)
}

// Rollback runs every undo action, newest first, and clears the journal.
//
// It runs on a fresh context so that cancellation of the caller never strands
// funds mid-way. All steps are attempted even after a failure; the joined
// failures are returned.
func (j *Journal) Rollback() error {
	if len(j.steps) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	var errs []error
	for i := len(j.steps) - 1; i >= 0; i-- {
		c := j.steps[i]
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 100 * time.Millisecond
		b := backoff.WithContext(backoff.WithMaxRetries(eb, compensationRetries), ctx)
		err := backoff.Retry(func() error { return c.undo(ctx) }, b)
		observability.RecordCompensation(c.step, err)
		if err != nil {
			j.logger.Error("compensation failed, manual reconciliation required",
				zap.String("step", c.step), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.step, err))
			continue
		}
		j.logger.Info("compensation applied", zap.String("step", c.step))
	}
	j.steps = nil
	return errors.Join(errs...)
}

// Discard forgets every recorded effect once the operation has committed.
func (j *Journal) Discard() {
	j.steps = nil
}
