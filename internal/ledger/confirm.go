package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Confirm runs a mutating call and makes sure its outcome is known.
//
// call must carry a fixed operation id. A failure that is not Rejected may
// hide an applied effect, so the same call is replayed on a context detached
// from the caller, bounded by timeout; the ledger answers a replay of an
// applied id with success. When no replay gets a definite answer the error
// wraps ErrOutcomeUnknown and the caller must treat the effect as possibly
// applied.
func Confirm(ctx context.Context, b backoff.BackOff, timeout time.Duration, call func(context.Context) error) error {
	err := call(ctx)
	if err == nil || Rejected(err) {
		return err
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	last := err
	err = backoff.Retry(func() error {
		err := call(rctx)
		switch {
		case err == nil:
			return nil
		case Rejected(err):
			return backoff.Permanent(err)
		default:
			last = err
			return err
		}
	}, backoff.WithContext(b, rctx))
	if err == nil || Rejected(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrOutcomeUnknown, last)
}
