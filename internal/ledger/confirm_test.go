package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"liquidity-pool/internal/derive"
)

func quickBackOff(retries uint64) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), retries)
}

func TestConfirm_ReplaysLostReply(t *testing.T) {
	ctx := context.Background()
	m, mint, _, alice := setupLedger(t)
	from, _ := derive.AssociatedAccount(alice, mint)
	to, err := m.OpenAccount(ctx, id(4), mint)
	if err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	req := TransferRequest{OperationID: "op-lost", Mint: mint, Decimals: 6, From: from, To: to, Authority: alice, Amount: 250}

	calls := 0
	err = Confirm(ctx, quickBackOff(3), time.Second, func(ctx context.Context) error {
		calls++
		err := m.Transfer(ctx, req)
		if calls == 1 && err == nil {
			return errors.New("connection reset by peer")
		}
		return err
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	// Applied exactly once.
	if bal, _ := m.GetBalance(ctx, to); bal != 250 {
		t.Errorf("recipient balance = %d, want 250", bal)
	}
}

func TestConfirm_RejectionIsNotReplayed(t *testing.T) {
	calls := 0
	err := Confirm(context.Background(), quickBackOff(3), time.Second, func(context.Context) error {
		calls++
		return fmt.Errorf("transfer: %w", ErrInsufficientFunds)
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if errors.Is(err, ErrOutcomeUnknown) {
		t.Errorf("a rejection is a definite outcome: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestConfirm_RejectedOnReplay(t *testing.T) {
	calls := 0
	err := Confirm(context.Background(), quickBackOff(3), time.Second, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("timeout")
		}
		return ErrRejected
	})
	if !errors.Is(err, ErrRejected) || errors.Is(err, ErrOutcomeUnknown) {
		t.Fatalf("expected plain ErrRejected, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestConfirm_OutcomeUnknown(t *testing.T) {
	lost := errors.New("connection reset by peer")
	calls := 0
	err := Confirm(context.Background(), quickBackOff(2), time.Second, func(context.Context) error {
		calls++
		return lost
	})
	if !errors.Is(err, ErrOutcomeUnknown) {
		t.Fatalf("expected ErrOutcomeUnknown, got %v", err)
	}
	if !errors.Is(err, lost) {
		t.Errorf("unknown outcome should wrap the last failure: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestConfirm_ReplaysAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Confirm(ctx, quickBackOff(3), time.Second, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			cancel()
			return context.Canceled
		}
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("replay should run on a detached context: %v", err)
	}
}

func TestRejected(t *testing.T) {
	for _, err := range []error{ErrInsufficientFunds, fmt.Errorf("wrapped: %w", ErrUnauthorized), ErrRejected} {
		if !Rejected(err) {
			t.Errorf("Rejected(%v) = false", err)
		}
	}
	for _, err := range []error{errors.New("eof"), context.DeadlineExceeded, ErrOutcomeUnknown} {
		if Rejected(err) {
			t.Errorf("Rejected(%v) = true", err)
		}
	}
}
