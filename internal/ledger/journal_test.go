package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJournal_RollbackReverseOrder(t *testing.T) {
	j := NewJournal(time.Second, nil)
	var order []string
	for _, step := range []string{"transfer_a", "transfer_b", "mint"} {
		step := step
		j.Record(step, func(context.Context) error {
			order = append(order, step)
			return nil
		})
	}

	if err := j.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	want := []string{"mint", "transfer_b", "transfer_a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("rollback order = %v, want %v", order, want)
		}
	}
	if j.Len() != 0 {
		t.Error("journal not cleared after rollback")
	}
}

func TestJournal_RetriesAndContinues(t *testing.T) {
	j := NewJournal(5*time.Second, nil)

	flaky := 0
	ranFirst := false
	j.Record("transfer_a", func(context.Context) error {
		ranFirst = true
		return nil
	})
	j.Record("transfer_b", func(context.Context) error {
		flaky++
		if flaky < 2 {
			return errors.New("ledger unavailable")
		}
		return nil
	})
	boom := errors.New("burn rejected")
	j.Record("burn", func(context.Context) error { return boom })

	err := j.Rollback()
	if !errors.Is(err, boom) {
		t.Fatalf("expected burn failure, got %v", err)
	}
	if flaky != 2 {
		t.Errorf("flaky step ran %d times, want 2", flaky)
	}
	if !ranFirst {
		t.Error("rollback stopped at the first failure")
	}
}

func TestJournal_Discard(t *testing.T) {
	j := NewJournal(0, nil)
	called := false
	j.Record("mint", func(context.Context) error { called = true; return nil })
	j.Discard()
	if err := j.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if called {
		t.Error("discarded step was undone")
	}
}
