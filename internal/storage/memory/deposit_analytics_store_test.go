package memory

import (
	"context"
	"errors"
	"testing"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/storage"
)

func TestDepositAnalyticsStore_InsertBulkAndGet(t *testing.T) {
	store := NewDepositAnalyticsStore()
	ctx := context.Background()

	records := []*domain.DepositRecord{
		{DepositID: "b", PoolID: ident(1), Timestamp: 2000},
		{DepositID: "a", PoolID: ident(1), Timestamp: 1000},
		{DepositID: "c", PoolID: ident(2), Timestamp: 1500},
	}
	if err := store.InsertBulk(ctx, records); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByPool(ctx, ident(1))
	if err != nil {
		t.Fatalf("GetByPool failed: %v", err)
	}
	if len(got) != 2 || got[0].DepositID != "a" || got[1].DepositID != "b" {
		t.Errorf("unexpected records: %v", got)
	}
}

func TestDepositAnalyticsStore_Duplicates(t *testing.T) {
	store := NewDepositAnalyticsStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.DepositRecord{DepositID: "a", PoolID: ident(1)}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, &domain.DepositRecord{DepositID: "a", PoolID: ident(1)}); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	batch := []*domain.DepositRecord{
		{DepositID: "x", PoolID: ident(1)},
		{DepositID: "x", PoolID: ident(1)},
	}
	if err := store.InsertBulk(ctx, batch); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}
	got, _ := store.GetByPool(ctx, ident(1))
	if len(got) != 1 {
		t.Errorf("failed batch must not insert anything, got %d records", len(got))
	}

	if err := store.Insert(ctx, &domain.DepositRecord{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if err := store.InsertBulk(ctx, nil); err != nil {
		t.Errorf("empty batch should succeed, got %v", err)
	}
}
