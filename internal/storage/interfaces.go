package storage

import (
	"context"

	"liquidity-pool/internal/domain"
)

// PoolStore provides access to pools storage.
type PoolStore interface {
	// Insert adds a new pool. Returns ErrDuplicateKey if the id, the
	// (mint_a, mint_b) pair or the lp_mint already exists.
	Insert(ctx context.Context, p *domain.PoolState) error

	// GetByID retrieves a pool by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id domain.Identity) (*domain.PoolState, error)

	// GetByPair retrieves the pool of an ordered mint pair. Returns ErrNotFound if not exists.
	GetByPair(ctx context.Context, mintA, mintB domain.Identity) (*domain.PoolState, error)

	// GetByLPMint retrieves the pool that issues shares of lpMint. Returns ErrNotFound if not exists.
	GetByLPMint(ctx context.Context, lpMint domain.Identity) (*domain.PoolState, error)

	// List returns all pools ordered by created_at, then id.
	List(ctx context.Context) ([]*domain.PoolState, error)

	// CommitDeposit atomically replaces the pool accumulators and version with
	// those of p and appends r. It succeeds only when the stored version equals
	// expectedVersion and p.Version == expectedVersion+1.
	// Returns ErrVersionConflict, ErrNotFound or ErrDuplicateKey (deposit id).
	CommitDeposit(ctx context.Context, expectedVersion uint64, p *domain.PoolState, r *domain.DepositRecord) error
}

// DepositStore provides read access to committed deposit records.
// Records are written only through PoolStore.CommitDeposit.
type DepositStore interface {
	// GetDeposit retrieves a deposit by id. Returns ErrNotFound if not exists.
	GetDeposit(ctx context.Context, depositID string) (*domain.DepositRecord, error)

	// ListDeposits returns the deposits of a pool ordered by pool_version ASC.
	ListDeposits(ctx context.Context, poolID domain.Identity) ([]*domain.DepositRecord, error)
}

// DepositAnalyticsStore provides access to the append-only deposit_analytics copy.
type DepositAnalyticsStore interface {
	// Insert adds one record. Returns ErrDuplicateKey if deposit_id exists.
	Insert(ctx context.Context, r *domain.DepositRecord) error

	// InsertBulk adds multiple records. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, records []*domain.DepositRecord) error

	// GetByPool retrieves all records for a pool, ordered by timestamp ASC.
	GetByPool(ctx context.Context, poolID domain.Identity) ([]*domain.DepositRecord, error)
}

// ValidateCommit checks the arguments shared by every CommitDeposit implementation.
func ValidateCommit(expectedVersion uint64, p *domain.PoolState, r *domain.DepositRecord) error {
	if p == nil || r == nil || r.DepositID == "" {
		return ErrInvalidInput
	}
	if p.Version != expectedVersion+1 || r.PoolID != p.ID || r.PoolVersion != p.Version {
		return ErrInvalidInput
	}
	return nil
}
