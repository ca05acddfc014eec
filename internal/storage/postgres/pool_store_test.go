package postgres

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/storage"
)

func testIdentity(b byte) domain.Identity {
	var id domain.Identity
	for i := range id {
		id[i] = b
	}
	return id
}

func testPool(id, mintA, mintB byte, createdAt int64) *domain.PoolState {
	return &domain.PoolState{
		ID:                  testIdentity(id),
		Creator:             testIdentity(100),
		Authority:           testIdentity(101),
		LPMint:              testIdentity(id + 110),
		LPMintAuthority:     testIdentity(103),
		VaultA:              testIdentity(104),
		VaultB:              testIdentity(105),
		MintA:               testIdentity(mintA),
		MintB:               testIdentity(mintB),
		PoolBump:            255,
		AuthorityBump:       254,
		LPMintAuthorityBump: 253,
		Fees:                3,
		LPDecimals:          6,
		CreatedAt:           createdAt,
		IsActive:            true,
	}
}

func nextDeposit(p *domain.PoolState, depositID string, a, b, v uint64) (uint64, *domain.PoolState, *domain.DepositRecord) {
	expected := p.Version
	next := p.Clone()
	if err := next.ApplyDeposit(a, b, v); err != nil {
		panic(err)
	}
	var feedA, feedB domain.FeedID
	feedA[0], feedB[0] = 0xaa, 0xbb
	return expected, next, &domain.DepositRecord{
		DepositID:    depositID,
		PoolID:       p.ID,
		Depositor:    testIdentity(50),
		AmountA:      a,
		AmountB:      b,
		ValueA:       v / 2,
		ValueB:       v - v/2,
		TotalValue:   v,
		SharesMinted: v,
		SupplyBefore: p.TotalPoolValue,
		PoolValue:    p.TotalPoolValue,
		QuoteA:       domain.PriceQuote{FeedID: feedA, Price: 100_000_000, Confidence: 1, Exponent: -8, PublishTime: 1_700_000_000},
		QuoteB:       domain.PriceQuote{FeedID: feedB, Price: -5, Confidence: 2, Exponent: -2, PublishTime: 1_700_000_001},
		PoolVersion:  next.Version,
		Timestamp:    1_700_000_000_000 + int64(next.Version),
	}
}

func TestPoolStore_InsertAndGet(t *testing.T) {
	pool := newTestPool(t)

	store := NewPoolStore(pool)
	ctx := context.Background()

	p := testPool(1, 10, 11, 1000)
	require.NoError(t, store.Insert(ctx, p))

	got, err := store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	byPair, err := store.GetByPair(ctx, p.MintA, p.MintB)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byPair.ID)

	_, err = store.GetByPair(ctx, p.MintB, p.MintA)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	byLP, err := store.GetByLPMint(ctx, p.LPMint)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byLP.ID)

	_, err = store.GetByLPMint(ctx, testIdentity(99))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetByID(ctx, testIdentity(99))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPoolStore_DuplicateKey(t *testing.T) {
	pool := newTestPool(t)

	store := NewPoolStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testPool(1, 10, 11, 1000)))
	assert.ErrorIs(t, store.Insert(ctx, testPool(1, 20, 21, 1000)), storage.ErrDuplicateKey)
	assert.ErrorIs(t, store.Insert(ctx, testPool(2, 10, 11, 1000)), storage.ErrDuplicateKey)

	sharedLP := testPool(4, 40, 41, 1000)
	sharedLP.LPMint = testIdentity(111)
	assert.ErrorIs(t, store.Insert(ctx, sharedLP), storage.ErrDuplicateKey)

	// Identical mints violate the pair CHECK constraint.
	assert.ErrorIs(t, store.Insert(ctx, testPool(3, 30, 30, 1000)), storage.ErrInvalidInput)
}

func TestPoolStore_List(t *testing.T) {
	pool := newTestPool(t)

	store := NewPoolStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testPool(2, 20, 21, 2000)))
	require.NoError(t, store.Insert(ctx, testPool(1, 10, 11, 1000)))

	pools, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, int64(1000), pools[0].CreatedAt)
	assert.Equal(t, int64(2000), pools[1].CreatedAt)
}

func TestPoolStore_CommitDeposit(t *testing.T) {
	pool := newTestPool(t)

	pools := NewPoolStore(pool)
	deposits := NewDepositStore(pool)
	ctx := context.Background()

	p := testPool(1, 10, 11, 1000)
	require.NoError(t, pools.Insert(ctx, p))

	expected, next, rec := nextDeposit(p, "dep-1", 1_000_000, 500_000, 2_000_000)
	require.NoError(t, pools.CommitDeposit(ctx, expected, next, rec))

	got, err := pools.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, next, got)

	stored, err := deposits.GetDeposit(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, rec, stored)

	// Stale expected version.
	_, stale, staleRec := nextDeposit(p, "dep-2", 1, 1, 1)
	assert.ErrorIs(t, pools.CommitDeposit(ctx, 0, stale, staleRec), storage.ErrVersionConflict)
	_, err = deposits.GetDeposit(ctx, "dep-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Duplicate deposit id rolls back the pool update.
	expected, dupPool, dupRec := nextDeposit(got, "dep-1", 1, 1, 1)
	assert.ErrorIs(t, pools.CommitDeposit(ctx, expected, dupPool, dupRec), storage.ErrDuplicateKey)
	after, err := pools.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), after.Version)
	assert.Equal(t, uint64(1_000_000), after.TokenADeposits)

	// Unknown pool.
	expected, ghost, ghostRec := nextDeposit(testPool(9, 90, 91, 1), "dep-9", 1, 1, 1)
	assert.ErrorIs(t, pools.CommitDeposit(ctx, expected, ghost, ghostRec), storage.ErrNotFound)
}

func TestPoolStore_FullUint64Range(t *testing.T) {
	pool := newTestPool(t)

	pools := NewPoolStore(pool)
	deposits := NewDepositStore(pool)
	ctx := context.Background()

	p := testPool(1, 10, 11, 1000)
	require.NoError(t, pools.Insert(ctx, p))

	expected, next, rec := nextDeposit(p, "dep-max", math.MaxUint64, math.MaxUint64-1, math.MaxUint64)
	require.NoError(t, pools.CommitDeposit(ctx, expected, next, rec))

	got, err := pools.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), got.TokenADeposits)
	assert.Equal(t, uint64(math.MaxUint64-1), got.TokenBDeposits)
	assert.Equal(t, uint64(math.MaxUint64), got.TotalPoolValue)

	stored, err := deposits.GetDeposit(ctx, "dep-max")
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), stored.AmountA)
}

func TestPoolStore_ConcurrentCommitsOneWins(t *testing.T) {
	pool := newTestPool(t)

	pools := NewPoolStore(pool)
	deposits := NewDepositStore(pool)
	ctx := context.Background()

	p := testPool(1, 10, 11, 1000)
	require.NoError(t, pools.Insert(ctx, p))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			expected, next, rec := nextDeposit(p, "dep-"+string(rune('a'+i)), 1, 1, 1)
			errs[i] = pools.CommitDeposit(ctx, expected, next, rec)
		}(i)
	}
	wg.Wait()

	var committed int
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		assert.ErrorIs(t, err, storage.ErrVersionConflict)
	}
	assert.Equal(t, 1, committed)

	list, err := deposits.ListDeposits(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDepositStore_ListDeposits(t *testing.T) {
	pool := newTestPool(t)

	pools := NewPoolStore(pool)
	deposits := NewDepositStore(pool)
	ctx := context.Background()

	p := testPool(1, 10, 11, 1000)
	require.NoError(t, pools.Insert(ctx, p))

	current := p
	for _, id := range []string{"dep-1", "dep-2", "dep-3"} {
		expected, next, rec := nextDeposit(current, id, 10, 20, 30)
		require.NoError(t, pools.CommitDeposit(ctx, expected, next, rec))
		current = next
	}

	list, err := deposits.ListDeposits(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, rec := range list {
		assert.Equal(t, uint64(i+1), rec.PoolVersion)
	}

	empty, err := deposits.ListDeposits(ctx, testIdentity(99))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
