package memory

import (
	"context"
	"sort"
	"sync"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/storage"
)

type pairKey struct {
	mintA, mintB domain.Identity
}

// PoolStore is an in-memory implementation of storage.PoolStore and storage.DepositStore.
// Pools and deposits share one lock so CommitDeposit is atomic.
type PoolStore struct {
	mu       sync.RWMutex
	pools    map[domain.Identity]*domain.PoolState
	byPair   map[pairKey]domain.Identity
	byLPMint map[domain.Identity]domain.Identity
	deposits map[string]*domain.DepositRecord
	byPool   map[domain.Identity][]string // deposit ids in commit order
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		pools:    make(map[domain.Identity]*domain.PoolState),
		byPair:   make(map[pairKey]domain.Identity),
		byLPMint: make(map[domain.Identity]domain.Identity),
		deposits: make(map[string]*domain.DepositRecord),
		byPool:   make(map[domain.Identity][]string),
	}
}

var (
	_ storage.PoolStore    = (*PoolStore)(nil)
	_ storage.DepositStore = (*PoolStore)(nil)
)

// Insert adds a new pool. Returns ErrDuplicateKey if the id, pair or LP mint exists.
func (s *PoolStore) Insert(_ context.Context, p *domain.PoolState) error {
	if p == nil || p.ID.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{p.MintA, p.MintB}
	if _, exists := s.pools[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byPair[key]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byLPMint[p.LPMint]; exists {
		return storage.ErrDuplicateKey
	}

	s.pools[p.ID] = p.Clone()
	s.byPair[key] = p.ID
	s.byLPMint[p.LPMint] = p.ID
	return nil
}

// GetByID retrieves a pool by id.
func (s *PoolStore) GetByID(_ context.Context, id domain.Identity) (*domain.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// GetByPair retrieves the pool of an ordered mint pair.
func (s *PoolStore) GetByPair(_ context.Context, mintA, mintB domain.Identity) (*domain.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPair[pairKey{mintA, mintB}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.pools[id].Clone(), nil
}

// GetByLPMint retrieves the pool issuing lpMint.
func (s *PoolStore) GetByLPMint(_ context.Context, lpMint domain.Identity) (*domain.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byLPMint[lpMint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.pools[id].Clone(), nil
}

// List returns all pools ordered by created_at, then id.
func (s *PoolStore) List(_ context.Context) ([]*domain.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.PoolState, 0, len(s.pools))
	for _, p := range s.pools {
		result = append(result, p.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	return result, nil
}

// CommitDeposit replaces the accumulators and version of the stored pool and
// appends the deposit record, both or neither.
func (s *PoolStore) CommitDeposit(_ context.Context, expectedVersion uint64, p *domain.PoolState, r *domain.DepositRecord) error {
	if err := storage.ValidateCommit(expectedVersion, p, r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.pools[p.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	if _, exists := s.deposits[r.DepositID]; exists {
		return storage.ErrDuplicateKey
	}

	updated := stored.Clone()
	updated.TokenADeposits = p.TokenADeposits
	updated.TokenBDeposits = p.TokenBDeposits
	updated.TotalPoolValue = p.TotalPoolValue
	updated.Version = p.Version
	s.pools[p.ID] = updated

	rec := *r
	s.deposits[r.DepositID] = &rec
	s.byPool[p.ID] = append(s.byPool[p.ID], r.DepositID)
	return nil
}

// GetDeposit retrieves a deposit by id.
func (s *PoolStore) GetDeposit(_ context.Context, depositID string) (*domain.DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.deposits[depositID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	rec := *r
	return &rec, nil
}

// ListDeposits returns the deposits of a pool in commit order.
func (s *PoolStore) ListDeposits(_ context.Context, poolID domain.Identity) ([]*domain.DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byPool[poolID]
	result := make([]*domain.DepositRecord, 0, len(ids))
	for _, id := range ids {
		rec := *s.deposits[id]
		result = append(result, &rec)
	}
	return result, nil
}
