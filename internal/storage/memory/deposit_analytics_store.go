package memory

import (
	"context"
	"sort"
	"sync"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/storage"
)

// DepositAnalyticsStore is an in-memory implementation of storage.DepositAnalyticsStore.
type DepositAnalyticsStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DepositRecord // keyed by deposit_id
}

// NewDepositAnalyticsStore creates a new in-memory analytics store.
func NewDepositAnalyticsStore() *DepositAnalyticsStore {
	return &DepositAnalyticsStore{
		data: make(map[string]*domain.DepositRecord),
	}
}

var _ storage.DepositAnalyticsStore = (*DepositAnalyticsStore)(nil)

// Insert adds one record. Returns ErrDuplicateKey if deposit_id exists.
func (s *DepositAnalyticsStore) Insert(ctx context.Context, r *domain.DepositRecord) error {
	return s.InsertBulk(ctx, []*domain.DepositRecord{r})
}

// InsertBulk adds multiple records atomically. Fails entire batch on any duplicate.
func (s *DepositAnalyticsStore) InsertBulk(_ context.Context, records []*domain.DepositRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.DepositID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[r.DepositID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[r.DepositID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[r.DepositID] = struct{}{}
	}

	for _, r := range records {
		rec := *r
		s.data[r.DepositID] = &rec
	}
	return nil
}

// GetByPool retrieves all records for a pool, ordered by timestamp ASC.
func (s *DepositAnalyticsStore) GetByPool(_ context.Context, poolID domain.Identity) ([]*domain.DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DepositRecord
	for _, r := range s.data {
		if r.PoolID == poolID {
			rec := *r
			result = append(result, &rec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].DepositID < result[j].DepositID
	})

	return result, nil
}
