package clickhouse

import (
	"context"
	"fmt"
	"time"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/storage"
)

// DepositAnalyticsStore implements storage.DepositAnalyticsStore using ClickHouse.
type DepositAnalyticsStore struct {
	conn *Conn
}

// NewDepositAnalyticsStore creates a new DepositAnalyticsStore.
func NewDepositAnalyticsStore(conn *Conn) *DepositAnalyticsStore {
	return &DepositAnalyticsStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DepositAnalyticsStore = (*DepositAnalyticsStore)(nil)

// Insert adds one record. Returns ErrDuplicateKey if deposit_id exists.
func (s *DepositAnalyticsStore) Insert(ctx context.Context, r *domain.DepositRecord) error {
	return s.InsertBulk(ctx, []*domain.DepositRecord{r})
}

// InsertBulk adds multiple records in one batch. Fails entire batch on any duplicate.
// MergeTree does not enforce keys, so duplicates are checked before sending.
func (s *DepositAnalyticsStore) InsertBulk(ctx context.Context, records []*domain.DepositRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.DepositID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[r.DepositID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[r.DepositID] = struct{}{}
	}

	for _, r := range records {
		exists, err := s.exists(ctx, r.DepositID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	start := time.Now()
	defer func() { observe("insert_deposit_analytics", start, err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO deposit_analytics (
			deposit_id, pool_id, depositor,
			amount_a, amount_b, value_a, value_b, total_value,
			shares_minted, supply_before, pool_value_before,
			feed_a, price_a, conf_a, expo_a, publish_time_a,
			feed_b, price_b, conf_b, expo_b, publish_time_b,
			pool_version, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.DepositID, r.PoolID.String(), r.Depositor.String(),
			r.AmountA, r.AmountB, r.ValueA, r.ValueB, r.TotalValue,
			r.SharesMinted, r.SupplyBefore, r.PoolValue,
			r.QuoteA.FeedID.String(), r.QuoteA.Price, r.QuoteA.Confidence, r.QuoteA.Exponent, r.QuoteA.PublishTime,
			r.QuoteB.FeedID.String(), r.QuoteB.Price, r.QuoteB.Confidence, r.QuoteB.Exponent, r.QuoteB.PublishTime,
			r.PoolVersion, uint64(r.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByPool retrieves all records for a pool, ordered by timestamp ASC.
func (s *DepositAnalyticsStore) GetByPool(ctx context.Context, poolID domain.Identity) (_ []*domain.DepositRecord, err error) {
	start := time.Now()
	defer func() { observe("get_deposit_analytics", start, err) }()

	query := `
		SELECT
			deposit_id, pool_id, depositor,
			amount_a, amount_b, value_a, value_b, total_value,
			shares_minted, supply_before, pool_value_before,
			feed_a, price_a, conf_a, expo_a, publish_time_a,
			feed_b, price_b, conf_b, expo_b, publish_time_b,
			pool_version, timestamp_ms
		FROM deposit_analytics FINAL
		WHERE pool_id = ?
		ORDER BY timestamp_ms ASC, deposit_id ASC
	`

	rows, err := s.conn.Query(ctx, query, poolID.String())
	if err != nil {
		return nil, fmt.Errorf("query by pool id: %w", err)
	}
	defer rows.Close()

	return scanDepositAnalytics(rows)
}

func (s *DepositAnalyticsStore) exists(ctx context.Context, depositID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM deposit_analytics WHERE deposit_id = ?`, depositID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanDepositAnalytics(rows chRows) ([]*domain.DepositRecord, error) {
	var records []*domain.DepositRecord

	for rows.Next() {
		var (
			r                 domain.DepositRecord
			poolID, depositor string
			feedA, feedB      string
			timestampMs       uint64
		)
		err := rows.Scan(
			&r.DepositID, &poolID, &depositor,
			&r.AmountA, &r.AmountB, &r.ValueA, &r.ValueB, &r.TotalValue,
			&r.SharesMinted, &r.SupplyBefore, &r.PoolValue,
			&feedA, &r.QuoteA.Price, &r.QuoteA.Confidence, &r.QuoteA.Exponent, &r.QuoteA.PublishTime,
			&feedB, &r.QuoteB.Price, &r.QuoteB.Confidence, &r.QuoteB.Exponent, &r.QuoteB.PublishTime,
			&r.PoolVersion, &timestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan deposit analytics row: %w", err)
		}

		if r.PoolID, err = domain.ParseIdentity(poolID); err != nil {
			return nil, fmt.Errorf("scan pool id: %w", err)
		}
		if r.Depositor, err = domain.ParseIdentity(depositor); err != nil {
			return nil, fmt.Errorf("scan depositor: %w", err)
		}
		if r.QuoteA.FeedID, err = domain.ParseFeedID(feedA); err != nil {
			return nil, fmt.Errorf("scan feed a: %w", err)
		}
		if r.QuoteB.FeedID, err = domain.ParseFeedID(feedB); err != nil {
			return nil, fmt.Errorf("scan feed b: %w", err)
		}
		r.Timestamp = int64(timestampMs)
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deposit analytics rows: %w", err)
	}

	return records, nil
}
