package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/storage"
)

// DepositStore implements storage.DepositStore using PostgreSQL.
type DepositStore struct {
	pool *Pool
}

// NewDepositStore creates a new DepositStore.
func NewDepositStore(pool *Pool) *DepositStore {
	return &DepositStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DepositStore = (*DepositStore)(nil)

const depositColumns = `
	deposit_id, pool_id, depositor,
	amount_a::text, amount_b::text, value_a::text, value_b::text, total_value::text,
	shares_minted::text, supply_before::text, pool_value_before::text,
	quote_a::text, quote_b::text, pool_version, timestamp_ms
`

// GetDeposit retrieves a deposit by id. Returns ErrNotFound if not exists.
func (s *DepositStore) GetDeposit(ctx context.Context, depositID string) (_ *domain.DepositRecord, err error) {
	start := time.Now()
	defer func() { observe("get_deposit", start, err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE deposit_id = $1`, depositID)
	r, err := scanDeposit(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get deposit: %w", err)
	}
	return r, nil
}

// ListDeposits returns the deposits of a pool ordered by pool_version ASC.
func (s *DepositStore) ListDeposits(ctx context.Context, poolID domain.Identity) (_ []*domain.DepositRecord, err error) {
	start := time.Now()
	defer func() { observe("list_deposits", start, err) }()

	rows, err := s.pool.Query(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE pool_id = $1 ORDER BY pool_version ASC`,
		poolID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	defer rows.Close()

	records := []*domain.DepositRecord{}
	for rows.Next() {
		r, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deposit row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deposit rows: %w", err)
	}
	return records, nil
}

// insertDeposit appends r inside tx. Returns ErrDuplicateKey if deposit_id or
// (pool_id, pool_version) exists.
func insertDeposit(ctx context.Context, tx pgx.Tx, r *domain.DepositRecord) error {
	quoteA, err := json.Marshal(r.QuoteA)
	if err != nil {
		return fmt.Errorf("marshal quote a: %w", err)
	}
	quoteB, err := json.Marshal(r.QuoteB)
	if err != nil {
		return fmt.Errorf("marshal quote b: %w", err)
	}

	query := `
		INSERT INTO deposits (
			deposit_id, pool_id, depositor,
			amount_a, amount_b, value_a, value_b, total_value,
			shares_minted, supply_before, pool_value_before,
			quote_a, quote_b, pool_version, timestamp_ms
		) VALUES (
			$1, $2, $3,
			$4::text::numeric, $5::text::numeric, $6::text::numeric, $7::text::numeric, $8::text::numeric,
			$9::text::numeric, $10::text::numeric, $11::text::numeric,
			$12::jsonb, $13::jsonb, $14, $15
		)
	`

	_, err = tx.Exec(ctx, query,
		r.DepositID, r.PoolID.String(), r.Depositor.String(),
		numeric(r.AmountA), numeric(r.AmountB), numeric(r.ValueA), numeric(r.ValueB), numeric(r.TotalValue),
		numeric(r.SharesMinted), numeric(r.SupplyBefore), numeric(r.PoolValue),
		string(quoteA), string(quoteB), int64(r.PoolVersion), r.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert deposit: %w", err)
	}
	return nil
}

func scanDeposit(row rowScanner) (*domain.DepositRecord, error) {
	var (
		r                                     domain.DepositRecord
		poolID, depositor                     string
		amountA, amountB, valueA, valueB      string
		totalValue, shares, supply, poolValue string
		quoteA, quoteB                        string
		poolVersion                           int64
	)

	err := row.Scan(
		&r.DepositID, &poolID, &depositor,
		&amountA, &amountB, &valueA, &valueB, &totalValue,
		&shares, &supply, &poolValue,
		&quoteA, &quoteB, &poolVersion, &r.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if r.PoolID, err = parseIdentity("pool_id", poolID); err != nil {
		return nil, err
	}
	if r.Depositor, err = parseIdentity("depositor", depositor); err != nil {
		return nil, err
	}

	numerics := []struct {
		column string
		value  string
		dst    *uint64
	}{
		{"amount_a", amountA, &r.AmountA},
		{"amount_b", amountB, &r.AmountB},
		{"value_a", valueA, &r.ValueA},
		{"value_b", valueB, &r.ValueB},
		{"total_value", totalValue, &r.TotalValue},
		{"shares_minted", shares, &r.SharesMinted},
		{"supply_before", supply, &r.SupplyBefore},
		{"pool_value_before", poolValue, &r.PoolValue},
	}
	for _, f := range numerics {
		if *f.dst, err = parseNumeric(f.column, f.value); err != nil {
			return nil, err
		}
	}

	if err := json.Unmarshal([]byte(quoteA), &r.QuoteA); err != nil {
		return nil, fmt.Errorf("parse quote_a: %w", err)
	}
	if err := json.Unmarshal([]byte(quoteB), &r.QuoteB); err != nil {
		return nil, fmt.Errorf("parse quote_b: %w", err)
	}

	r.PoolVersion = uint64(poolVersion)
	return &r, nil
}
