package postgres

import (
	"context"
	"fmt"
	"time"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL.
// CommitDeposit writes into the deposits table read by DepositStore.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

const poolColumns = `
	id, creator, authority, lp_mint, lp_mint_authority,
	vault_a, vault_b, mint_a, mint_b,
	pool_bump, authority_bump, lp_mint_authority_bump,
	token_a_deposits::text, token_b_deposits::text, total_pool_value::text,
	fees, lp_decimals, created_at, is_active, version
`

// Insert adds a new pool. Returns ErrDuplicateKey if the id, pair or lp_mint exists.
func (s *PoolStore) Insert(ctx context.Context, p *domain.PoolState) (err error) {
	if p == nil || p.ID.IsZero() {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() { observe("insert_pool", start, err) }()

	query := `
		INSERT INTO pools (
			id, creator, authority, lp_mint, lp_mint_authority,
			vault_a, vault_b, mint_a, mint_b,
			pool_bump, authority_bump, lp_mint_authority_bump,
			token_a_deposits, token_b_deposits, total_pool_value,
			fees, lp_decimals, created_at, is_active, version
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13::text::numeric, $14::text::numeric, $15::text::numeric,
			$16, $17, $18, $19, $20
		)
	`

	_, err = s.pool.Exec(ctx, query,
		p.ID.String(), p.Creator.String(), p.Authority.String(), p.LPMint.String(), p.LPMintAuthority.String(),
		p.VaultA.String(), p.VaultB.String(), p.MintA.String(), p.MintB.String(),
		int16(p.PoolBump), int16(p.AuthorityBump), int16(p.LPMintAuthorityBump),
		numeric(p.TokenADeposits), numeric(p.TokenBDeposits), numeric(p.TotalPoolValue),
		int16(p.Fees), int16(p.LPDecimals), p.CreatedAt, p.IsActive, int64(p.Version),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

// GetByID retrieves a pool by id. Returns ErrNotFound if not exists.
func (s *PoolStore) GetByID(ctx context.Context, id domain.Identity) (_ *domain.PoolState, err error) {
	start := time.Now()
	defer func() { observe("get_pool", start, err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, id.String())
	p, err := scanPool(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return p, nil
}

// GetByPair retrieves the pool of an ordered mint pair. Returns ErrNotFound if not exists.
func (s *PoolStore) GetByPair(ctx context.Context, mintA, mintB domain.Identity) (_ *domain.PoolState, err error) {
	start := time.Now()
	defer func() { observe("get_pool_by_pair", start, err) }()

	row := s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE mint_a = $1 AND mint_b = $2`,
		mintA.String(), mintB.String(),
	)
	p, err := scanPool(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool by pair: %w", err)
	}
	return p, nil
}

// GetByLPMint retrieves the pool issuing lpMint. Returns ErrNotFound if not exists.
func (s *PoolStore) GetByLPMint(ctx context.Context, lpMint domain.Identity) (_ *domain.PoolState, err error) {
	start := time.Now()
	defer func() { observe("get_pool_by_lp_mint", start, err) }()

	p, err := scanPool(s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE lp_mint = $1`, lpMint.String()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool by lp mint: %w", err)
	}
	return p, nil
}

// List returns all pools ordered by created_at, then id.
func (s *PoolStore) List(ctx context.Context) (_ []*domain.PoolState, err error) {
	start := time.Now()
	defer func() { observe("list_pools", start, err) }()

	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []*domain.PoolState
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool row: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool rows: %w", err)
	}
	return pools, nil
}

// CommitDeposit updates the pool row guarded by its version and inserts the
// deposit record in the same transaction.
func (s *PoolStore) CommitDeposit(ctx context.Context, expectedVersion uint64, p *domain.PoolState, r *domain.DepositRecord) (err error) {
	if err := storage.ValidateCommit(expectedVersion, p, r); err != nil {
		return err
	}

	start := time.Now()
	defer func() { observe("commit_deposit", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE pools SET
			token_a_deposits = $2::text::numeric,
			token_b_deposits = $3::text::numeric,
			total_pool_value = $4::text::numeric,
			version = $5
		WHERE id = $1 AND version = $6
	`,
		p.ID.String(),
		numeric(p.TokenADeposits), numeric(p.TokenBDeposits), numeric(p.TotalPoolValue),
		int64(p.Version), int64(expectedVersion),
	)
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pools WHERE id = $1)`, p.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("check pool exists: %w", err)
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrVersionConflict
	}

	if err := insertDeposit(ctx, tx, r); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanPool(row rowScanner) (*domain.PoolState, error) {
	var (
		p                                               domain.PoolState
		id, creator, authority, lpMint, lpMintAuthority string
		vaultA, vaultB, mintA, mintB                    string
		poolBump, authorityBump, lpMintAuthorityBump    int16
		tokenADeposits, tokenBDeposits, totalPoolValue  string
		fees, lpDecimals                                int16
		version                                         int64
	)

	err := row.Scan(
		&id, &creator, &authority, &lpMint, &lpMintAuthority,
		&vaultA, &vaultB, &mintA, &mintB,
		&poolBump, &authorityBump, &lpMintAuthorityBump,
		&tokenADeposits, &tokenBDeposits, &totalPoolValue,
		&fees, &lpDecimals, &p.CreatedAt, &p.IsActive, &version,
	)
	if err != nil {
		return nil, err
	}

	identities := []struct {
		column string
		value  string
		dst    *domain.Identity
	}{
		{"id", id, &p.ID},
		{"creator", creator, &p.Creator},
		{"authority", authority, &p.Authority},
		{"lp_mint", lpMint, &p.LPMint},
		{"lp_mint_authority", lpMintAuthority, &p.LPMintAuthority},
		{"vault_a", vaultA, &p.VaultA},
		{"vault_b", vaultB, &p.VaultB},
		{"mint_a", mintA, &p.MintA},
		{"mint_b", mintB, &p.MintB},
	}
	for _, f := range identities {
		if *f.dst, err = parseIdentity(f.column, f.value); err != nil {
			return nil, err
		}
	}

	if p.TokenADeposits, err = parseNumeric("token_a_deposits", tokenADeposits); err != nil {
		return nil, err
	}
	if p.TokenBDeposits, err = parseNumeric("token_b_deposits", tokenBDeposits); err != nil {
		return nil, err
	}
	if p.TotalPoolValue, err = parseNumeric("total_pool_value", totalPoolValue); err != nil {
		return nil, err
	}

	p.PoolBump = uint8(poolBump)
	p.AuthorityBump = uint8(authorityBump)
	p.LPMintAuthorityBump = uint8(lpMintAuthorityBump)
	p.Fees = uint8(fees)
	p.LPDecimals = uint8(lpDecimals)
	p.Version = uint64(version)
	return &p, nil
}
