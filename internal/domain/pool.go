package domain

// ValueDecimals is the fixed precision of the common value unit (USD-like, 6 decimals).
const ValueDecimals = 6

// MaxLPDecimals bounds the supported precision of the pool-share token.
const MaxLPDecimals = 18

// MaxFeePercent bounds PoolState.Fees.
const MaxFeePercent = 100

// PoolState is the persisted configuration and ledger record of one pool.
// Exactly one exists per ordered (MintA, MintB) pair.
type PoolState struct {
	ID              Identity `json:"id"` // derived from ("poolconfig", MintA, MintB)
	Creator         Identity `json:"creator"`
	Authority       Identity `json:"authority"` // derived pool authority, owns the vaults
	LPMint          Identity `json:"lp_mint"`
	LPMintAuthority Identity `json:"lp_mint_authority"`
	VaultA          Identity `json:"vault_a"`
	VaultB          Identity `json:"vault_b"`
	MintA           Identity `json:"mint_a"`
	MintB           Identity `json:"mint_b"`

	PoolBump            uint8 `json:"pool_bump"`
	AuthorityBump       uint8 `json:"authority_bump"`
	LPMintAuthorityBump uint8 `json:"lp_mint_authority_bump"`

	TokenADeposits uint64 `json:"token_a_deposits"` // cumulative raw amounts, never decremented
	TokenBDeposits uint64 `json:"token_b_deposits"`
	TotalPoolValue uint64 `json:"total_pool_value"` // sum of deposit-time values, 6 decimals
	Fees           uint8  `json:"fees"`             // percent, stored but not applied
	LPDecimals     uint8  `json:"lp_decimals"`
	CreatedAt      int64  `json:"created_at"` // unix seconds
	IsActive       bool   `json:"is_active"`

	// Version increments on every committed deposit; used for optimistic concurrency.
	Version uint64 `json:"version"`
}

// Clone returns a copy safe to mutate.
func (p *PoolState) Clone() *PoolState {
	c := *p
	return &c
}

// ApplyDeposit adds a deposit to the accumulators with overflow checks.
// The receiver is left unchanged on error.
func (p *PoolState) ApplyDeposit(amountA, amountB, value uint64) error {
	a, ok := addUint64(p.TokenADeposits, amountA)
	if !ok {
		return ErrMathOverflow
	}
	b, ok := addUint64(p.TokenBDeposits, amountB)
	if !ok {
		return ErrMathOverflow
	}
	v, ok := addUint64(p.TotalPoolValue, value)
	if !ok {
		return ErrMathOverflow
	}
	p.TokenADeposits = a
	p.TokenBDeposits = b
	p.TotalPoolValue = v
	p.Version++
	return nil
}

func addUint64(a, b uint64) (uint64, bool) {
	s := a + b
	return s, s >= a
}
