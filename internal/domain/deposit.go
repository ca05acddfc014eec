package domain

// DepositRequest is the input of one deposit. It lives only for the duration of the call.
type DepositRequest struct {
	PoolID      Identity `json:"pool_id" validate:"required"`
	Depositor   Identity `json:"depositor" validate:"required"`
	AmountA     uint64   `json:"amount_a"`
	AmountB     uint64   `json:"amount_b"`
	MinLPTokens uint64   `json:"min_lp_tokens"`
	FeedIDA     string   `json:"price_feed_id_a" validate:"required"`
	FeedIDB     string   `json:"price_feed_id_b" validate:"required"`
}

// DepositRecord is the immutable audit entry of a committed deposit.
type DepositRecord struct {
	DepositID    string     `json:"deposit_id"` // uuid
	PoolID       Identity   `json:"pool_id"`
	Depositor    Identity   `json:"depositor"`
	AmountA      uint64     `json:"amount_a"`
	AmountB      uint64     `json:"amount_b"`
	ValueA       uint64     `json:"value_a"`
	ValueB       uint64     `json:"value_b"`
	TotalValue   uint64     `json:"total_value"`
	SharesMinted uint64     `json:"shares_minted"`
	SupplyBefore uint64     `json:"supply_before"`
	PoolValue    uint64     `json:"pool_value_before"` // 0 for the bootstrap deposit
	QuoteA       PriceQuote `json:"quote_a"`
	QuoteB       PriceQuote `json:"quote_b"`
	PoolVersion  uint64     `json:"pool_version"` // PoolState.Version after commit
	Timestamp    int64      `json:"timestamp"`    // unix milliseconds
}

// IsBootstrap reports whether the deposit minted the first shares of the pool.
func (r *DepositRecord) IsBootstrap() bool {
	return r.SupplyBefore == 0
}

// DepositReceipt is returned to the caller of a successful deposit.
type DepositReceipt struct {
	DepositRecord
	Attempts int `json:"attempts"` // 1 unless the pool changed concurrently and the deposit was retried
}
