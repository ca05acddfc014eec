package domain

import (
	"errors"
	"fmt"
)

// Pool operation errors. Callers match them with errors.Is; DepositError adds context.
var (
	// ErrInvalidDepositValue is returned when a deposit is worth zero common units
	// or is too small to be represented as at least one share.
	ErrInvalidDepositValue = errors.New("invalid deposit value")

	// ErrMathOverflow is returned by any checked arithmetic failure in valuation,
	// scaling, share computation or accumulator updates.
	ErrMathOverflow = errors.New("math overflow")

	// ErrSlippageExceeded is returned when computed shares fall below the caller's minimum.
	ErrSlippageExceeded = errors.New("slippage tolerance exceeded")

	// ErrStalePrice is returned when a quote is older than the allowed age.
	ErrStalePrice = errors.New("price feed too old")

	// ErrInvalidFeed is returned when a feed identifier is malformed or unknown.
	ErrInvalidFeed = errors.New("invalid price feed")

	// ErrInvalidPrice is returned for negative prices.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrPoolAlreadyExists is returned when a pool for the asset pair already exists.
	ErrPoolAlreadyExists = errors.New("pool already exists")

	// ErrPoolNotFound is returned when the pool id does not resolve to a pool.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrPoolInactive is returned when depositing into a pool that is not active.
	ErrPoolInactive = errors.New("pool is not active")

	// ErrConcurrentModification is returned when the pool changed underneath a
	// deposit and the bounded retry budget is exhausted.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrInvalidMintAuthority is returned when the LP mint is not controlled by
	// the derived LP mint authority.
	ErrInvalidMintAuthority = errors.New("invalid lp mint authority")

	// ErrInvalidConfig is returned for pool or service configuration outside supported bounds.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput is returned when request validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCompensationFailed is returned when undoing a partially applied deposit
	// failed. The pool needs manual reconciliation.
	ErrCompensationFailed = errors.New("compensation failed")
)

// DepositStage names the step of a deposit at which it failed.
type DepositStage string

const (
	StageValidate  DepositStage = "validate"
	StagePrice     DepositStage = "price"
	StageValuation DepositStage = "valuation"
	StageShares    DepositStage = "shares"
	StageSlippage  DepositStage = "slippage"
	StageTransfer  DepositStage = "transfer"
	StageMint      DepositStage = "mint"
	StageCommit    DepositStage = "commit"
)

// DepositError carries the inputs and intermediate results of a failed deposit
// so the caller can decide whether to retry, widen slippage or abandon.
type DepositError struct {
	Stage       DepositStage
	PoolID      Identity
	AmountA     uint64
	AmountB     uint64
	Value       uint64 // total deposit value, 0 if not computed yet
	Shares      uint64 // computed shares, 0 if not computed yet
	MinLPTokens uint64
	Err         error
}

func (e *DepositError) Error() string {
	return fmt.Sprintf("deposit %s failed (pool=%s amount_a=%d amount_b=%d value=%d shares=%d min_lp=%d): %v",
		e.Stage, e.PoolID, e.AmountA, e.AmountB, e.Value, e.Shares, e.MinLPTokens, e.Err)
}

func (e *DepositError) Unwrap() error {
	return e.Err
}

// errorTags orders sentinels from most to least specific: a compensation
// failure wraps its cause, so it is matched first.
var errorTags = []struct {
	err error
	tag string
}{
	{ErrCompensationFailed, "compensation_failed"},
	{ErrInvalidDepositValue, "invalid_deposit_value"},
	{ErrMathOverflow, "math_overflow"},
	{ErrSlippageExceeded, "slippage_exceeded"},
	{ErrStalePrice, "stale_price"},
	{ErrInvalidFeed, "invalid_feed"},
	{ErrInvalidPrice, "invalid_price"},
	{ErrPoolAlreadyExists, "pool_already_exists"},
	{ErrPoolNotFound, "pool_not_found"},
	{ErrPoolInactive, "pool_inactive"},
	{ErrConcurrentModification, "concurrent_modification"},
	{ErrInvalidMintAuthority, "invalid_mint_authority"},
	{ErrInvalidConfig, "invalid_config"},
	{ErrInvalidInput, "invalid_input"},
}

// ErrorTag returns the stable snake_case name of the pool error wrapped by err,
// or "internal" when err wraps none of them.
func ErrorTag(err error) string {
	for _, t := range errorTags {
		if errors.Is(err, t.err) {
			return t.tag
		}
	}
	return "internal"
}
