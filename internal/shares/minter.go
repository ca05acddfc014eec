// Package shares computes LP token issuance for a deposit.
package shares

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"liquidity-pool/internal/domain"
)

// Minter converts deposit value into LP shares for one pool.
type Minter struct {
	lpDecimals uint8
}

// NewMinter creates a minter for an LP token with lpDecimals decimals.
func NewMinter(lpDecimals uint8) (*Minter, error) {
	if lpDecimals > domain.MaxLPDecimals {
		return nil, fmt.Errorf("%w: lp decimals %d exceeds %d",
			domain.ErrInvalidConfig, lpDecimals, domain.MaxLPDecimals)
	}
	return &Minter{lpDecimals: lpDecimals}, nil
}

// ForPool returns the minter configured by the pool's LP precision.
func ForPool(pool *domain.PoolState) (*Minter, error) {
	return NewMinter(pool.LPDecimals)
}

// LPDecimals returns the LP token precision.
func (m *Minter) LPDecimals() uint8 {
	return m.lpDecimals
}

// ScaleToLP rescales a 6-decimal value into LP base units.
// Shrinking floors; growing past u64 fails with ErrMathOverflow.
func (m *Minter) ScaleToLP(value uint64) (uint64, error) {
	v := sdkmath.NewIntFromUint64(value)
	switch {
	case int(m.lpDecimals) > domain.ValueDecimals:
		v = v.Mul(sdkmath.NewIntWithDecimal(1, int(m.lpDecimals)-domain.ValueDecimals))
	case int(m.lpDecimals) < domain.ValueDecimals:
		v = v.Quo(sdkmath.NewIntWithDecimal(1, domain.ValueDecimals-int(m.lpDecimals)))
	}
	return toUint64(v, "scale to lp")
}

// SharesToMint returns the LP tokens owed for depositValue.
//
// With no supply outstanding the deposit bootstraps the pool and receives its
// value scaled to LP precision. Otherwise the result is
// floor(existingSupply × depositValue / currentPoolValue) computed without
// intermediate overflow.
func (m *Minter) SharesToMint(depositValue, existingSupply, currentPoolValue uint64) (uint64, error) {
	if depositValue == 0 {
		return 0, fmt.Errorf("%w: zero deposit value", domain.ErrInvalidDepositValue)
	}

	var (
		shares uint64
		err    error
	)
	if existingSupply == 0 {
		shares, err = m.ScaleToLP(depositValue)
	} else {
		shares, err = proportional(depositValue, existingSupply, currentPoolValue)
	}
	if err != nil {
		return 0, err
	}
	if shares == 0 {
		return 0, fmt.Errorf("%w: deposit value %d mints no shares", domain.ErrInvalidDepositValue, depositValue)
	}
	return shares, nil
}

func proportional(depositValue, existingSupply, currentPoolValue uint64) (uint64, error) {
	if currentPoolValue == 0 {
		return 0, fmt.Errorf("%w: pool value is zero with %d shares outstanding",
			domain.ErrMathOverflow, existingSupply)
	}
	num := sdkmath.NewIntFromUint64(existingSupply).Mul(sdkmath.NewIntFromUint64(depositValue))
	return toUint64(num.Quo(sdkmath.NewIntFromUint64(currentPoolValue)), "proportional shares")
}

func toUint64(v sdkmath.Int, what string) (uint64, error) {
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s %s exceeds u64", domain.ErrMathOverflow, what, v.String())
	}
	return v.Uint64(), nil
}

// CheckSlippage fails when fewer than minShares would be minted.
func CheckSlippage(shares, minShares uint64) error {
	if shares < minShares {
		return fmt.Errorf("%w: would mint %d, minimum %d", domain.ErrSlippageExceeded, shares, minShares)
	}
	return nil
}
