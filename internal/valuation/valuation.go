// Package valuation converts raw token amounts into the common 6-decimal value unit.
//
// All arithmetic is exact base-10 fixed point (shopspring/decimal); results are
// truncated toward zero. No floating point is involved anywhere.
package valuation

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"liquidity-pool/internal/domain"
)

// MaxScale bounds |exponent - decimals + ValueDecimals|.
// Larger scales cannot produce a representable non-zero u64 value.
const MaxScale = 64

// ValueUSD returns floor(amount / 10^decimals × price × 10^exponent × 10^6).
func ValueUSD(amount uint64, decimals uint8, price int64, exponent int32) (uint64, error) {
	if price < 0 {
		return 0, fmt.Errorf("%w: negative price %d", domain.ErrInvalidPrice, price)
	}
	if amount == 0 || price == 0 {
		return 0, nil
	}

	scale := int64(exponent) - int64(decimals) + domain.ValueDecimals
	if scale < -MaxScale || scale > MaxScale {
		return 0, fmt.Errorf("%w: scale 10^%d out of range (exponent=%d decimals=%d)",
			domain.ErrMathOverflow, scale, exponent, decimals)
	}

	value := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0).
		Mul(decimal.NewFromInt(price)).
		Shift(int32(scale)).
		Truncate(0)

	out := value.BigInt()
	if !out.IsUint64() {
		return 0, fmt.Errorf("%w: value %s exceeds u64 (amount=%d price=%d exponent=%d)",
			domain.ErrMathOverflow, value.String(), amount, price, exponent)
	}
	return out.Uint64(), nil
}

// QuoteValue values amount at quote.
func QuoteValue(amount uint64, decimals uint8, quote *domain.PriceQuote) (uint64, error) {
	if quote == nil {
		return 0, fmt.Errorf("%w: missing quote", domain.ErrInvalidFeed)
	}
	return ValueUSD(amount, decimals, quote.Price, quote.Exponent)
}

// Asset is one side of a pool valuation.
type Asset struct {
	Amount   uint64
	Decimals uint8
	Quote    *domain.PriceQuote
}

// PairValue holds the per-asset values and their checked sum.
type PairValue struct {
	ValueA uint64
	ValueB uint64
	Total  uint64
}

// ValuePair values both assets and sums them with overflow detection.
func ValuePair(a, b Asset) (PairValue, error) {
	va, err := QuoteValue(a.Amount, a.Decimals, a.Quote)
	if err != nil {
		return PairValue{}, fmt.Errorf("value asset a: %w", err)
	}
	vb, err := QuoteValue(b.Amount, b.Decimals, b.Quote)
	if err != nil {
		return PairValue{}, fmt.Errorf("value asset b: %w", err)
	}
	total := va + vb
	if total < va {
		return PairValue{}, fmt.Errorf("%w: %d + %d", domain.ErrMathOverflow, va, vb)
	}
	return PairValue{ValueA: va, ValueB: vb, Total: total}, nil
}

// PoolValueUSD values the live vault balances at freshly fetched quotes.
// It is only meaningful once the pool has issued shares.
func PoolValueUSD(vaultA, vaultB uint64, decimalsA, decimalsB uint8, quoteA, quoteB *domain.PriceQuote) (uint64, error) {
	pv, err := ValuePair(
		Asset{Amount: vaultA, Decimals: decimalsA, Quote: quoteA},
		Asset{Amount: vaultB, Decimals: decimalsB, Quote: quoteB},
	)
	if err != nil {
		return 0, fmt.Errorf("pool value: %w", err)
	}
	return pv.Total, nil
}
