package valuation

import (
	"errors"
	"math"
	"testing"

	"liquidity-pool/internal/domain"
)

func TestValueUSD(t *testing.T) {
	tests := []struct {
		name     string
		amount   uint64
		decimals uint8
		price    int64
		exponent int32
		want     uint64
	}{
		{"one token at one dollar", 1_000_000, 6, 100_000_000, -8, 1_000_000},
		{"half token at two dollars", 500_000, 6, 200_000_000, -8, 1_000_000},
		{"nine decimals", 2_500_000_000, 9, 15_000_000_000, -8, 375_000_000},
		{"zero decimals", 3, 0, 12_345, -2, 370_350_000},
		{"truncates toward zero", 1, 6, 99_999_999, -8, 0},
		{"sub unit floor", 3, 6, 50_000_000, -8, 1},
		{"positive exponent", 1_000_000, 6, 2, 3, 2_000_000_000},
		{"zero amount", 0, 6, 100_000_000, -8, 0},
		{"zero price", 1_000_000, 6, 0, -8, 0},
		{"eighteen decimals", 1_000_000_000_000_000_000, 18, 300_000_000_000, -8, 3_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValueUSD(tt.amount, tt.decimals, tt.price, tt.exponent)
			if err != nil {
				t.Fatalf("ValueUSD: %v", err)
			}
			if got != tt.want {
				t.Errorf("ValueUSD = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValueUSD_Overflow(t *testing.T) {
	if _, err := ValueUSD(math.MaxUint64, 0, math.MaxInt64, 0); !errors.Is(err, domain.ErrMathOverflow) {
		t.Errorf("expected ErrMathOverflow for huge product, got %v", err)
	}
	if _, err := ValueUSD(1, 0, 1, 100); !errors.Is(err, domain.ErrMathOverflow) {
		t.Errorf("expected ErrMathOverflow for huge exponent, got %v", err)
	}
	if _, err := ValueUSD(1, 0, 1, -100); !errors.Is(err, domain.ErrMathOverflow) {
		t.Errorf("expected ErrMathOverflow for tiny exponent, got %v", err)
	}
}

func TestValueUSD_Boundary(t *testing.T) {
	// Exactly u64 max is representable.
	got, err := ValueUSD(math.MaxUint64, 6, 1, 0)
	if err != nil {
		t.Fatalf("ValueUSD: %v", err)
	}
	if got != math.MaxUint64 {
		t.Errorf("ValueUSD = %d, want %d", got, uint64(math.MaxUint64))
	}

	if _, err := ValueUSD(math.MaxUint64, 6, 2, 0); !errors.Is(err, domain.ErrMathOverflow) {
		t.Errorf("expected ErrMathOverflow one past max, got %v", err)
	}
}

func TestValueUSD_NegativePrice(t *testing.T) {
	if _, err := ValueUSD(1_000_000, 6, -1, -8); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestValueUSD_Monotonic(t *testing.T) {
	prev := uint64(0)
	for amount := uint64(0); amount < 5_000; amount += 37 {
		v, err := ValueUSD(amount, 6, 123_456_789, -8)
		if err != nil {
			t.Fatalf("ValueUSD(%d): %v", amount, err)
		}
		if v < prev {
			t.Fatalf("value decreased at amount %d: %d < %d", amount, v, prev)
		}
		prev = v
	}
}

func TestPoolValueUSD(t *testing.T) {
	qa := &domain.PriceQuote{Price: 100_000_000, Exponent: -8}
	qb := &domain.PriceQuote{Price: 200_000_000, Exponent: -8}

	got, err := PoolValueUSD(1_000_000, 500_000, 6, 6, qa, qb)
	if err != nil {
		t.Fatalf("PoolValueUSD: %v", err)
	}
	if got != 2_000_000 {
		t.Errorf("PoolValueUSD = %d, want 2000000", got)
	}

	big := &domain.PriceQuote{Price: 1, Exponent: 0}
	if _, err := PoolValueUSD(math.MaxUint64, math.MaxUint64, 6, 6, big, big); !errors.Is(err, domain.ErrMathOverflow) {
		t.Errorf("expected ErrMathOverflow on sum, got %v", err)
	}

	if _, err := PoolValueUSD(1, 1, 6, 6, nil, qb); !errors.Is(err, domain.ErrInvalidFeed) {
		t.Errorf("expected ErrInvalidFeed for missing quote, got %v", err)
	}
}

func TestValuePair(t *testing.T) {
	pv, err := ValuePair(
		Asset{Amount: 1_000_000, Decimals: 6, Quote: &domain.PriceQuote{Price: 100_000_000, Exponent: -8}},
		Asset{Amount: 500_000, Decimals: 6, Quote: &domain.PriceQuote{Price: 200_000_000, Exponent: -8}},
	)
	if err != nil {
		t.Fatalf("ValuePair: %v", err)
	}
	if pv.ValueA != 1_000_000 || pv.ValueB != 1_000_000 || pv.Total != 2_000_000 {
		t.Errorf("unexpected pair value: %+v", pv)
	}
}
