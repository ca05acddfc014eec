package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FeedID identifies a price feed (Pyth-style 32-byte id).
type FeedID [32]byte

// ParseFeedID decodes a hex feed id, with or without a 0x prefix.
func ParseFeedID(s string) (FeedID, error) {
	var id FeedID
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(trimmed) != 2*len(id) {
		return id, fmt.Errorf("%w: feed id %q must be %d hex characters", ErrInvalidFeed, s, 2*len(id))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("%w: feed id %q: %v", ErrInvalidFeed, s, err)
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the lowercase hex form without prefix, as used by Hermes.
func (f FeedID) String() string {
	return hex.EncodeToString(f[:])
}

// MarshalText implements encoding.TextMarshaler.
func (f FeedID) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FeedID) UnmarshalText(text []byte) error {
	parsed, err := ParseFeedID(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// PriceQuote is one oracle observation. The real price is Price × 10^Exponent.
// Quotes are ephemeral: they are fetched for every valuation and never reused.
type PriceQuote struct {
	FeedID      FeedID `json:"feed_id"`
	Price       int64  `json:"price"`
	Confidence  uint64 `json:"conf"`
	Exponent    int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"` // unix seconds
}

// Age returns how many seconds old the quote is at now (unix seconds).
// Quotes published in the future have a negative age.
func (q *PriceQuote) Age(now int64) int64 {
	return now - q.PublishTime
}
