package oracle

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"liquidity-pool/internal/domain"
)

// StaticSource serves quotes held in memory. Used for development and tests.
type StaticSource struct {
	mu     sync.RWMutex
	quotes map[domain.FeedID]domain.PriceQuote
	// Refresh stamps quotes with the current time on read when set.
	refresh func() time.Time
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{quotes: make(map[domain.FeedID]domain.PriceQuote)}
}

// NewLiveStaticSource creates a static source whose quotes always look freshly
// published according to now.
func NewLiveStaticSource(now func() time.Time) *StaticSource {
	s := NewStaticSource()
	s.refresh = now
	return s
}

// Name implements Source.
func (s *StaticSource) Name() string { return "static" }

// Set stores q, replacing any previous quote for the same feed.
func (s *StaticSource) Set(q domain.PriceQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.FeedID] = q
}

// Latest implements Source.
func (s *StaticSource) Latest(_ context.Context, id domain.FeedID) (*domain.PriceQuote, error) {
	s.mu.RLock()
	q, ok := s.quotes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no static quote for %s", domain.ErrInvalidFeed, id)
	}
	if s.refresh != nil {
		q.PublishTime = s.refresh().Unix()
	}
	return &q, nil
}

// Feeds implements FeedLister.
func (s *StaticSource) Feeds(_ context.Context) ([]domain.FeedID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.FeedID, 0, len(s.quotes))
	for id := range s.quotes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// ParseStaticQuote parses "feed=price:exponent", e.g. "0xef0d...=100000000:-8".
func ParseStaticQuote(s string) (domain.PriceQuote, error) {
	feed, rest, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("%w: static quote %q: want feed=price:exponent", domain.ErrInvalidInput, s)
	}
	id, err := domain.ParseFeedID(feed)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	priceStr, expoStr, ok := strings.Cut(rest, ":")
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("%w: static quote %q: missing exponent", domain.ErrInvalidInput, s)
	}
	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("%w: static quote price %q: %v", domain.ErrInvalidInput, priceStr, err)
	}
	expo, err := strconv.ParseInt(expoStr, 10, 32)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("%w: static quote exponent %q: %v", domain.ErrInvalidInput, expoStr, err)
	}
	return domain.PriceQuote{FeedID: id, Price: price, Exponent: int32(expo)}, nil
}
