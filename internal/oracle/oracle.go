// Package oracle retrieves price quotes and enforces their freshness.
//
// The Adapter never caches prices: every GetPrice call reaches the configured
// Source. Sources differ only in how they obtain the latest observation.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/logging"
	"liquidity-pool/internal/observability"
)

// DefaultMaxAge is the oldest quote accepted by default.
const DefaultMaxAge = 60 * time.Second

// Source returns the most recent observation for a feed.
// Unknown feeds fail with domain.ErrInvalidFeed.
type Source interface {
	Name() string
	Latest(ctx context.Context, id domain.FeedID) (*domain.PriceQuote, error)
}

// FeedLister enumerates the feeds a source can serve.
type FeedLister interface {
	Feeds(ctx context.Context) ([]domain.FeedID, error)
}

// Options configures an Adapter.
type Options struct {
	Source Source
	// Catalog restricts accepted feeds. Nil accepts any well-formed id.
	Catalog *Catalog
	// MaxAge defaults to DefaultMaxAge.
	MaxAge time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

// Adapter validates feed ids, fetches quotes and rejects stale ones.
type Adapter struct {
	source  Source
	catalog *Catalog
	maxAge  time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewAdapter creates a price adapter.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.Source == nil {
		return nil, errors.New("oracle: source is required")
	}
	if opts.MaxAge < 0 {
		return nil, fmt.Errorf("oracle: negative max age %s", opts.MaxAge)
	}
	a := &Adapter{
		source:  opts.Source,
		catalog: opts.Catalog,
		maxAge:  opts.MaxAge,
		now:     opts.Now,
		logger:  logging.OrNop(opts.Logger).Named("oracle"),
	}
	if a.maxAge == 0 {
		a.maxAge = DefaultMaxAge
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// MaxAge returns the freshness bound applied by GetPrice.
func (a *Adapter) MaxAge() time.Duration {
	return a.maxAge
}

// ResolveFeed parses a hex feed id and checks it against the catalog.
func (a *Adapter) ResolveFeed(ctx context.Context, feedHex string) (domain.FeedID, error) {
	id, err := domain.ParseFeedID(feedHex)
	if err != nil {
		observability.RecordOracleRejection("malformed")
		return domain.FeedID{}, err
	}
	if a.catalog == nil {
		return id, nil
	}
	known, err := a.catalog.Contains(ctx, id)
	if err != nil {
		return domain.FeedID{}, fmt.Errorf("resolve feed %s: %w", id, err)
	}
	if !known {
		observability.RecordOracleRejection("unknown")
		return domain.FeedID{}, fmt.Errorf("%w: feed %s not listed", domain.ErrInvalidFeed, id)
	}
	return id, nil
}

// GetPrice returns a quote for feedHex no older than MaxAge.
func (a *Adapter) GetPrice(ctx context.Context, feedHex string) (*domain.PriceQuote, error) {
	return a.GetPriceNoOlderThan(ctx, feedHex, a.maxAge)
}

// GetPriceNoOlderThan returns a quote whose publish time satisfies
// publish_time + maxAge >= now. Future publish times are accepted.
func (a *Adapter) GetPriceNoOlderThan(ctx context.Context, feedHex string, maxAge time.Duration) (*domain.PriceQuote, error) {
	id, err := a.ResolveFeed(ctx, feedHex)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	q, err := a.source.Latest(ctx, id)
	observability.RecordOracleFetch(a.source.Name(), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("fetch %s from %s: %w", id, a.source.Name(), err)
	}
	if q.FeedID != id {
		observability.RecordOracleRejection("mismatch")
		return nil, fmt.Errorf("%w: requested %s, source answered %s", domain.ErrInvalidFeed, id, q.FeedID)
	}

	age := q.Age(a.now().Unix())
	if age > int64(maxAge/time.Second) {
		observability.RecordOracleRejection("stale")
		a.logger.Warn("stale quote rejected",
			zap.Stringer("feed", id),
			zap.Int64("age_seconds", age),
			zap.Duration("max_age", maxAge))
		return nil, fmt.Errorf("%w: feed %s is %ds old, max %s", domain.ErrStalePrice, id, age, maxAge)
	}
	observability.RecordQuoteAge(age)

	out := *q
	return &out, nil
}
