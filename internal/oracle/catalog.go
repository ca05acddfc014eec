package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	rstore "github.com/eko/gocache/store/ristretto/v4"

	"liquidity-pool/internal/domain"
)

// DefaultCatalogTTL is how long a fetched feed list stays valid.
const DefaultCatalogTTL = 10 * time.Minute

const catalogKey = "oracle:feeds"

// Catalog answers whether a feed id is served by the oracle. Only the feed
// list is memoized; prices never pass through it.
type Catalog struct {
	lister FeedLister
	cache  *cache.Cache[[]byte]
	ttl    time.Duration
}

// NewCache builds the in-process ristretto-backed cache used by Catalog.
func NewCache() (*cache.Cache[[]byte], error) {
	rcache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return cache.New[[]byte](rstore.NewRistretto(rcache)), nil
}

// NewCatalog creates a catalog over lister with its own cache.
func NewCatalog(lister FeedLister, ttl time.Duration) (*Catalog, error) {
	c, err := NewCache()
	if err != nil {
		return nil, err
	}
	return NewCatalogWithCache(lister, c, ttl), nil
}

// NewCatalogWithCache creates a catalog that memoizes into c.
func NewCatalogWithCache(lister FeedLister, c *cache.Cache[[]byte], ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &Catalog{lister: lister, cache: c, ttl: ttl}
}

// Contains reports whether id is a listed feed.
func (c *Catalog) Contains(ctx context.Context, id domain.FeedID) (bool, error) {
	feeds, err := c.feeds(ctx)
	if err != nil {
		return false, err
	}
	_, ok := feeds[id.String()]
	return ok, nil
}

// Invalidate drops the memoized feed list.
func (c *Catalog) Invalidate(ctx context.Context) error {
	return c.cache.Delete(ctx, catalogKey)
}

func (c *Catalog) feeds(ctx context.Context) (map[string]struct{}, error) {
	if data, err := c.cache.Get(ctx, catalogKey); err == nil {
		var ids []string
		if err := json.Unmarshal(data, &ids); err == nil {
			return toSet(ids), nil
		}
	}

	listed, err := c.lister.Feeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	ids := make([]string, len(listed))
	for i, id := range listed {
		ids[i] = id.String()
	}

	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal feed list: %w", err)
	}
	// A failed store only costs a refetch next time.
	_ = c.cache.Set(ctx, catalogKey, data, store.WithExpiration(c.ttl), store.WithCost(1))

	return toSet(ids), nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
