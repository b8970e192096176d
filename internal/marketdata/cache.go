package marketdata

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// CachedFeed keeps snapshots of an upstream feed for a short TTL.
// Misses are never cached so a symbol that appears is picked up at once.
type CachedFeed struct {
	upstream Feed
	cache    *ristretto.Cache
	ttl      time.Duration
}

func NewCachedFeed(upstream Feed, ttl time.Duration) (*CachedFeed, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 12,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedFeed{upstream: upstream, cache: c, ttl: ttl}, nil
}

func (f *CachedFeed) Snapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	key := normalize(symbol)
	if v, ok := f.cache.Get(key); ok {
		s := v.(Snapshot)
		return &s, nil
	}
	s, err := f.upstream.Snapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	f.cache.SetWithTTL(key, *s, 1, f.ttl)
	return s, nil
}

// Wait blocks until pending cache writes are applied.
func (f *CachedFeed) Wait() { f.cache.Wait() }

func (f *CachedFeed) Close() { f.cache.Close() }
