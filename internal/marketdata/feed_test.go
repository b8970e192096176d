package marketdata

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingFeed struct {
	Feed
	calls atomic.Int32
}

func (c *countingFeed) Snapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	c.calls.Add(1)
	return c.Feed.Snapshot(ctx, symbol)
}

func TestStaticFeed(t *testing.T) {
	feed := NewStaticFeed()
	feed.Set("btc/usd", decimal.NewFromInt(50_000), decimal.NewFromInt(3))

	s, err := feed.Snapshot(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.True(t, s.Price.Equal(decimal.NewFromInt(50_000)))
	assert.Equal(t, "BTC/USD", s.Symbol)

	_, err = feed.Snapshot(context.Background(), "DOGE/USD")
	assert.True(t, errors.Is(err, errors.NoMarketData))
}

func TestCachedFeedHitsUpstreamOnce(t *testing.T) {
	static := NewStaticFeed()
	static.Set("ETH/USD", decimal.NewFromInt(3_000), decimal.Zero)
	upstream := &countingFeed{Feed: static}

	feed, err := NewCachedFeed(upstream, time.Minute)
	require.NoError(t, err)
	defer feed.Close()

	_, err = feed.Snapshot(context.Background(), "ETH/USD")
	require.NoError(t, err)
	feed.Wait()
	s, err := feed.Snapshot(context.Background(), "eth/usd")
	require.NoError(t, err)

	assert.True(t, s.Price.Equal(decimal.NewFromInt(3_000)))
	assert.EqualValues(t, 1, upstream.calls.Load())
}

func TestCachedFeedDoesNotCacheMisses(t *testing.T) {
	static := NewStaticFeed()
	feed, err := NewCachedFeed(static, time.Minute)
	require.NoError(t, err)
	defer feed.Close()

	_, err = feed.Snapshot(context.Background(), "SOL/USD")
	require.True(t, errors.Is(err, errors.NoMarketData))

	static.Set("SOL/USD", decimal.NewFromInt(150), decimal.Zero)
	s, err := feed.Snapshot(context.Background(), "SOL/USD")
	require.NoError(t, err)
	assert.True(t, s.Price.Equal(decimal.NewFromInt(150)))
}

func TestDecodeSnapshot(t *testing.T) {
	s, err := decodeSnapshot("BTC/USD", []byte(`{"price":"50000.5","volatility_24h":"4.2"}`))
	require.NoError(t, err)
	assert.Equal(t, "50000.5", s.Price.String())
	assert.Equal(t, "4.2", s.Volatility24h.String())

	_, err = decodeSnapshot("BTC/USD", []byte(`{"price":"0"}`))
	assert.True(t, errors.Is(err, errors.NoMarketData))

	_, err = decodeSnapshot("BTC/USD", []byte(`{"price":"50000","bid_price":"50010","ask_price":"49990"}`))
	assert.True(t, errors.Is(err, errors.NoMarketData), "crossed book")

	_, err = decodeSnapshot("BTC/USD", []byte(`not json`))
	assert.True(t, errors.Is(err, errors.NoMarketData))
}

func TestConverterPrefersFeed(t *testing.T) {
	feed := NewStaticFeed()
	feed.Set("BTC/USD", decimal.NewFromInt(60_000), decimal.Zero)
	conv := NewConverter(feed)

	usd, err := conv.ToUSD(context.Background(), "BTC", decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.True(t, usd.Equal(decimal.NewFromInt(30_000)))

	usd, err = conv.ToUSD(context.Background(), "eth", decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.True(t, usd.Equal(decimal.NewFromInt(6_000)), "falls back to static table")

	_, err = conv.ToUSD(context.Background(), "XYZ", decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, errors.NoMarketData))
}

func TestDecodeSnapshotBidAsk(t *testing.T) {
	s, err := decodeSnapshot("BTC/USD", []byte(`{"price":"50000","bid_price":"49990.5","ask_price":"50009.5","volatility_24h":"2"}`))
	require.NoError(t, err)
	assert.Equal(t, "49990.5", s.BidPrice.String())
	assert.Equal(t, "50009.5", s.AskPrice.String())
	assert.Equal(t, "19", s.Spread().String())

	s, err = decodeSnapshot("ETH/USD", []byte(`{"bid_price":"2999","ask_price":"3001"}`))
	require.NoError(t, err)
	assert.Equal(t, "3000", s.Price.String(), "mid derived from the book")

	s, err = decodeSnapshot("SOL/USD", []byte(`{"price":"150"}`))
	require.NoError(t, err)
	assert.True(t, s.Spread().IsZero())
}

func TestStaticFeedSetBook(t *testing.T) {
	feed := NewStaticFeed()
	feed.SetBook("BTC/USD", decimal.NewFromInt(49_990), decimal.NewFromInt(50_010), decimal.NewFromInt(3))

	s, err := feed.Snapshot(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.True(t, s.Price.Equal(decimal.NewFromInt(50_000)))
	assert.True(t, s.BidPrice.Equal(decimal.NewFromInt(49_990)))
	assert.True(t, s.AskPrice.Equal(decimal.NewFromInt(50_010)))
}

// unreachableFeed fails every lookup the way a dropped feed connection does.
type unreachableFeed struct{}

func (unreachableFeed) Snapshot(_ context.Context, symbol string) (*Snapshot, error) {
	return nil, errors.MarketDataUnavailable.Explain("market data unavailable for %s", symbol)
}

func TestConverterDoesNotMaskFeedOutage(t *testing.T) {
	conv := NewConverter(unreachableFeed{})

	_, err := conv.ToUSD(context.Background(), "BTC", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.MarketDataUnavailable))
	assert.False(t, errors.Is(err, errors.NoMarketData))

	usd, err := conv.ToUSD(context.Background(), "USD", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.True(t, usd.Equal(decimal.NewFromInt(5)))
}

func TestRedisFeedTransportError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	feed := NewRedisFeed(client, zap.NewNop())

	_, err := feed.Snapshot(context.Background(), "BTC/USD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.MarketDataUnavailable))

	_, err = NewConverter(feed).Rate(context.Background(), "BTC")
	assert.True(t, errors.Is(err, errors.MarketDataUnavailable), "no static fallback while redis is down")
}

func TestFallbackCoversSupportedChains(t *testing.T) {
	conv := NewConverter(NewStaticFeed())
	for _, cur := range []string{"BTC", "BCH", "LTC", "ETH", "USDT", "USDC", "SOL", "XRP"} {
		rate, err := conv.Rate(context.Background(), cur)
		require.NoError(t, err, cur)
		assert.True(t, rate.IsPositive(), cur)
	}
}
