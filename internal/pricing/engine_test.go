package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/Aidin1998/otcdesk/internal/marketdata"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEngine(t *testing.T, symbol, mid, vol string) *Engine {
	t.Helper()
	feed := marketdata.NewStaticFeed()
	if symbol != "" {
		feed.Set(symbol, d(mid), d(vol))
	}
	return NewEngine(feed, zap.NewNop())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		base   string
		amount string
		want   SizeClass
	}{
		{"BTC", "0.1", SizeSmall},
		{"BTC", "0.25", SizeMedium},
		{"BTC", "2", SizeLarge},
		{"BTC", "10", SizeBlock},
		{"eth", "29.99", SizeMedium},
		{"USDT", "1000000", SizeBlock},
		{"XYZ", "999", SizeSmall},
		{"XYZ", "10000", SizeLarge},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.base, d(tc.amount)), "%s %s", tc.base, tc.amount)
	}
}

func TestInstitutionalLargeBTCBuy(t *testing.T) {
	engine := newEngine(t, "BTC/USD", "45000", "3")

	res, err := engine.PriceQuote(context.Background(), PriceRequest{
		BaseCurrency:  "BTC",
		QuoteCurrency: "USD",
		Amount:        d("2"),
		Side:          models.SideBuy,
		ClientTier:    models.TierInstitutional,
	})
	require.NoError(t, err)

	assert.Equal(t, SizeLarge, res.SizeClass)
	// .0010 base + .0005 liquidity + .001 volatility
	assert.True(t, res.Spread.Equal(d("0.0025")), res.Spread.String())
	assert.True(t, res.Price.GreaterThan(d("45000")))
	assert.True(t, res.Price.Equal(d("45112.5")), res.Price.String())
	assert.Equal(t, 60, res.ValiditySeconds)
	assert.Equal(t, "fair", res.LiquidityRating)
	assert.True(t, res.PremiumDiscountPct.Equal(d("0.25")))
	assert.True(t, res.MinAmount.Equal(d("0.01")))
	assert.True(t, res.MaxAmount.Equal(d("1000")))
}

func TestSellPricesBelowMid(t *testing.T) {
	engine := newEngine(t, "ETH/USDT", "3000", "0")

	res, err := engine.PriceQuote(context.Background(), PriceRequest{
		BaseCurrency: "ETH", QuoteCurrency: "USDT", Amount: d("1"), Side: models.SideSell,
	})
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(d("2985")), res.Price.String())
	assert.True(t, res.PremiumDiscountPct.IsNegative())
}

func TestMissingMarketDataPropagates(t *testing.T) {
	engine := newEngine(t, "", "", "")
	_, err := engine.PriceQuote(context.Background(), PriceRequest{
		BaseCurrency: "BTC", QuoteCurrency: "USD", Amount: d("1"), Side: models.SideBuy,
	})
	assert.True(t, errors.Is(err, errors.NoMarketData))
}

func TestVolatilityAdjustment(t *testing.T) {
	assert.True(t, volatilityAdjustment(d("1.9")).IsZero())
	assert.True(t, volatilityAdjustment(d("2")).IsZero())
	assert.True(t, volatilityAdjustment(d("2.1")).Equal(d("0.001")))
	assert.True(t, volatilityAdjustment(d("6")).Equal(d("0.002")))
	assert.True(t, volatilityAdjustment(d("25")).Equal(d("0.003")))
}

// Spread never widens moving to a better tier or a larger size class.
func TestSpreadMonotonic(t *testing.T) {
	engine := newEngine(t, "BTC/USD", "45000", "4")
	tiers := []models.ClientTier{models.TierRetail, models.TierProfessional, models.TierInstitutional}
	sizes := []SizeClass{SizeSmall, SizeMedium, SizeLarge, SizeBlock}

	spread := func(tier models.ClientTier, size SizeClass) decimal.Decimal {
		res, err := engine.PriceQuote(context.Background(), PriceRequest{
			BaseCurrency: "BTC", QuoteCurrency: "USD", Amount: d("1"),
			Side: models.SideBuy, ClientTier: tier, SizeClass: size,
		})
		require.NoError(t, err)
		return res.Spread
	}

	for _, tier := range tiers {
		for i := 1; i < len(sizes); i++ {
			assert.True(t, spread(tier, sizes[i]).LessThanOrEqual(spread(tier, sizes[i-1])), "%s %s", tier, sizes[i])
		}
	}
	for _, size := range sizes {
		for i := 1; i < len(tiers); i++ {
			assert.True(t, spread(tiers[i], size).LessThanOrEqual(spread(tiers[i-1], size)), "%s %s", tiers[i], size)
		}
	}
}

func TestPriceImpactWorsensWithSize(t *testing.T) {
	sizes := []SizeClass{SizeSmall, SizeMedium, SizeLarge, SizeBlock}
	for i := 1; i < len(sizes); i++ {
		assert.True(t, sizeProfiles[sizes[i]].impact.GreaterThan(sizeProfiles[sizes[i-1]].impact))
		assert.Less(t, sizeProfiles[sizes[i]].validity, sizeProfiles[sizes[i-1]].validity)
	}
}

func TestPriceQuoteValidation(t *testing.T) {
	engine := newEngine(t, "BTC/USD", "45000", "0")
	ctx := context.Background()

	_, err := engine.PriceQuote(ctx, PriceRequest{BaseCurrency: "BTC", QuoteCurrency: "USD", Amount: d("0"), Side: models.SideBuy})
	assert.True(t, errors.Is(err, errors.Invalid))

	_, err = engine.PriceQuote(ctx, PriceRequest{BaseCurrency: "BTC", QuoteCurrency: "BTC", Amount: d("1"), Side: models.SideBuy})
	assert.True(t, errors.Is(err, errors.Invalid))

	_, err = engine.PriceQuote(ctx, PriceRequest{BaseCurrency: "BTC", QuoteCurrency: "USD", Amount: d("1"), Side: "hold"})
	assert.True(t, errors.Is(err, errors.Invalid))

	_, err = engine.PriceQuote(ctx, PriceRequest{BaseCurrency: "BTC", QuoteCurrency: "USD", Amount: d("1"), Side: models.SideBuy, ClientTier: "vip"})
	assert.True(t, errors.Is(err, errors.Invalid))
}

func TestExecutionStrategy(t *testing.T) {
	engine := newEngine(t, "BTC/USD", "50000", "0")
	ctx := context.Background()

	cases := []struct {
		style    Style
		amount   string
		minutes  int
		chunks   int
		slippage string
	}{
		{StyleImmediate, "10", 1, 1, "0.0050"},
		// 500k notional: ceil(10)*15 = 150 minutes
		{StyleTWAP, "10", 150, 10, "0.0015"},
		{StyleTWAP, "0.1", 15, 1, "0.0015"},
		{StyleTWAP, "1000", 480, 32, "0.0015"},
		{StyleVWAP, "10", 100, 10, "0.0010"},
		{StyleVWAP, "1000", 360, 36, "0.0010"},
		{StyleIceberg, "10", 25, 20, "0.0020"},
		{StyleIceberg, "1000", 240, 20, "0.0020"},
	}
	for _, tc := range cases {
		before := time.Now().UTC()
		s, err := engine.ExecutionStrategy(ctx, StrategyRequest{
			BaseCurrency: "BTC", QuoteCurrency: "USD", Amount: d(tc.amount), Side: models.SideBuy, Style: tc.style,
		})
		require.NoError(t, err, tc.style)
		assert.Equal(t, tc.minutes, s.ExecutionPeriodMinutes, "%s %s", tc.style, tc.amount)
		assert.Equal(t, tc.chunks, s.ChunkCount, "%s %s", tc.style, tc.amount)
		assert.True(t, s.EstimatedSlippagePct.Equal(d(tc.slippage)))
		assert.True(t, s.ChunkSize.Mul(decimal.NewFromInt(int64(s.ChunkCount))).Sub(d(tc.amount)).Abs().LessThan(d("0.000001")))
		assert.False(t, s.EstimatedCompletion.Before(before.Add(time.Duration(tc.minutes)*time.Minute)))
	}
}

func TestExecutionStrategyErrors(t *testing.T) {
	engine := newEngine(t, "BTC/USD", "50000", "0")
	ctx := context.Background()

	_, err := engine.ExecutionStrategy(ctx, StrategyRequest{BaseCurrency: "BTC", QuoteCurrency: "USD", Amount: d("1"), Style: "sniper"})
	assert.True(t, errors.Is(err, errors.Invalid))

	_, err = engine.ExecutionStrategy(ctx, StrategyRequest{BaseCurrency: "ETH", QuoteCurrency: "USD", Amount: d("1"), Style: StyleTWAP})
	assert.True(t, errors.Is(err, errors.NoMarketData))
}

func TestCurveClampsHugeNotional(t *testing.T) {
	huge := d("1e40")
	assert.Equal(t, 480, twapCurve.minutes(huge))
	assert.Equal(t, 360, vwapCurve.minutes(huge))
	assert.Equal(t, 240, icebergCurve.minutes(huge))
	// 2^63 / 50,000 slices times 15 wraps a 64-bit int.
	assert.Equal(t, 480, twapCurve.minutes(d("9223372036854775807").Mul(d("50000"))))
	assert.Equal(t, 15, twapCurve.minutes(d("1")))
}

func TestExecutionStrategyHugeOrder(t *testing.T) {
	engine := newEngine(t, "BTC/USD", "50000", "0")
	s, err := engine.ExecutionStrategy(context.Background(), StrategyRequest{
		BaseCurrency: "BTC", QuoteCurrency: "USD", Amount: d("1e30"), Side: models.SideBuy, Style: StyleTWAP,
	})
	require.NoError(t, err)
	assert.Equal(t, 480, s.ExecutionPeriodMinutes)
	assert.Equal(t, 32, s.ChunkCount)
}

func TestQuoteCarriesMarketBook(t *testing.T) {
	feed := marketdata.NewStaticFeed()
	feed.SetBook("BTC/USD", d("44990"), d("45010"), d("0"))
	engine := NewEngine(feed, zap.NewNop())

	res, err := engine.PriceQuote(context.Background(), PriceRequest{
		BaseCurrency: "BTC", QuoteCurrency: "USD", Amount: d("1"), Side: models.SideBuy,
	})
	require.NoError(t, err)
	assert.True(t, res.MarketPrice.Equal(d("45000")))
	assert.True(t, res.MarketBid.Equal(d("44990")))
	assert.True(t, res.MarketAsk.Equal(d("45010")))
}
