// Package pricing turns a requested trade into an executable OTC price and
// recommends how to work large size.
package pricing

import (
	"context"
	"strings"

	"github.com/Aidin1998/otcdesk/internal/marketdata"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/metrics"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// PriceRequest asks for a price on amount units of base against quote.
// SizeClass overrides the computed class when set.
type PriceRequest struct {
	BaseCurrency  string            `json:"base_currency"`
	QuoteCurrency string            `json:"quote_currency"`
	Amount        decimal.Decimal   `json:"amount"`
	Side          models.Side       `json:"side"`
	ClientTier    models.ClientTier `json:"client_tier"`
	SizeClass     SizeClass         `json:"size_class,omitempty"`
}

// PriceResult is an executable OTC price.
type PriceResult struct {
	Price              decimal.Decimal `json:"price"`
	Spread             decimal.Decimal `json:"spread"`
	ValiditySeconds    int             `json:"validity_seconds"`
	LiquidityRating    string          `json:"liquidity_rating"`
	PriceImpact        decimal.Decimal `json:"price_impact"`
	MarketPrice        decimal.Decimal `json:"market_price"`
	MarketBid          decimal.Decimal `json:"market_bid"`
	MarketAsk          decimal.Decimal `json:"market_ask"`
	PremiumDiscountPct decimal.Decimal `json:"premium_discount_pct"`
	MinAmount          decimal.Decimal `json:"min_amount"`
	MaxAmount          decimal.Decimal `json:"max_amount"`
	SizeClass          SizeClass       `json:"size_class"`
}

// Engine prices quotes off the feed's mid price. It has no side effects.
type Engine struct {
	feed   marketdata.Feed
	logger *zap.Logger
}

func NewEngine(feed marketdata.Feed, logger *zap.Logger) *Engine {
	return &Engine{feed: feed, logger: logger}
}

// PriceQuote prices req. A pair without market data fails with NoMarketData.
func (e *Engine) PriceQuote(ctx context.Context, req PriceRequest) (*PriceResult, error) {
	if err := validatePair(req.BaseCurrency, req.QuoteCurrency); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, errors.Invalid.Explain("amount must be positive")
	}
	if !req.Side.Valid() {
		return nil, errors.Invalid.Explain("side must be buy or sell")
	}
	tier := req.ClientTier
	if tier == "" {
		tier = models.TierRetail
	}
	spreads, ok := baseSpreads[tier]
	if !ok {
		return nil, errors.Invalid.Explain("unknown client tier %q", tier)
	}

	snap, err := e.feed.Snapshot(ctx, models.Symbol(strings.ToUpper(req.BaseCurrency), strings.ToUpper(req.QuoteCurrency)))
	if err != nil {
		return nil, err
	}
	if !snap.Price.IsPositive() {
		return nil, errors.NoMarketData.Explain("no usable price for %s", snap.Symbol)
	}

	class := req.SizeClass
	if class == "" {
		class = Classify(req.BaseCurrency, req.Amount)
	} else if !class.valid() {
		return nil, errors.Invalid.Explain("unknown size class %q", class)
	}

	spread := spreads[class].
		Add(liquidityAdjustment[class]).
		Add(volatilityAdjustment(snap.Volatility24h))

	mid := snap.Price
	var price decimal.Decimal
	if req.Side == models.SideBuy {
		price = mid.Mul(decimal.NewFromInt(1).Add(spread))
	} else {
		price = mid.Mul(decimal.NewFromInt(1).Sub(spread))
	}

	profile := sizeProfiles[class]
	sizes := sizesFor(req.BaseCurrency)
	result := &PriceResult{
		Price:              price,
		Spread:             spread,
		ValiditySeconds:    profile.validity,
		LiquidityRating:    profile.rating,
		PriceImpact:        profile.impact,
		MarketPrice:        mid,
		MarketBid:          snap.BidPrice,
		MarketAsk:          snap.AskPrice,
		PremiumDiscountPct: price.Sub(mid).Div(mid).Mul(hundred),
		MinAmount:          sizes.min,
		MaxAmount:          sizes.max,
		SizeClass:          class,
	}

	metrics.QuotesPriced.WithLabelValues(string(class), string(req.Side)).Inc()
	e.logger.Debug("quote priced",
		zap.String("symbol", snap.Symbol),
		zap.String("size_class", string(class)),
		zap.String("spread", spread.String()),
		zap.String("price", price.String()))
	return result, nil
}

func validatePair(base, quote string) error {
	if base == "" || quote == "" {
		return errors.Invalid.Explain("base and quote currency are required")
	}
	if strings.EqualFold(base, quote) {
		return errors.Invalid.Explain("base and quote currency must differ")
	}
	return nil
}
