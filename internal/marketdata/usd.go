package marketdata

import (
	"context"
	"strings"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/shopspring/decimal"
)

// StaticUSDRates is the fallback used when the feed has no CUR/USD price.
var StaticUSDRates = map[string]decimal.Decimal{
	"USD":  decimal.NewFromInt(1),
	"USDT": decimal.NewFromInt(1),
	"USDC": decimal.NewFromInt(1),
	"EUR":  decimal.RequireFromString("1.08"),
	"GBP":  decimal.RequireFromString("1.27"),
	"BTC":  decimal.NewFromInt(45_000),
	"BCH":  decimal.NewFromInt(400),
	"LTC":  decimal.NewFromInt(80),
	"ETH":  decimal.NewFromInt(3_000),
	"SOL":  decimal.NewFromInt(150),
	"XRP":  decimal.RequireFromString("0.60"),
}

// Converter values amounts in USD.
type Converter struct {
	feed     Feed
	fallback map[string]decimal.Decimal
}

func NewConverter(feed Feed) *Converter {
	return &Converter{feed: feed, fallback: StaticUSDRates}
}

// Rate returns the USD price of one unit of currency. The static table
// stands in only when the feed has no price; a feed that cannot be reached
// fails the lookup.
func (c *Converter) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	if currency == "USD" {
		return decimal.NewFromInt(1), nil
	}
	if c.feed != nil {
		s, err := c.feed.Snapshot(ctx, currency+"/USD")
		switch {
		case err == nil && validSnapshot(s):
			return s.Price, nil
		case err != nil && !errors.Is(err, errors.NoMarketData):
			return decimal.Zero, err
		}
	}
	if rate, ok := c.fallback[currency]; ok {
		return rate, nil
	}
	return decimal.Zero, errors.NoMarketData.Explain("no USD rate for %s", currency)
}

// ToUSD converts amount of currency into USD.
func (c *Converter) ToUSD(ctx context.Context, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	rate, err := c.Rate(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}
