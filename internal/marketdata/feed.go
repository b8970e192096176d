// Package marketdata is the desk's boundary to the price feed.
package marketdata

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/shopspring/decimal"
)

// Snapshot is the latest top of book of a BASE/QUOTE symbol. Price is the
// mid; BidPrice and AskPrice are zero when the publisher only sends a mid.
// Volatility24h is a percentage, 3.5 means 3.5%.
type Snapshot struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	BidPrice      decimal.Decimal `json:"bid_price"`
	AskPrice      decimal.Decimal `json:"ask_price"`
	Volatility24h decimal.Decimal `json:"volatility_24h"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Spread is ask minus bid, zero unless both sides are quoted.
func (s *Snapshot) Spread() decimal.Decimal {
	if !s.BidPrice.IsPositive() || !s.AskPrice.IsPositive() {
		return decimal.Zero
	}
	return s.AskPrice.Sub(s.BidPrice)
}

// Feed returns market snapshots. A symbol without data yields
// errors.NoMarketData; a feed that cannot be reached yields
// errors.MarketDataUnavailable.
type Feed interface {
	Snapshot(ctx context.Context, symbol string) (*Snapshot, error)
}

// StaticFeed is an in-memory feed fed by Set. Used in development and tests.
type StaticFeed struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{snaps: make(map[string]Snapshot)}
}

// Set publishes a price for symbol.
func (f *StaticFeed) Set(symbol string, price, volatility decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	symbol = normalize(symbol)
	f.snaps[symbol] = Snapshot{Symbol: symbol, Price: price, Volatility24h: volatility, UpdatedAt: time.Now().UTC()}
}

// SetBook publishes a top of book for symbol; the mid is derived from it.
func (f *StaticFeed) SetBook(symbol string, bid, ask, volatility decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	symbol = normalize(symbol)
	f.snaps[symbol] = Snapshot{
		Symbol:        symbol,
		Price:         bid.Add(ask).Div(decimal.NewFromInt(2)),
		BidPrice:      bid,
		AskPrice:      ask,
		Volatility24h: volatility,
		UpdatedAt:     time.Now().UTC(),
	}
}

// Delete removes a symbol so that later lookups fail.
func (f *StaticFeed) Delete(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snaps, normalize(symbol))
}

func (f *StaticFeed) Snapshot(_ context.Context, symbol string) (*Snapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.snaps[normalize(symbol)]
	if !ok {
		return nil, errors.NoMarketData.Explain("no market data for %s", symbol)
	}
	return &s, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func validSnapshot(s *Snapshot) bool {
	if s == nil || !s.Price.IsPositive() {
		return false
	}
	if s.BidPrice.IsNegative() || s.AskPrice.IsNegative() {
		return false
	}
	return !(s.BidPrice.IsPositive() && s.AskPrice.IsPositive() && s.BidPrice.GreaterThan(s.AskPrice))
}
