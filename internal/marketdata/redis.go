package marketdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const redisKeyPrefix = "otcdesk:md:"

// RedisFeed reads snapshots that the market data publisher writes as JSON
// under otcdesk:md:<BASE/QUOTE>.
type RedisFeed struct {
	client redis.UniversalClient
	logger *zap.Logger
}

func NewRedisFeed(client redis.UniversalClient, logger *zap.Logger) *RedisFeed {
	return &RedisFeed{client: client, logger: logger}
}

func (f *RedisFeed) Snapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	symbol = normalize(symbol)
	data, err := f.client.Get(ctx, redisKeyPrefix+symbol).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.NoMarketData.Explain("no market data for %s", symbol)
		}
		f.logger.Error("market data read failed", zap.String("symbol", symbol), zap.Error(err))
		return nil, errors.MarketDataUnavailable.Explain("market data unavailable for %s", symbol).Wrap(err)
	}
	return decodeSnapshot(symbol, data)
}

// Publish stores a snapshot. Used by the feed publisher and by tooling.
func (f *RedisFeed) Publish(ctx context.Context, s *Snapshot) error {
	s.Symbol = normalize(s.Symbol)
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return f.client.Set(ctx, redisKeyPrefix+s.Symbol, data, 0).Err()
}

func decodeSnapshot(symbol string, data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.NoMarketData.Explain("malformed market data for %s", symbol).Wrap(err)
	}
	if s.Price.IsZero() && s.BidPrice.IsPositive() && s.AskPrice.IsPositive() {
		s.Price = s.BidPrice.Add(s.AskPrice).Div(decimal.NewFromInt(2))
	}
	if !validSnapshot(&s) {
		return nil, errors.NoMarketData.Explain("unusable price for %s", symbol)
	}
	s.Symbol = symbol
	return &s, nil
}
