package rails

import (
	"context"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/shopspring/decimal"
)

// CustodyProvider broadcasts on-chain transfers from the desk's hot wallet.
type CustodyProvider interface {
	Send(ctx context.Context, currency, address, tag string, amount decimal.Decimal, reference string) (txID string, err error)
}

// Expected time to finality per chain.
var finality = map[string]time.Duration{
	"BTC":  60 * time.Minute,
	"BCH":  60 * time.Minute,
	"LTC":  30 * time.Minute,
	"ETH":  3 * time.Minute,
	"USDT": 3 * time.Minute,
	"USDC": 3 * time.Minute,
	"SOL":  time.Minute,
	"XRP":  10 * time.Second,
}

// CryptoAdapter submits crypto transfers through a custody provider.
type CryptoAdapter struct {
	provider CustodyProvider
	now      func() time.Time
}

func NewCryptoAdapter(provider CustodyProvider) *CryptoAdapter {
	return &CryptoAdapter{provider: provider, now: time.Now}
}

func (c *CryptoAdapter) Submit(ctx context.Context, t Transfer) (*Receipt, error) {
	if !t.Amount.IsPositive() {
		return nil, errors.Invalid.Explain("transfer amount must be positive")
	}
	if t.Destination == "" {
		return nil, errors.Invalid.Explain("crypto transfer requires a destination address")
	}
	cur := strings.ToUpper(t.Currency)
	txID, err := c.provider.Send(ctx, cur, t.Destination, t.Tag, t.Amount, t.Reference)
	if err != nil {
		if errors.KindOf(err) != "" {
			return nil, err
		}
		return nil, errors.RailRejected.Explain("custody provider refused %s", t.Reference).Wrap(err)
	}
	eta, ok := finality[cur]
	if !ok {
		eta = 30 * time.Minute
	}
	return &Receipt{ReferenceID: txID, EstimatedCompletion: c.now().UTC().Add(eta)}, nil
}
