// Package rails submits transfers to the external payment rails: crypto
// custody, bank wire, SWIFT and Fedwire.
package rails

import (
	"context"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/metrics"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Transfer is one outbound movement. Reference is the idempotency key:
// submitting the same reference twice yields the same receipt.
type Transfer struct {
	Method      models.SettlementMethod `json:"method"`
	Reference   string                  `json:"reference"`
	Amount      decimal.Decimal         `json:"amount"`
	Currency    string                  `json:"currency"`
	Destination string                  `json:"destination"`
	Tag         string                  `json:"tag,omitempty"`
	Memo        string                  `json:"memo,omitempty"`
}

// Receipt acknowledges an accepted transfer.
type Receipt struct {
	ReferenceID         string    `json:"reference_id"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// Gateway accepts transfers. A refusal is reported as errors.RailRejected.
type Gateway interface {
	Submit(ctx context.Context, t Transfer) (*Receipt, error)
}

// Router dispatches transfers to the adapter registered for their method.
type Router struct {
	adapters map[models.SettlementMethod]Gateway
	logger   *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{adapters: make(map[models.SettlementMethod]Gateway), logger: logger}
}

// Register installs gw for the given methods.
func (r *Router) Register(gw Gateway, methods ...models.SettlementMethod) *Router {
	for _, m := range methods {
		r.adapters[m] = gw
	}
	return r
}

func (r *Router) Submit(ctx context.Context, t Transfer) (*Receipt, error) {
	gw, ok := r.adapters[t.Method]
	if !ok {
		return nil, errors.UnsupportedRail.Explain("no rail adapter for method %q", t.Method)
	}
	if t.Reference == "" {
		return nil, errors.Invalid.Explain("transfer reference is required")
	}

	start := time.Now()
	receipt, err := gw.Submit(ctx, t)
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	metrics.RailLatency.WithLabelValues(string(t.Method), outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		r.logger.Warn("rail submission failed",
			zap.String("method", string(t.Method)),
			zap.String("reference", t.Reference),
			zap.Error(err))
		if errors.KindOf(err) == "" {
			return nil, errors.RailRejected.Explain("%s rail failed for %s", t.Method, t.Reference).Wrap(err)
		}
		return nil, err
	}
	r.logger.Info("rail submission accepted",
		zap.String("method", string(t.Method)),
		zap.String("reference", t.Reference),
		zap.String("rail_reference", receipt.ReferenceID))
	return receipt, nil
}
