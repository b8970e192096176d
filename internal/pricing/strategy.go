package pricing

import (
	"context"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
)

// Style is how a large order is worked.
type Style string

const (
	StyleImmediate Style = "immediate"
	StyleTWAP      Style = "twap"
	StyleVWAP      Style = "vwap"
	StyleIceberg   Style = "iceberg"
)

// StrategyRequest asks how to execute amount units of base.
type StrategyRequest struct {
	BaseCurrency  string          `json:"base_currency" binding:"required,currency_code"`
	QuoteCurrency string          `json:"quote_currency" binding:"required,currency_code"`
	Amount        decimal.Decimal `json:"amount" binding:"gt=0"`
	Side          models.Side     `json:"side" binding:"omitempty,oneof=buy sell"`
	Style         Style           `json:"style" binding:"required"`
}

// Strategy is the recommended execution plan.
type Strategy struct {
	Strategy               Style           `json:"strategy"`
	EstimatedSlippagePct   decimal.Decimal `json:"estimated_slippage_pct"`
	ExecutionPeriodMinutes int             `json:"execution_period_minutes"`
	ChunkSize              decimal.Decimal `json:"chunk_size"`
	ChunkCount             int             `json:"chunk_count"`
	Notional               decimal.Decimal `json:"notional"`
	EstimatedCompletion    time.Time       `json:"estimated_completion"`
}

// curve scales the execution period with notional: ceil(notional/per) slices
// of slice minutes, clamped to [min, max].
type curve struct {
	per      decimal.Decimal
	slice    int
	min, max int
}

func (c curve) minutes(notional decimal.Decimal) int {
	slices := notional.Div(c.per).Ceil()
	// Clamp in decimal so huge notionals cannot overflow the multiplication.
	if slices.GreaterThanOrEqual(decimal.NewFromInt(int64(c.max / c.slice))) {
		return c.max
	}
	n := int(slices.IntPart()) * c.slice
	if n < c.min {
		return c.min
	}
	if n > c.max {
		return c.max
	}
	return n
}

var (
	twapCurve    = curve{per: decimal.NewFromInt(50_000), slice: 15, min: 15, max: 480}
	vwapCurve    = curve{per: decimal.NewFromInt(50_000), slice: 10, min: 10, max: 360}
	icebergCurve = curve{per: decimal.NewFromInt(100_000), slice: 5, min: 5, max: 240}

	// an iceberg shows 5% of the order at a time
	icebergVisible = d("0.05")
)

// ExecutionStrategy plans the execution of req at the current mid price.
func (e *Engine) ExecutionStrategy(ctx context.Context, req StrategyRequest) (*Strategy, error) {
	if err := validatePair(req.BaseCurrency, req.QuoteCurrency); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, errors.Invalid.Explain("amount must be positive")
	}

	var (
		minutes, chunks int
		slippage        decimal.Decimal
	)
	style := Style(strings.ToLower(string(req.Style)))
	switch style {
	case StyleImmediate, StyleTWAP, StyleVWAP, StyleIceberg:
	default:
		return nil, errors.Invalid.Explain("unknown execution style %q", req.Style)
	}

	snap, err := e.feed.Snapshot(ctx, models.Symbol(strings.ToUpper(req.BaseCurrency), strings.ToUpper(req.QuoteCurrency)))
	if err != nil {
		return nil, err
	}
	notional := req.Amount.Mul(snap.Price)

	switch style {
	case StyleImmediate:
		minutes, chunks, slippage = 1, 1, d("0.0050")
	case StyleTWAP:
		minutes = twapCurve.minutes(notional)
		chunks, slippage = minutes/twapCurve.slice, d("0.0015")
	case StyleVWAP:
		minutes = vwapCurve.minutes(notional)
		chunks, slippage = minutes/vwapCurve.slice, d("0.0010")
	case StyleIceberg:
		minutes = icebergCurve.minutes(notional)
		chunks = int(decimal.NewFromInt(1).Div(icebergVisible).Ceil().IntPart())
		slippage = d("0.0020")
	}

	return &Strategy{
		Strategy:               style,
		EstimatedSlippagePct:   slippage,
		ExecutionPeriodMinutes: minutes,
		ChunkSize:              req.Amount.Div(decimal.NewFromInt(int64(chunks))),
		ChunkCount:             chunks,
		Notional:               notional,
		EstimatedCompletion:    time.Now().UTC().Add(time.Duration(minutes) * time.Minute),
	}, nil
}
