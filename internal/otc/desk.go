package otc

import (
	"context"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/internal/clients"
	"github.com/Aidin1998/otcdesk/internal/compliance"
	"github.com/Aidin1998/otcdesk/internal/messaging"
	"github.com/Aidin1998/otcdesk/internal/pricing"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Deal event types.
const (
	EventDealCreated   = "deal.created"
	EventDealMatched   = "deal.matched"
	EventDealCancelled = "deal.cancelled"
	EventQuotePriced   = "quote.priced"
	EventQuoteAccepted = "quote.accepted"
	EventBlockCreated  = "block_trade.created"
	EventBlockExecuted = "block_trade.executing"
)

// NewDeal is a client's request to trade.
type NewDeal struct {
	ClientID      string            `json:"client_id" binding:"required"`
	Side          models.Side       `json:"side" binding:"required,oneof=buy sell"`
	BaseCurrency  string            `json:"base_currency" binding:"required,currency_code"`
	QuoteCurrency string            `json:"quote_currency" binding:"required,currency_code"`
	Amount        decimal.Decimal   `json:"amount" binding:"gt=0"`
	Price         decimal.Decimal   `json:"price"`
	Visibility    models.Visibility `json:"visibility" binding:"omitempty,oneof=public private institutional"`
	ValidUntil    time.Time         `json:"valid_until"`
}

// QuoteRequest asks the desk for a price.
type QuoteRequest struct {
	ClientID      string          `json:"client_id" binding:"required"`
	BaseCurrency  string          `json:"base_currency" binding:"required,currency_code"`
	QuoteCurrency string          `json:"quote_currency" binding:"required,currency_code"`
	Side          models.Side     `json:"side" binding:"required,oneof=buy sell"`
	Amount        decimal.Decimal `json:"amount" binding:"gt=0"`
	ValidFor      int             `json:"valid_for,omitempty"` // seconds
}

// NewBlockTrade is a pre-matched block between two clients.
type NewBlockTrade struct {
	BuyerID        string                `json:"buyer_id" binding:"required"`
	SellerID       string                `json:"seller_id" binding:"required"`
	BaseCurrency   string                `json:"base_currency" binding:"required,currency_code"`
	QuoteCurrency  string                `json:"quote_currency" binding:"required,currency_code"`
	Amount         decimal.Decimal       `json:"amount" binding:"gt=0"`
	Price          decimal.Decimal       `json:"price"`
	ExecutionStyle models.ExecutionStyle `json:"execution_style" binding:"omitempty,oneof=immediate scheduled twap vwap"`
	WindowStart    *time.Time            `json:"window_start,omitempty"`
	WindowEnd      *time.Time            `json:"window_end,omitempty"`
}

// DeskConfig carries the desk's tunables.
type DeskConfig struct {
	HouseClientID string
	QuoteValidity time.Duration
}

// Desk serves the trading verbs. Every money-moving verb passes the
// compliance gate before anything is written.
type Desk struct {
	repo    *Repository
	clients *clients.Service
	gate    *compliance.Gate
	pricer  *pricing.Engine
	events  *messaging.Emitter
	cfg     DeskConfig
	logger  *zap.Logger
}

func NewDesk(repo *Repository, cs *clients.Service, gate *compliance.Gate, pricer *pricing.Engine, events *messaging.Emitter, cfg DeskConfig, logger *zap.Logger) *Desk {
	if cfg.QuoteValidity <= 0 {
		cfg.QuoteValidity = DefaultQuoteValidity
	}
	return &Desk{repo: repo, clients: cs, gate: gate, pricer: pricer, events: events, cfg: cfg, logger: logger}
}

// Repository exposes the desk's store.
func (d *Desk) Repository() *Repository { return d.repo }

// HouseID is the desk's own counterparty id.
func (d *Desk) HouseID() string { return d.cfg.HouseClientID }

// CreateDeal authorizes the notional and records a pending deal. The deal
// and its compliance record commit together or not at all.
func (d *Desk) CreateDeal(ctx context.Context, req NewDeal) (*models.Deal, error) {
	return d.createDeal(ctx, req, nil)
}

func (d *Desk) createDeal(ctx context.Context, req NewDeal, quoteID *string) (*models.Deal, error) {
	if _, err := d.clients.GetActive(ctx, req.ClientID); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() || !req.Price.IsPositive() {
		return nil, errors.Invalid.Explain("amount and price must be positive")
	}
	check := compliance.TransactionCheck{
		ClientID: req.ClientID,
		Type:     models.TxTrade,
		Amount:   req.Amount.Mul(req.Price),
		Currency: strings.ToUpper(req.QuoteCurrency),
	}
	deal := &models.Deal{
		ClientID:      req.ClientID,
		Side:          req.Side,
		BaseCurrency:  req.BaseCurrency,
		QuoteCurrency: req.QuoteCurrency,
		Amount:        req.Amount,
		Price:         req.Price,
		Visibility:    req.Visibility,
		ValidUntil:    req.ValidUntil,
		QuoteID:       quoteID,
	}
	err := d.repo.Transaction(ctx, func(repo *Repository) error {
		if err := repo.CreateDeal(ctx, deal); err != nil {
			return err
		}
		_, err := d.gate.AuthorizeTx(repo.DB(), check, deal.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	d.events.Emit(ctx, messaging.TopicDeals, deal.ID, EventDealCreated, deal)
	d.logger.Info("deal created",
		zap.String("deal_id", deal.ID),
		zap.String("client_id", deal.ClientID),
		zap.String("symbol", deal.Symbol()),
		zap.String("total_value", deal.TotalValue.String()))
	return deal, nil
}

// GetDeal loads one deal.
func (d *Desk) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	return d.repo.GetDeal(ctx, id)
}

// ListDeals lists deals matching f.
func (d *Desk) ListDeals(ctx context.Context, f DealFilter) ([]models.Deal, error) {
	return d.repo.ListDeals(ctx, f)
}

// MatchDeal fills a pending deal. An empty counterparty or the house id fills
// it from the house pool for the pair, atomically with the match.
func (d *Desk) MatchDeal(ctx context.Context, id, counterpartyID string) (*models.Deal, error) {
	deal, err := d.repo.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkDeal(deal, models.DealMatched); err != nil {
		return nil, err
	}

	var matched *models.Deal
	if counterpartyID == "" || counterpartyID == d.cfg.HouseClientID {
		err = d.repo.Transaction(ctx, func(repo *Repository) error {
			pool, err := repo.FindPool(ctx, deal.BaseCurrency, deal.QuoteCurrency)
			if err != nil {
				return err
			}
			if _, err := repo.DrawLiquidity(ctx, pool.ID, deal.Side, deal.Amount, deal.Price); err != nil {
				return err
			}
			matched, err = repo.MatchDeal(ctx, id, d.cfg.HouseClientID)
			return err
		})
	} else {
		if _, err := d.clients.GetActive(ctx, counterpartyID); err != nil {
			return nil, err
		}
		check := compliance.TransactionCheck{
			ClientID: counterpartyID,
			Type:     models.TxTrade,
			Amount:   deal.TotalValue,
			Currency: deal.QuoteCurrency,
		}
		err = d.repo.Transaction(ctx, func(repo *Repository) error {
			if _, err := d.gate.AuthorizeTx(repo.DB(), check, id); err != nil {
				return err
			}
			var err error
			matched, err = repo.MatchDeal(ctx, id, counterpartyID)
			return err
		})
	}
	if err != nil {
		return nil, err
	}
	d.events.Emit(ctx, messaging.TopicDeals, id, EventDealMatched, matched)
	return matched, nil
}

// CancelDeal cancels a non-terminal deal.
func (d *Desk) CancelDeal(ctx context.Context, id string) (*models.Deal, error) {
	deal, err := d.repo.UpdateDealStatus(ctx, id, models.DealCancelled, nil)
	if err != nil {
		return nil, err
	}
	d.events.Emit(ctx, messaging.TopicDeals, id, EventDealCancelled, deal)
	return deal, nil
}

// RequestQuote records a pending quote for the client.
func (d *Desk) RequestQuote(ctx context.Context, req QuoteRequest) (*models.Quote, error) {
	if _, err := d.clients.GetActive(ctx, req.ClientID); err != nil {
		return nil, err
	}
	validFor := d.cfg.QuoteValidity
	if req.ValidFor > 0 {
		validFor = time.Duration(req.ValidFor) * time.Second
	}
	q := &models.Quote{
		ClientID:      req.ClientID,
		BaseCurrency:  req.BaseCurrency,
		QuoteCurrency: req.QuoteCurrency,
		Side:          req.Side,
		Amount:        req.Amount,
	}
	if err := d.repo.CreateQuote(ctx, q, validFor); err != nil {
		return nil, err
	}
	return q, nil
}

// GetQuote loads one quote.
func (d *Desk) GetQuote(ctx context.Context, id string) (*models.Quote, error) {
	return d.repo.GetQuote(ctx, id)
}

// PriceQuote prices a pending quote at the client's tier.
func (d *Desk) PriceQuote(ctx context.Context, id string) (*models.Quote, *pricing.PriceResult, error) {
	q, err := d.repo.GetQuote(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	client, err := d.clients.Get(ctx, q.ClientID)
	if err != nil {
		return nil, nil, err
	}
	result, err := d.pricer.PriceQuote(ctx, pricing.PriceRequest{
		BaseCurrency:  q.BaseCurrency,
		QuoteCurrency: q.QuoteCurrency,
		Amount:        q.Amount,
		Side:          q.Side,
		ClientTier:    client.PricingTier(),
	})
	if err != nil {
		return nil, nil, err
	}
	priced, err := d.repo.UpdateQuotePrice(ctx, id, result.Price, result.Spread, result.MarketPrice,
		time.Duration(result.ValiditySeconds)*time.Second)
	if err != nil {
		return nil, nil, err
	}
	d.events.Emit(ctx, messaging.TopicDeals, id, EventQuotePriced, priced)
	return priced, result, nil
}

// AcceptQuote accepts a quoted price. With createDeal the accepted quote
// becomes a pending deal at the quoted price.
func (d *Desk) AcceptQuote(ctx context.Context, id string, createDeal bool) (*models.Quote, *models.Deal, error) {
	q, err := d.repo.AcceptQuote(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	d.events.Emit(ctx, messaging.TopicDeals, id, EventQuoteAccepted, q)
	if !createDeal {
		return q, nil, nil
	}
	deal, err := d.CreateDealFromQuote(ctx, q)
	if err != nil {
		return q, nil, err
	}
	return q, deal, nil
}

// CreateDealFromQuote opens a deal at an accepted quote's price.
func (d *Desk) CreateDealFromQuote(ctx context.Context, q *models.Quote) (*models.Deal, error) {
	if q.Status != models.QuoteAccepted || !q.Price.Valid {
		return nil, errors.InvalidStateTransition.Explain("quote %s is not an accepted priced quote", q.ID)
	}
	qid := q.ID
	return d.createDeal(ctx, NewDeal{
		ClientID:      q.ClientID,
		Side:          q.Side,
		BaseCurrency:  q.BaseCurrency,
		QuoteCurrency: q.QuoteCurrency,
		Amount:        q.Amount,
		Price:         q.Price.Decimal,
		Visibility:    models.VisibilityPrivate,
	}, &qid)
}

// CancelQuote withdraws an open quote.
func (d *Desk) CancelQuote(ctx context.Context, id string) (*models.Quote, error) {
	return d.repo.CancelQuote(ctx, id)
}

// ExpireQuotes sweeps stale quotes.
func (d *Desk) ExpireQuotes(ctx context.Context) (int64, error) {
	return d.repo.ExpireQuotes(ctx, time.Now().UTC())
}

// RunQuoteSweeper expires stale quotes every interval until ctx is done.
func (d *Desk) RunQuoteSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.ExpireQuotes(ctx); err != nil {
				d.logger.Error("quote sweep failed", zap.Error(err))
			}
		}
	}
}

// CreateBlockTrade authorizes both parties and records the block.
func (d *Desk) CreateBlockTrade(ctx context.Context, req NewBlockTrade) (*models.BlockTrade, error) {
	for _, id := range []string{req.BuyerID, req.SellerID} {
		if _, err := d.clients.GetActive(ctx, id); err != nil {
			return nil, err
		}
	}
	if !req.Amount.IsPositive() || !req.Price.IsPositive() {
		return nil, errors.Invalid.Explain("amount and price must be positive")
	}
	notional := req.Amount.Mul(req.Price)
	checks := []compliance.TransactionCheck{
		{ClientID: req.BuyerID, Type: models.TxTrade, Amount: notional, Currency: strings.ToUpper(req.QuoteCurrency)},
		{ClientID: req.SellerID, Type: models.TxTrade, Amount: notional, Currency: strings.ToUpper(req.QuoteCurrency)},
	}

	b := &models.BlockTrade{
		BuyerID:        req.BuyerID,
		SellerID:       req.SellerID,
		BaseCurrency:   req.BaseCurrency,
		QuoteCurrency:  req.QuoteCurrency,
		Amount:         req.Amount,
		Price:          req.Price,
		ExecutionStyle: req.ExecutionStyle,
		WindowStart:    req.WindowStart,
		WindowEnd:      req.WindowEnd,
	}
	err := d.repo.Transaction(ctx, func(repo *Repository) error {
		if err := repo.CreateBlockTrade(ctx, b); err != nil {
			return err
		}
		for _, check := range checks {
			if _, err := d.gate.AuthorizeTx(repo.DB(), check, b.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.events.Emit(ctx, messaging.TopicDeals, b.ID, EventBlockCreated, b)
	return b, nil
}

// GetBlockTrade loads one block trade.
func (d *Desk) GetBlockTrade(ctx context.Context, id string) (*models.BlockTrade, error) {
	return d.repo.GetBlockTrade(ctx, id)
}

// ExecuteBlockTrade starts executing a pending block.
func (d *Desk) ExecuteBlockTrade(ctx context.Context, id string) (*models.BlockTrade, error) {
	b, err := d.repo.ExecuteBlockTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	d.events.Emit(ctx, messaging.TopicDeals, id, EventBlockExecuted, b)
	return b, nil
}

// ExecutionStrategy recommends how to work a large order.
func (d *Desk) ExecutionStrategy(ctx context.Context, req pricing.StrategyRequest) (*pricing.Strategy, error) {
	return d.pricer.ExecutionStrategy(ctx, req)
}
