package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of a trade from the initiating client's perspective.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is buy or sell.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// DealStatus is the deal lifecycle: pending -> matched -> executing -> completed | cancelled.
type DealStatus string

const (
	DealPending   DealStatus = "pending"
	DealMatched   DealStatus = "matched"
	DealExecuting DealStatus = "executing"
	DealCompleted DealStatus = "completed"
	DealCancelled DealStatus = "cancelled"
)

// Visibility of a deal on the desk.
type Visibility string

const (
	VisibilityPublic        Visibility = "public"
	VisibilityPrivate       Visibility = "private"
	VisibilityInstitutional Visibility = "institutional"
)

// Deal is a negotiated OTC trade intent. TotalValue is fixed at creation;
// a renegotiated price needs a new Deal.
type Deal struct {
	ID             string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ClientID       string          `json:"client_id" gorm:"type:varchar(64);index;not null"`
	CounterpartyID *string         `json:"counterparty_id,omitempty" gorm:"type:varchar(64);index"`
	Side           Side            `json:"side" gorm:"type:varchar(4);not null"`
	BaseCurrency   string          `json:"base_currency" gorm:"type:varchar(10);index:idx_deal_pair;not null"`
	QuoteCurrency  string          `json:"quote_currency" gorm:"type:varchar(10);index:idx_deal_pair;not null"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(36,18);not null"`
	Price          decimal.Decimal `json:"price" gorm:"type:decimal(36,18);not null"`
	TotalValue     decimal.Decimal `json:"total_value" gorm:"type:decimal(36,18);not null"`
	Visibility     Visibility      `json:"visibility" gorm:"type:varchar(20);not null"`
	ValidUntil     time.Time       `json:"valid_until"`
	Status         DealStatus      `json:"status" gorm:"type:varchar(20);index;not null"`
	QuoteID        *string         `json:"quote_id,omitempty" gorm:"type:varchar(64)"`
	ExecutedAt     *time.Time      `json:"executed_at,omitempty"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
	Version        int64           `json:"version" gorm:"default:1;not null"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Symbol returns the BASE/QUOTE pair symbol.
func (d *Deal) Symbol() string { return Symbol(d.BaseCurrency, d.QuoteCurrency) }

// BuyerID and SellerID resolve the two legs. The counterparty leg is empty
// until the deal is matched.
func (d *Deal) BuyerID() string {
	if d.Side == SideBuy {
		return d.ClientID
	}
	if d.CounterpartyID != nil {
		return *d.CounterpartyID
	}
	return ""
}

func (d *Deal) SellerID() string {
	if d.Side == SideSell {
		return d.ClientID
	}
	if d.CounterpartyID != nil {
		return *d.CounterpartyID
	}
	return ""
}

// Symbol builds the canonical pair symbol used by the price feed.
func Symbol(base, quote string) string { return base + "/" + quote }

// QuoteStatus is the quote lifecycle: pending -> quoted -> accepted | expired | cancelled.
type QuoteStatus string

const (
	QuotePending   QuoteStatus = "pending"
	QuoteQuoted    QuoteStatus = "quoted"
	QuoteAccepted  QuoteStatus = "accepted"
	QuoteExpired   QuoteStatus = "expired"
	QuoteCancelled QuoteStatus = "cancelled"
)

// Quote is an ephemeral price request. It never turns into a Deal by itself.
type Quote struct {
	ID            string              `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ClientID      string              `json:"client_id" gorm:"type:varchar(64);index;not null"`
	BaseCurrency  string              `json:"base_currency" gorm:"type:varchar(10);not null"`
	QuoteCurrency string              `json:"quote_currency" gorm:"type:varchar(10);not null"`
	Side          Side                `json:"side" gorm:"type:varchar(4);not null"`
	Amount        decimal.Decimal     `json:"amount" gorm:"type:decimal(36,18);not null"`
	Price         decimal.NullDecimal `json:"price" gorm:"type:decimal(36,18)"`
	Spread        decimal.NullDecimal `json:"spread" gorm:"type:decimal(36,18)"`
	MarketPrice   decimal.NullDecimal `json:"market_price" gorm:"type:decimal(36,18)"`
	ValidFor      int                 `json:"valid_for"` // seconds
	ExpiresAt     time.Time           `json:"expires_at" gorm:"index"`
	Status        QuoteStatus         `json:"status" gorm:"type:varchar(20);index;not null"`
	Version       int64               `json:"version" gorm:"default:1;not null"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Expired reports whether the quote's validity window has passed at now.
func (q *Quote) Expired(now time.Time) bool { return !now.Before(q.ExpiresAt) }

// ExecutionStyle of a block trade.
type ExecutionStyle string

const (
	ExecutionImmediate ExecutionStyle = "immediate"
	ExecutionScheduled ExecutionStyle = "scheduled"
	ExecutionTWAP      ExecutionStyle = "twap"
	ExecutionVWAP      ExecutionStyle = "vwap"
)

// BlockTradeStatus is the block trade lifecycle: pending -> executing -> completed | failed.
type BlockTradeStatus string

const (
	BlockPending   BlockTradeStatus = "pending"
	BlockExecuting BlockTradeStatus = "executing"
	BlockCompleted BlockTradeStatus = "completed"
	BlockFailed    BlockTradeStatus = "failed"
)

// BlockTrade is a large pre-matched trade with both sides known upfront.
type BlockTrade struct {
	ID             string           `json:"id" gorm:"primaryKey;type:varchar(64)"`
	BuyerID        string           `json:"buyer_id" gorm:"type:varchar(64);index;not null"`
	SellerID       string           `json:"seller_id" gorm:"type:varchar(64);index;not null"`
	BaseCurrency   string           `json:"base_currency" gorm:"type:varchar(10);not null"`
	QuoteCurrency  string           `json:"quote_currency" gorm:"type:varchar(10);not null"`
	Amount         decimal.Decimal  `json:"amount" gorm:"type:decimal(36,18);not null"`
	Price          decimal.Decimal  `json:"price" gorm:"type:decimal(36,18);not null"`
	TotalValue     decimal.Decimal  `json:"total_value" gorm:"type:decimal(36,18);not null"`
	ExecutionStyle ExecutionStyle   `json:"execution_style" gorm:"type:varchar(20);not null"`
	WindowStart    *time.Time       `json:"window_start,omitempty"`
	WindowEnd      *time.Time       `json:"window_end,omitempty"`
	Status         BlockTradeStatus `json:"status" gorm:"type:varchar(20);index;not null"`
	ExecutedAt     *time.Time       `json:"executed_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Version        int64            `json:"version" gorm:"default:1;not null"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// LiquidityPool is a market-making inventory position for one pair.
type LiquidityPool struct {
	ID                string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	BaseCurrency      string          `json:"base_currency" gorm:"type:varchar(10);uniqueIndex:idx_pool_pair;not null"`
	QuoteCurrency     string          `json:"quote_currency" gorm:"type:varchar(10);uniqueIndex:idx_pool_pair;not null"`
	BaseAmount        decimal.Decimal `json:"base_amount" gorm:"type:decimal(36,18);not null"`
	QuoteAmount       decimal.Decimal `json:"quote_amount" gorm:"type:decimal(36,18);not null"`
	BaseCapacity      decimal.Decimal `json:"base_capacity" gorm:"type:decimal(36,18);not null"`
	BidSpread         decimal.Decimal `json:"bid_spread" gorm:"type:decimal(36,18);not null"`
	AskSpread         decimal.Decimal `json:"ask_spread" gorm:"type:decimal(36,18);not null"`
	MinTradeSize      decimal.Decimal `json:"min_trade_size" gorm:"type:decimal(36,18);not null"`
	MaxTradeSize      decimal.Decimal `json:"max_trade_size" gorm:"type:decimal(36,18);not null"`
	Utilization       decimal.Decimal `json:"utilization" gorm:"type:decimal(36,18);not null"`
	Volume24h         decimal.Decimal `json:"volume_24h" gorm:"column:volume_24h;type:decimal(36,18);not null"`
	VolumeWindowStart time.Time       `json:"volume_window_start"`
	Active            bool            `json:"active"`
	Version           int64           `json:"version" gorm:"default:1;not null"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
