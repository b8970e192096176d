// Package otc keeps the desk's deals, quotes, block trades and liquidity
// pools, and exposes the trading verbs the API serves.
package otc

import (
	"context"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/ids"
	"github.com/Aidin1998/otcdesk/pkg/metrics"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultQuoteValidity applies when a quote is created without one.
const DefaultQuoteValidity = 300 * time.Second

// DealFilter narrows ListDeals. Zero fields do not filter.
type DealFilter struct {
	ClientID   string              `form:"client_id"`
	Status     models.DealStatus   `form:"status"`
	Asset      string              `form:"asset"`
	MinAmount  decimal.NullDecimal `form:"-"`
	MaxAmount  decimal.NullDecimal `form:"-"`
	Visibility models.Visibility   `form:"visibility"`
	Limit      int                 `form:"limit"`
	Offset     int                 `form:"offset"`
}

// Repository implements deal, quote, block trade and pool persistence on gorm.
// Every write is a conditional update on version.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	cp := *r
	cp.db = tx
	return &cp
}

// Transaction runs fn with a repository bound to one database transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(repo *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

// DB exposes the underlying handle so collaborators can join the transaction.
func (r *Repository) DB() *gorm.DB { return r.db }

// CreateDeal inserts a pending deal. TotalValue is fixed here.
func (r *Repository) CreateDeal(ctx context.Context, d *models.Deal) error {
	if !d.Side.Valid() {
		return errors.Invalid.Explain("side must be buy or sell")
	}
	if !d.Amount.IsPositive() || !d.Price.IsPositive() {
		return errors.Invalid.Explain("amount and price must be positive")
	}
	d.BaseCurrency = strings.ToUpper(d.BaseCurrency)
	d.QuoteCurrency = strings.ToUpper(d.QuoteCurrency)
	if d.BaseCurrency == "" || d.QuoteCurrency == "" || d.BaseCurrency == d.QuoteCurrency {
		return errors.Invalid.Explain("deal needs two distinct currencies")
	}
	switch d.Visibility {
	case "":
		d.Visibility = models.VisibilityPublic
	case models.VisibilityPublic, models.VisibilityPrivate, models.VisibilityInstitutional:
	default:
		return errors.Invalid.Explain("unknown visibility %q", d.Visibility)
	}
	now := r.now()
	if d.ID == "" {
		d.ID = ids.Deal()
	}
	if d.ValidUntil.IsZero() {
		d.ValidUntil = now.Add(24 * time.Hour)
	}
	d.TotalValue = d.Amount.Mul(d.Price)
	d.Status = models.DealPending
	d.CounterpartyID = nil
	d.Version = 1

	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		if database.IsDuplicate(err) {
			return errors.Conflict.Explain("deal %s already exists", d.ID)
		}
		r.logger.Error("failed to create deal", zap.Error(err), zap.String("deal_id", d.ID))
		return err
	}
	metrics.DealTransitions.WithLabelValues(string(models.DealPending)).Inc()
	r.logger.Debug("deal created", zap.String("deal_id", d.ID), zap.String("total_value", d.TotalValue.String()))
	return nil
}

// GetDeal loads a deal by id.
func (r *Repository) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	var d models.Deal
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("deal %s not found", id)
		}
		return nil, err
	}
	return &d, nil
}

// ListDeals returns deals matching f, newest first.
func (r *Repository) ListDeals(ctx context.Context, f DealFilter) ([]models.Deal, error) {
	q := r.db.WithContext(ctx).Model(&models.Deal{})
	if f.ClientID != "" {
		q = q.Where("(client_id = ? OR counterparty_id = ?)", f.ClientID, f.ClientID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Asset != "" {
		asset := strings.ToUpper(f.Asset)
		q = q.Where("(base_currency = ? OR quote_currency = ?)", asset, asset)
	}
	if f.MinAmount.Valid {
		q = q.Where("amount >= ?", f.MinAmount.Decimal)
	}
	if f.MaxAmount.Valid {
		q = q.Where("amount <= ?", f.MaxAmount.Decimal)
	}
	if f.Visibility != "" {
		q = q.Where("visibility = ?", f.Visibility)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var deals []models.Deal
	if err := q.Order("created_at DESC").Order("id DESC").Find(&deals).Error; err != nil {
		return nil, err
	}
	return deals, nil
}

// MatchDeal assigns the counterparty to a pending deal.
func (r *Repository) MatchDeal(ctx context.Context, id, counterpartyID string) (*models.Deal, error) {
	if counterpartyID == "" {
		return nil, errors.Invalid.Explain("counterparty is required")
	}
	return r.UpdateDealStatus(ctx, id, models.DealMatched, &counterpartyID)
}

// UpdateDealStatus moves a deal along its lifecycle. Executing stamps
// ExecutedAt and completed stamps SettledAt.
func (r *Repository) UpdateDealStatus(ctx context.Context, id string, to models.DealStatus, counterpartyID *string) (*models.Deal, error) {
	d, err := r.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkDeal(d, to); err != nil {
		return nil, err
	}
	now := r.now()
	updates := map[string]any{"status": to}
	switch to {
	case models.DealMatched:
		if counterpartyID == nil || *counterpartyID == "" {
			return nil, errors.Invalid.Explain("matching deal %s needs a counterparty", id)
		}
		if *counterpartyID == d.ClientID {
			return nil, errors.Invalid.Explain("client %s cannot match its own deal", d.ClientID)
		}
		updates["counterparty_id"] = *counterpartyID
	case models.DealExecuting:
		updates["executed_at"] = now
	case models.DealCompleted:
		updates["settled_at"] = now
	}
	if err := database.UpdateVersioned(r.db.WithContext(ctx), &models.Deal{}, d.Version, updates, "id = ?", id); err != nil {
		return nil, err
	}

	metrics.DealTransitions.WithLabelValues(string(to)).Inc()
	r.logger.Info("deal status changed",
		zap.String("deal_id", id),
		zap.String("from", string(d.Status)),
		zap.String("to", string(to)))
	return r.GetDeal(ctx, id)
}

// CreateQuote inserts a pending quote expiring validFor from now.
func (r *Repository) CreateQuote(ctx context.Context, q *models.Quote, validFor time.Duration) error {
	if !q.Side.Valid() {
		return errors.Invalid.Explain("side must be buy or sell")
	}
	if !q.Amount.IsPositive() {
		return errors.Invalid.Explain("amount must be positive")
	}
	if validFor <= 0 {
		validFor = DefaultQuoteValidity
	}
	q.BaseCurrency = strings.ToUpper(q.BaseCurrency)
	q.QuoteCurrency = strings.ToUpper(q.QuoteCurrency)
	if q.ID == "" {
		q.ID = ids.Quote()
	}
	q.ValidFor = int(validFor / time.Second)
	q.ExpiresAt = r.now().Add(validFor)
	q.Status = models.QuotePending
	q.Version = 1
	return r.db.WithContext(ctx).Create(q).Error
}

// GetQuote loads a quote by id.
func (r *Repository) GetQuote(ctx context.Context, id string) (*models.Quote, error) {
	var q models.Quote
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&q).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("quote %s not found", id)
		}
		return nil, err
	}
	return &q, nil
}

// UpdateQuotePrice prices a pending quote. A validity shorter than the
// remaining window pulls the expiry in.
func (r *Repository) UpdateQuotePrice(ctx context.Context, id string, price, spread, market decimal.Decimal, validFor time.Duration) (*models.Quote, error) {
	q, err := r.GetQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Status != models.QuotePending {
		return nil, errors.InvalidStateTransition.Explain("quote %s is %s, only pending quotes can be priced", id, q.Status)
	}
	now := r.now()
	if q.Expired(now) {
		if err := r.expire(ctx, q); err != nil {
			return nil, err
		}
		return nil, errors.InvalidStateTransition.Explain("quote %s expired at %s", id, q.ExpiresAt.Format(time.RFC3339))
	}
	expires := q.ExpiresAt
	if validFor > 0 && now.Add(validFor).Before(expires) {
		expires = now.Add(validFor)
	}
	updates := map[string]any{
		"status":       models.QuoteQuoted,
		"price":        decimal.NewNullDecimal(price),
		"spread":       decimal.NewNullDecimal(spread),
		"market_price": decimal.NewNullDecimal(market),
		"expires_at":   expires,
	}
	if err := database.UpdateVersioned(r.db.WithContext(ctx), &models.Quote{}, q.Version, updates, "id = ?", id); err != nil {
		return nil, err
	}
	return r.GetQuote(ctx, id)
}

// AcceptQuote accepts a quoted quote. A quote past its expiry is marked
// expired instead and the accept fails.
func (r *Repository) AcceptQuote(ctx context.Context, id string) (*models.Quote, error) {
	q, err := r.GetQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkQuote(q, models.QuoteAccepted); err != nil {
		return nil, err
	}
	if q.Expired(r.now()) {
		if err := r.expire(ctx, q); err != nil {
			return nil, err
		}
		return nil, errors.InvalidStateTransition.Explain("quote %s expired at %s", id, q.ExpiresAt.Format(time.RFC3339))
	}
	if err := database.UpdateVersioned(r.db.WithContext(ctx), &models.Quote{}, q.Version,
		map[string]any{"status": models.QuoteAccepted}, "id = ?", id); err != nil {
		return nil, err
	}
	return r.GetQuote(ctx, id)
}

// CancelQuote cancels a pending or quoted quote.
func (r *Repository) CancelQuote(ctx context.Context, id string) (*models.Quote, error) {
	q, err := r.GetQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkQuote(q, models.QuoteCancelled); err != nil {
		return nil, err
	}
	if err := database.UpdateVersioned(r.db.WithContext(ctx), &models.Quote{}, q.Version,
		map[string]any{"status": models.QuoteCancelled}, "id = ?", id); err != nil {
		return nil, err
	}
	return r.GetQuote(ctx, id)
}

// ExpireQuotes marks every open quote whose expiry is at or before now as
// expired and returns how many changed.
func (r *Repository) ExpireQuotes(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Quote{}).
		Where("status IN ? AND expires_at <= ?", []models.QuoteStatus{models.QuotePending, models.QuoteQuoted}, now.UTC()).
		Updates(map[string]any{
			"status":     models.QuoteExpired,
			"version":    gorm.Expr("version + 1"),
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.logger.Info("quotes expired", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (r *Repository) expire(ctx context.Context, q *models.Quote) error {
	err := database.UpdateVersioned(r.db.WithContext(ctx), &models.Quote{}, q.Version,
		map[string]any{"status": models.QuoteExpired}, "id = ?", q.ID)
	if err == nil {
		q.Status = models.QuoteExpired
		q.Version++
	}
	return err
}

// CreateBlockTrade inserts a pending block trade.
func (r *Repository) CreateBlockTrade(ctx context.Context, b *models.BlockTrade) error {
	if b.BuyerID == "" || b.SellerID == "" || b.BuyerID == b.SellerID {
		return errors.Invalid.Explain("block trade needs two distinct parties")
	}
	if !b.Amount.IsPositive() || !b.Price.IsPositive() {
		return errors.Invalid.Explain("amount and price must be positive")
	}
	b.BaseCurrency = strings.ToUpper(b.BaseCurrency)
	b.QuoteCurrency = strings.ToUpper(b.QuoteCurrency)
	switch b.ExecutionStyle {
	case "":
		b.ExecutionStyle = models.ExecutionImmediate
	case models.ExecutionImmediate, models.ExecutionTWAP, models.ExecutionVWAP:
	case models.ExecutionScheduled:
		if b.WindowStart == nil || b.WindowEnd == nil || !b.WindowEnd.After(*b.WindowStart) {
			return errors.Invalid.Explain("scheduled block trade needs a window whose end is after its start")
		}
	default:
		return errors.Invalid.Explain("unknown execution style %q", b.ExecutionStyle)
	}
	if b.ID == "" {
		b.ID = ids.BlockTrade()
	}
	b.TotalValue = b.Amount.Mul(b.Price)
	b.Status = models.BlockPending
	b.Version = 1
	return r.db.WithContext(ctx).Create(b).Error
}

// GetBlockTrade loads a block trade by id.
func (r *Repository) GetBlockTrade(ctx context.Context, id string) (*models.BlockTrade, error) {
	var b models.BlockTrade
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("block trade %s not found", id)
		}
		return nil, err
	}
	return &b, nil
}

// ExecuteBlockTrade moves a pending block trade to executing.
func (r *Repository) ExecuteBlockTrade(ctx context.Context, id string) (*models.BlockTrade, error) {
	return r.UpdateBlockTradeStatus(ctx, id, models.BlockExecuting)
}

// UpdateBlockTradeStatus moves a block trade along its lifecycle.
func (r *Repository) UpdateBlockTradeStatus(ctx context.Context, id string, to models.BlockTradeStatus) (*models.BlockTrade, error) {
	b, err := r.GetBlockTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkBlock(b, to); err != nil {
		return nil, err
	}
	updates := map[string]any{"status": to}
	now := r.now()
	switch to {
	case models.BlockExecuting:
		updates["executed_at"] = now
	case models.BlockCompleted, models.BlockFailed:
		updates["completed_at"] = now
	}
	if err := database.UpdateVersioned(r.db.WithContext(ctx), &models.BlockTrade{}, b.Version, updates, "id = ?", id); err != nil {
		return nil, err
	}
	r.logger.Info("block trade status changed",
		zap.String("block_trade_id", id),
		zap.String("from", string(b.Status)),
		zap.String("to", string(to)))
	return r.GetBlockTrade(ctx, id)
}
