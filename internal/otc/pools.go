package otc

import (
	"context"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/ids"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const volumeWindow = 24 * time.Hour

// CreateLiquidityPool opens an inventory position for a pair. One pool per pair.
func (r *Repository) CreateLiquidityPool(ctx context.Context, p *models.LiquidityPool) error {
	p.BaseCurrency = strings.ToUpper(p.BaseCurrency)
	p.QuoteCurrency = strings.ToUpper(p.QuoteCurrency)
	if p.BaseCurrency == "" || p.QuoteCurrency == "" || p.BaseCurrency == p.QuoteCurrency {
		return errors.Invalid.Explain("pool needs two distinct currencies")
	}
	if p.BaseAmount.IsNegative() || p.QuoteAmount.IsNegative() {
		return errors.Invalid.Explain("pool inventory cannot be negative")
	}
	if p.BaseCapacity.IsZero() {
		p.BaseCapacity = p.BaseAmount
	}
	if !p.BaseCapacity.IsPositive() {
		return errors.Invalid.Explain("pool capacity must be positive")
	}
	if p.MaxTradeSize.IsZero() {
		p.MaxTradeSize = p.BaseCapacity
	}
	if p.MinTradeSize.GreaterThan(p.MaxTradeSize) {
		return errors.Invalid.Explain("min trade size %s exceeds max %s", p.MinTradeSize, p.MaxTradeSize)
	}
	if p.ID == "" {
		p.ID = ids.Pool()
	}
	p.Utilization = utilization(p.BaseAmount, p.BaseCapacity)
	p.Volume24h = decimal.Zero
	p.VolumeWindowStart = r.now()
	p.Active = true
	p.Version = 1
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if database.IsDuplicate(err) {
			return errors.Conflict.Explain("pool for %s/%s already exists", p.BaseCurrency, p.QuoteCurrency)
		}
		return err
	}
	return nil
}

// GetPool loads a pool by id.
func (r *Repository) GetPool(ctx context.Context, id string) (*models.LiquidityPool, error) {
	var p models.LiquidityPool
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("liquidity pool %s not found", id)
		}
		return nil, err
	}
	return &p, nil
}

// FindPool returns the active pool for base/quote.
func (r *Repository) FindPool(ctx context.Context, base, quote string) (*models.LiquidityPool, error) {
	var p models.LiquidityPool
	err := r.db.WithContext(ctx).
		Where("base_currency = ? AND quote_currency = ? AND active = ?", strings.ToUpper(base), strings.ToUpper(quote), true).
		First(&p).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("no liquidity pool for %s/%s", base, quote)
		}
		return nil, err
	}
	return &p, nil
}

// ListPools returns every pool.
func (r *Repository) ListPools(ctx context.Context) ([]models.LiquidityPool, error) {
	var pools []models.LiquidityPool
	err := r.db.WithContext(ctx).Order("base_currency, quote_currency").Find(&pools).Error
	return pools, err
}

// DrawLiquidity fills a client trade of amount base at price against the
// pool. A client buy takes base out and puts quote in; a sell does the reverse.
func (r *Repository) DrawLiquidity(ctx context.Context, poolID string, clientSide models.Side, amount, price decimal.Decimal) (*models.LiquidityPool, error) {
	p, err := r.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, errors.Invalid.Explain("liquidity pool %s is inactive", p.ID)
	}
	if amount.LessThan(p.MinTradeSize) || amount.GreaterThan(p.MaxTradeSize) {
		return nil, errors.Invalid.
			Explain("trade size %s outside pool range [%s, %s]", amount, p.MinTradeSize, p.MaxTradeSize).
			WithDetail("min_trade_size", p.MinTradeSize.String()).
			WithDetail("max_trade_size", p.MaxTradeSize.String())
	}

	notional := amount.Mul(price)
	base, quote := p.BaseAmount, p.QuoteAmount
	switch clientSide {
	case models.SideBuy:
		if base.LessThan(amount) {
			return nil, errors.InsufficientBalance.
				Explain("pool %s holds %s %s, %s requested", p.ID, base, p.BaseCurrency, amount).
				WithDetail("available", base.String())
		}
		base, quote = base.Sub(amount), quote.Add(notional)
	case models.SideSell:
		if quote.LessThan(notional) {
			return nil, errors.InsufficientBalance.
				Explain("pool %s holds %s %s, %s requested", p.ID, quote, p.QuoteCurrency, notional).
				WithDetail("available", quote.String())
		}
		base, quote = base.Add(amount), quote.Sub(notional)
	default:
		return nil, errors.Invalid.Explain("side must be buy or sell")
	}

	now := r.now()
	volume, windowStart := p.Volume24h, p.VolumeWindowStart
	if now.Sub(windowStart) > volumeWindow {
		volume, windowStart = decimal.Zero, now
	}
	volume = volume.Add(amount)

	updates := map[string]any{
		"base_amount":         base,
		"quote_amount":        quote,
		"utilization":         utilization(base, p.BaseCapacity),
		"volume_24h":          volume,
		"volume_window_start": windowStart,
	}
	if err := database.UpdateVersioned(r.db.WithContext(ctx), &models.LiquidityPool{}, p.Version, updates, "id = ?", p.ID); err != nil {
		return nil, err
	}
	r.logger.Info("liquidity drawn",
		zap.String("pool_id", p.ID),
		zap.String("side", string(clientSide)),
		zap.String("amount", amount.String()),
		zap.String("base_after", base.String()))
	return r.GetPool(ctx, p.ID)
}

// utilization is 1 - base/capacity, floored at zero.
func utilization(base, capacity decimal.Decimal) decimal.Decimal {
	if !capacity.IsPositive() {
		return decimal.Zero
	}
	u := decimal.NewFromInt(1).Sub(base.Div(capacity))
	if u.IsNegative() {
		return decimal.Zero
	}
	return u
}
