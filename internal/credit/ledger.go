// Package credit keeps per-client, per-currency credit lines.
package credit

import (
	"context"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/internal/clients"
	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/internal/marketdata"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/ids"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	DefaultInterestRate = decimal.RequireFromString("0.05")
	DefaultMaturity     = 365 * 24 * time.Hour
)

// Utilization aggregates a client's lines in USD.
type Utilization struct {
	ClientID       string              `json:"client_id"`
	TotalLimit     decimal.Decimal     `json:"total_limit"`
	TotalAvailable decimal.Decimal     `json:"total_available"`
	Utilized       decimal.Decimal     `json:"utilized"`
	UtilizationPct decimal.Decimal     `json:"utilization_pct"`
	Lines          []models.CreditLine `json:"lines"`
}

// Ledger mutates credit lines with conditional version updates.
// Every mutation keeps 0 <= available <= limit.
type Ledger struct {
	db        *gorm.DB
	converter *marketdata.Converter
	logger    *zap.Logger
}

func NewLedger(db *gorm.DB, converter *marketdata.Converter, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, converter: converter, logger: logger}
}

// Lines returns every line of a client.
func (l *Ledger) Lines(ctx context.Context, clientID string) ([]models.CreditLine, error) {
	var lines []models.CreditLine
	err := l.db.WithContext(ctx).Where("client_id = ?", clientID).Order("currency").Find(&lines).Error
	return lines, err
}

// GetUtilization sums a client's lines, valued in USD.
func (l *Ledger) GetUtilization(ctx context.Context, clientID string) (*Utilization, error) {
	lines, err := l.Lines(ctx, clientID)
	if err != nil {
		return nil, err
	}
	u := &Utilization{
		ClientID:       clientID,
		TotalLimit:     decimal.Zero,
		TotalAvailable: decimal.Zero,
		Utilized:       decimal.Zero,
		UtilizationPct: decimal.Zero,
		Lines:          lines,
	}
	for _, line := range lines {
		rate, err := l.converter.Rate(ctx, line.Currency)
		if err != nil {
			return nil, err
		}
		u.TotalLimit = u.TotalLimit.Add(line.CreditLimit.Mul(rate))
		u.TotalAvailable = u.TotalAvailable.Add(line.AvailableCredit.Mul(rate))
		u.Utilized = u.Utilized.Add(line.Utilized.Mul(rate))
	}
	if u.TotalLimit.IsPositive() {
		u.UtilizationPct = u.Utilized.Div(u.TotalLimit).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return u, nil
}

// ExtendCreditLine grows (or, with a negative delta, shrinks) a line.
// A missing line is opened with the default terms.
func (l *Ledger) ExtendCreditLine(ctx context.Context, clientID, currency string, delta decimal.Decimal) (*models.CreditLine, error) {
	currency = strings.ToUpper(currency)
	if delta.IsZero() {
		return nil, errors.Invalid.Explain("delta must not be zero")
	}
	db := l.db.WithContext(ctx)
	client, err := clients.GetTx(db, clientID)
	if err != nil {
		return nil, err
	}

	line, err := l.lineTx(db, clientID, currency)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return nil, err
	}
	if line == nil {
		if delta.IsNegative() {
			return nil, errors.InsufficientCredit.Explain("client %s has no %s credit line to reduce", clientID, currency)
		}
		now := time.Now().UTC()
		line = &models.CreditLine{
			ID:              ids.CreditLine(),
			ClientID:        clientID,
			Currency:        currency,
			CreditLimit:     delta,
			Utilized:        decimal.Zero,
			AvailableCredit: delta,
			UtilizationRate: decimal.Zero,
			InterestRate:    DefaultInterestRate,
			RiskRating:      riskRating(client.RiskScore),
			MaturityDate:    now.Add(DefaultMaturity),
			Version:         1,
		}
		if err := db.Create(line).Error; err != nil {
			if database.IsDuplicate(err) {
				return nil, errors.ConcurrentModification.Explain("credit line for %s %s created concurrently", clientID, currency)
			}
			return nil, err
		}
		l.logger.Info("credit line opened",
			zap.String("client_id", clientID),
			zap.String("currency", currency),
			zap.String("limit", delta.String()))
		return line, nil
	}

	limit := line.CreditLimit.Add(delta)
	available := line.AvailableCredit.Add(delta)
	if available.IsNegative() || limit.IsNegative() {
		return nil, errors.InsufficientCredit.
			Explain("cannot reduce %s line by %s with %s available", currency, delta.Neg(), line.AvailableCredit).
			WithDetail("available", line.AvailableCredit.String())
	}
	if err := l.apply(db, line, limit, line.Utilized, available); err != nil {
		return nil, err
	}
	l.logger.Info("credit line extended",
		zap.String("client_id", clientID),
		zap.String("currency", currency),
		zap.String("delta", delta.String()),
		zap.String("limit", limit.String()))
	return line, nil
}

// Draw uses amount of the client's line.
func (l *Ledger) Draw(ctx context.Context, clientID, currency string, amount decimal.Decimal) (*models.CreditLine, error) {
	return l.DrawTx(l.db.WithContext(ctx), clientID, currency, amount)
}

// DrawTx draws inside the caller's transaction so the draw commits or rolls
// back with the triggering settlement event.
func (l *Ledger) DrawTx(tx *gorm.DB, clientID, currency string, amount decimal.Decimal) (*models.CreditLine, error) {
	if !amount.IsPositive() {
		return nil, errors.Invalid.Explain("draw amount must be positive")
	}
	line, err := l.lineTx(tx, clientID, strings.ToUpper(currency))
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return nil, errors.InsufficientCredit.Explain("client %s has no %s credit line", clientID, currency)
		}
		return nil, err
	}
	if !time.Now().UTC().Before(line.MaturityDate) {
		return nil, errors.InsufficientCredit.Explain("credit line %s matured on %s", line.ID, line.MaturityDate.Format(time.DateOnly))
	}
	if line.AvailableCredit.LessThan(amount) {
		return nil, errors.InsufficientCredit.
			Explain("draw of %s %s exceeds available credit %s", amount, line.Currency, line.AvailableCredit).
			WithDetail("available", line.AvailableCredit.String()).
			WithDetail("requested", amount.String())
	}
	utilized := line.Utilized.Add(amount)
	if err := l.apply(tx, line, line.CreditLimit, utilized, line.CreditLimit.Sub(utilized)); err != nil {
		return nil, err
	}
	l.logger.Info("credit drawn",
		zap.String("client_id", clientID),
		zap.String("credit_line_id", line.ID),
		zap.String("amount", amount.String()),
		zap.String("available", line.AvailableCredit.String()))
	return line, nil
}

// Repay returns amount to the client's line.
func (l *Ledger) Repay(ctx context.Context, clientID, currency string, amount decimal.Decimal) (*models.CreditLine, error) {
	return l.RepayTx(l.db.WithContext(ctx), clientID, currency, amount)
}

// RepayTx repays inside the caller's transaction.
func (l *Ledger) RepayTx(tx *gorm.DB, clientID, currency string, amount decimal.Decimal) (*models.CreditLine, error) {
	if !amount.IsPositive() {
		return nil, errors.Invalid.Explain("repay amount must be positive")
	}
	line, err := l.lineTx(tx, clientID, strings.ToUpper(currency))
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(line.Utilized) {
		return nil, errors.Invalid.Explain("repayment %s exceeds utilized %s", amount, line.Utilized)
	}
	utilized := line.Utilized.Sub(amount)
	if err := l.apply(tx, line, line.CreditLimit, utilized, line.CreditLimit.Sub(utilized)); err != nil {
		return nil, err
	}
	l.logger.Info("credit repaid",
		zap.String("client_id", clientID),
		zap.String("credit_line_id", line.ID),
		zap.String("amount", amount.String()))
	return line, nil
}

func (l *Ledger) lineTx(tx *gorm.DB, clientID, currency string) (*models.CreditLine, error) {
	var line models.CreditLine
	if err := tx.Where("client_id = ? AND currency = ?", clientID, currency).First(&line).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("no %s credit line for client %s", currency, clientID)
		}
		return nil, err
	}
	return &line, nil
}

// apply writes new figures if the line is unchanged since it was read.
func (l *Ledger) apply(tx *gorm.DB, line *models.CreditLine, limit, utilized, available decimal.Decimal) error {
	if available.IsNegative() || available.GreaterThan(limit) {
		return errors.InsufficientCredit.Explain("credit line %s would leave available %s outside [0, %s]", line.ID, available, limit)
	}
	rate := decimal.Zero
	if limit.IsPositive() {
		rate = utilized.Div(limit).Round(6)
	}
	err := database.UpdateVersioned(tx, &models.CreditLine{}, line.Version, map[string]any{
		"credit_limit":     limit,
		"utilized":         utilized,
		"available_credit": available,
		"utilization_rate": rate,
	}, "id = ?", line.ID)
	if err != nil {
		return err
	}
	line.CreditLimit = limit
	line.Utilized = utilized
	line.AvailableCredit = available
	line.UtilizationRate = rate
	line.Version++
	return nil
}

// riskRating maps a 0..100 risk score onto a letter rating.
func riskRating(score int) string {
	switch {
	case score < 30:
		return "A"
	case score < 60:
		return "B"
	default:
		return "C"
	}
}
