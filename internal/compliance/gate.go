// Package compliance gates money-moving actions behind tiered limits,
// verification status and sanctions screening.
package compliance

import (
	"context"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/internal/clients"
	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/internal/marketdata"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/ids"
	"github.com/Aidin1998/otcdesk/pkg/metrics"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Decision flags.
const (
	FlagTravelRule         = "travel_rule"
	FlagSanctionsLookalike = "sanctions_lookalike"
)

// TransactionCheck describes a money movement to be checked.
// Destination is an address, domain or email and is optional.
type TransactionCheck struct {
	ClientID    string                 `json:"client_id" binding:"required"`
	Type        models.TransactionType `json:"type" binding:"required,oneof=deposit withdrawal trade settlement"`
	Amount      decimal.Decimal        `json:"amount"`
	Currency    string                 `json:"currency" binding:"required,currency_code"`
	Destination string                 `json:"destination,omitempty"`
}

// Limits reports the client's allowance after the checked transaction's window.
type Limits struct {
	Daily            decimal.Decimal `json:"daily"`
	Monthly          decimal.Decimal `json:"monthly"`
	DailyRemaining   decimal.Decimal `json:"daily_remaining"`
	MonthlyRemaining decimal.Decimal `json:"monthly_remaining"`
	Remaining        decimal.Decimal `json:"remaining"`
}

// Decision is the outcome of a compliance check.
type Decision struct {
	Approved           bool                    `json:"approved"`
	RequiresKYC        bool                    `json:"requires_kyc"`
	RiskLevel          string                  `json:"risk_level"`
	Limits             Limits                  `json:"limits"`
	TravelRuleRequired bool                    `json:"travel_rule_required"`
	Reason             string                  `json:"reason,omitempty"`
	Threshold          decimal.NullDecimal     `json:"threshold,omitempty"`
	AmountUSD          decimal.Decimal         `json:"amount_usd"`
	Tier               models.VerificationTier `json:"tier"`
	Flags              []string                `json:"flags,omitempty"`
}

// Gate is the compliance gate.
type Gate struct {
	db        *gorm.DB
	converter *marketdata.Converter
	screener  *Screener
	logger    *zap.Logger
	now       func() time.Time
}

func NewGate(db *gorm.DB, converter *marketdata.Converter, screener *Screener, logger *zap.Logger) *Gate {
	return &Gate{
		db:        db,
		converter: converter,
		screener:  screener,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Screener exposes the gate's denylist.
func (g *Gate) Screener() *Screener { return g.screener }

// CheckTransactionCompliance evaluates check without recording anything.
func (g *Gate) CheckTransactionCompliance(ctx context.Context, check TransactionCheck) (*Decision, error) {
	d, _, err := g.evaluate(ctx, g.db.WithContext(ctx), check)
	return d, err
}

func (g *Gate) evaluate(ctx context.Context, db *gorm.DB, check TransactionCheck) (*Decision, *usage, error) {
	if !check.Amount.IsPositive() {
		return nil, nil, errors.Invalid.Explain("amount must be positive")
	}
	client, err := clients.GetTx(db, check.ClientID)
	if err != nil {
		return nil, nil, err
	}
	if !client.Active {
		return nil, nil, errors.Invalid.Explain("client %s is deactivated", client.ID)
	}

	amountUSD, err := g.converter.ToUSD(ctx, check.Currency, check.Amount)
	if err != nil {
		return nil, nil, err
	}

	tier := client.VerificationTier()
	limits := LimitsFor(tier)
	u, err := g.loadUsage(db, client.ID)
	if err != nil {
		return nil, nil, err
	}

	d := &Decision{
		RiskLevel: RiskLow,
		AmountUSD: amountUSD,
		Tier:      tier,
		Limits: Limits{
			Daily:            limits.Daily,
			Monthly:          limits.Monthly,
			DailyRemaining:   nonNegative(limits.Daily.Sub(u.row.DailyUSD)),
			MonthlyRemaining: nonNegative(limits.Monthly.Sub(u.row.MonthlyUSD)),
		},
	}
	d.Limits.Remaining = decimal.Min(d.Limits.DailyRemaining, d.Limits.MonthlyRemaining)

	bucket := riskBucket(amountUSD)
	if check.Type == models.TxWithdrawal {
		bucket = escalate(bucket)
	}

	if amountUSD.GreaterThanOrEqual(travelRuleThreshold) {
		d.TravelRuleRequired = true
		d.Flags = append(d.Flags, FlagTravelRule)
	}

	sanctioned := false
	if check.Destination != "" {
		res, err := screenTx(db, check.Destination)
		if err != nil {
			return nil, nil, err
		}
		if res.Hit {
			sanctioned = true
			bucket = len(riskLadder) - 1
		} else if res.Lookalike {
			d.Flags = append(d.Flags, FlagSanctionsLookalike)
			bucket = escalate(bucket)
		}
	}
	d.RiskLevel = riskLadder[bucket]

	threshold, hasThreshold := kycThresholds[tier]
	switch {
	case sanctioned:
		d.Reason = errors.ReasonSanctionsHit
	case hasThreshold && amountUSD.GreaterThan(threshold):
		d.RequiresKYC = true
		d.Reason = errors.ReasonKYCRequired
		d.Threshold = decimal.NewNullDecimal(threshold)
	case amountUSD.GreaterThan(d.Limits.Remaining):
		d.Reason = errors.ReasonLimitExceeded
	default:
		d.Approved = true
	}

	outcome := "approved"
	if !d.Approved {
		outcome = d.Reason
	}
	metrics.ComplianceDecisions.WithLabelValues(outcome, d.RiskLevel).Inc()
	return d, u, nil
}

// Authorize checks and converts a rejection into a ComplianceRejected error
// carrying the reason and the breached limit. Nothing is recorded.
func (g *Gate) Authorize(ctx context.Context, check TransactionCheck) (*Decision, error) {
	d, err := g.CheckTransactionCompliance(ctx, check)
	if err != nil {
		return nil, err
	}
	return d, g.rejection(check, d)
}

// AuthorizeTx checks and, when approved, records check under reference in
// the caller's transaction. The check reads the same usage row the record
// moves, so a concurrent admission for the client fails the transaction with
// ConcurrentModification instead of overspending the limit.
func (g *Gate) AuthorizeTx(tx *gorm.DB, check TransactionCheck, reference string) (*Decision, error) {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	d, u, err := g.evaluate(ctx, tx, check)
	if err != nil {
		return nil, err
	}
	if err := g.rejection(check, d); err != nil {
		return d, err
	}
	return d, g.record(tx, check, d, u, reference)
}

func (g *Gate) rejection(check TransactionCheck, d *Decision) error {
	if d.Approved {
		return nil
	}
	rejection := errors.ComplianceRejected.
		Explain("%s %s %s rejected: %s", check.Type, check.Amount, strings.ToUpper(check.Currency), d.Reason).
		WithReason(d.Reason).
		WithDetail("amount_usd", d.AmountUSD.String()).
		WithDetail("risk_level", d.RiskLevel)
	switch d.Reason {
	case errors.ReasonLimitExceeded:
		rejection = rejection.
			WithDetail("limit", d.Limits.Daily.String()).
			WithDetail("monthly_limit", d.Limits.Monthly.String()).
			WithDetail("remaining", d.Limits.Remaining.String())
	case errors.ReasonKYCRequired:
		rejection = rejection.
			WithDetail("threshold", d.Threshold.Decimal.String()).
			WithDetail("remaining", d.Limits.Remaining.String())
	}
	g.logger.Warn("compliance rejected",
		zap.String("client_id", check.ClientID),
		zap.String("type", string(check.Type)),
		zap.String("amount_usd", d.AmountUSD.String()),
		zap.String("reason", d.Reason))
	return rejection
}

// RecordTransaction counts an approved transaction toward the client's windows.
func (g *Gate) RecordTransaction(ctx context.Context, check TransactionCheck, d *Decision, reference string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return g.RecordTransactionTx(tx, check, d, reference)
	})
}

// RecordTransactionTx records inside the caller's transaction.
func (g *Gate) RecordTransactionTx(tx *gorm.DB, check TransactionCheck, d *Decision, reference string) error {
	if d == nil || !d.Approved {
		return errors.Invalid.Explain("only approved transactions are recorded")
	}
	u, err := g.loadUsage(tx, check.ClientID)
	if err != nil {
		return err
	}
	return g.record(tx, check, d, u, reference)
}

func (g *Gate) record(tx *gorm.DB, check TransactionCheck, d *Decision, u *usage, reference string) error {
	if d == nil || !d.Approved {
		return errors.Invalid.Explain("only approved transactions are recorded")
	}
	if err := tx.Create(&models.ComplianceTransaction{
		ID:        ids.New(ids.PrefixCompliance),
		ClientID:  check.ClientID,
		Type:      check.Type,
		Currency:  strings.ToUpper(check.Currency),
		Amount:    check.Amount,
		AmountUSD: d.AmountUSD,
		Reference: reference,
		CreatedAt: g.now(),
	}).Error; err != nil {
		return err
	}

	row := u.row
	row.DailyUSD = row.DailyUSD.Add(d.AmountUSD)
	row.MonthlyUSD = row.MonthlyUSD.Add(d.AmountUSD)
	if !u.exists {
		row.UpdatedAt = g.now()
		err := tx.Create(&row).Error
		if database.IsDuplicate(err) {
			return errors.ConcurrentModification.Explain("compliance usage of %s changed concurrently", check.ClientID)
		}
		return err
	}
	return database.UpdateVersioned(tx, &models.ComplianceUsage{}, u.row.Version, map[string]any{
		"day_start":   row.DayStart,
		"daily_usd":   row.DailyUSD,
		"month_start": row.MonthStart,
		"monthly_usd": row.MonthlyUSD,
	}, "client_id = ?", check.ClientID)
}

// VerifyUser raises the client's KYC level. Levels never go down.
func (g *Gate) VerifyUser(ctx context.Context, clientID string, kind VerificationKind) (*models.Client, error) {
	level, ok := verificationLevels[kind]
	if !ok {
		return nil, errors.Invalid.Explain("unknown verification type %q", kind)
	}
	db := g.db.WithContext(ctx)
	client, err := clients.GetTx(db, clientID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	switch kind {
	case VerifyEmail:
		client.EmailVerified = true
		updates["email_verified"] = true
	case VerifyPhone:
		client.PhoneVerified = true
		updates["phone_verified"] = true
	case VerifyDocument:
		client.DocumentVerified = true
		updates["document_verified"] = true
	}
	if level > client.KYCLevel {
		client.KYCLevel = level
		updates["kyc_level"] = level
	}
	if err := database.UpdateVersioned(db, &models.Client{}, client.Version, updates, "id = ?", clientID); err != nil {
		return nil, err
	}
	client.Version++

	g.logger.Info("client verified",
		zap.String("client_id", clientID),
		zap.String("verification", string(kind)),
		zap.Int("kyc_level", client.KYCLevel))
	return client, nil
}

// usage is the client's usage row rolled forward to the current windows.
// A client without a row starts from the logged transactions.
type usage struct {
	row    models.ComplianceUsage
	exists bool
}

func (g *Gate) loadUsage(db *gorm.DB, clientID string) (*usage, error) {
	now := g.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var row models.ComplianceUsage
	err := db.Where("client_id = ?", clientID).First(&row).Error
	if err == nil {
		if !row.MonthStart.Equal(monthStart) {
			row.MonthlyUSD, row.DailyUSD = decimal.Zero, decimal.Zero
		} else if !row.DayStart.Equal(dayStart) {
			row.DailyUSD = decimal.Zero
		}
		row.DayStart, row.MonthStart = dayStart, monthStart
		return &usage{row: row, exists: true}, nil
	}
	if !database.IsNotFound(err) {
		return nil, err
	}

	var logged []models.ComplianceTransaction
	if err := db.Select("amount_usd", "created_at").
		Where("client_id = ? AND created_at >= ?", clientID, monthStart).
		Find(&logged).Error; err != nil {
		return nil, err
	}
	daily, monthly := decimal.Zero, decimal.Zero
	for _, r := range logged {
		monthly = monthly.Add(r.AmountUSD)
		if !r.CreatedAt.Before(dayStart) {
			daily = daily.Add(r.AmountUSD)
		}
	}
	return &usage{row: models.ComplianceUsage{
		ClientID:   clientID,
		DayStart:   dayStart,
		DailyUSD:   daily,
		MonthStart: monthStart,
		MonthlyUSD: monthly,
		Version:    1,
	}}, nil
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
