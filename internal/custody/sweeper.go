package custody

import (
	"context"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/internal/marketdata"
	"github.com/Aidin1998/otcdesk/internal/messaging"
	"github.com/Aidin1998/otcdesk/internal/rails"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/ids"
	"github.com/Aidin1998/otcdesk/pkg/metrics"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sweepSubmitted = "submitted"
	sweepCompleted = "completed"
	sweepFailed    = "failed"
)

// SweepConfig configures the hot to cold sweep.
type SweepConfig struct {
	ThresholdUSD  decimal.Decimal
	ColdAddresses map[string]string
}

// Sweeper moves excess hot wallet inventory to cold storage. A sweep leaves
// half the threshold behind in the hot wallet. The crypto rail broadcasts the
// transfer and debits the hot wallet; the sweeper credits cold once the rail
// accepts.
type Sweeper struct {
	db        *gorm.DB
	converter *marketdata.Converter
	gateway   rails.Gateway
	threshold decimal.Decimal
	cold      map[string]string
	emitter   *messaging.Emitter
	logger    *zap.Logger
	now       func() time.Time
}

func NewSweeper(db *gorm.DB, converter *marketdata.Converter, gateway rails.Gateway, cfg SweepConfig, emitter *messaging.Emitter, logger *zap.Logger) *Sweeper {
	threshold := cfg.ThresholdUSD
	if !threshold.IsPositive() {
		threshold = decimal.NewFromInt(500_000)
	}
	cold := make(map[string]string, len(cfg.ColdAddresses))
	for cur, addr := range cfg.ColdAddresses {
		cold[strings.ToUpper(cur)] = addr
	}
	return &Sweeper{
		db:        db,
		converter: converter,
		gateway:   gateway,
		threshold: threshold,
		cold:      cold,
		emitter:   emitter,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SweepAmount returns how much of a hot balance worth rate USD per unit to
// move to cold, or zero when the balance is within the threshold.
func SweepAmount(balance, rate, thresholdUSD decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() || !balance.Mul(rate).GreaterThan(thresholdUSD) {
		return decimal.Zero
	}
	target := thresholdUSD.Div(decimal.NewFromInt(2)).Div(rate)
	return balance.Sub(target)
}

// Sweep checks every hot balance once and returns the transfers made.
// Currencies without a USD rate or cold address are skipped.
func (s *Sweeper) Sweep(ctx context.Context) ([]models.SweepTransfer, error) {
	hot, err := walletBalances(s.db.WithContext(ctx), models.WalletHot)
	if err != nil {
		return nil, err
	}

	var out []models.SweepTransfer
	for i := range hot {
		bal := &hot[i]
		rate, err := s.converter.Rate(ctx, bal.Currency)
		if err != nil {
			s.logger.Warn("sweep skipped, no USD rate", zap.String("currency", bal.Currency), zap.Error(err))
			continue
		}
		amount := SweepAmount(bal.Balance, rate, s.threshold)
		if !amount.IsPositive() {
			continue
		}
		address, ok := s.cold[bal.Currency]
		if !ok {
			s.logger.Warn("sweep skipped, no cold address", zap.String("currency", bal.Currency))
			continue
		}
		transfer, err := s.move(ctx, bal, amount, address)
		if err != nil {
			s.logger.Error("sweep failed", zap.String("currency", bal.Currency), zap.Error(err))
			continue
		}
		out = append(out, *transfer)
	}
	return out, nil
}

// move records the sweep, submits it to the crypto rail under its id and
// credits cold with the receipt. A refused sweep is kept as failed.
func (s *Sweeper) move(ctx context.Context, bal *models.WalletBalance, amount decimal.Decimal, address string) (*models.SweepTransfer, error) {
	after := bal.Balance.Sub(amount)
	now := s.now()
	transfer := &models.SweepTransfer{
		ID:          ids.Sweep(),
		Currency:    bal.Currency,
		Amount:      amount,
		HotBefore:   bal.Balance,
		HotAfter:    after,
		Destination: address,
		Status:      sweepSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	db := s.db.WithContext(ctx)
	if err := db.Create(transfer).Error; err != nil {
		return nil, err
	}

	receipt, err := s.gateway.Submit(ctx, rails.Transfer{
		Method:      models.MethodCrypto,
		Reference:   transfer.ID,
		Amount:      amount,
		Currency:    bal.Currency,
		Destination: address,
		Memo:        "hot to cold sweep",
	})
	if err != nil {
		reason := err.Error()
		if len(reason) > 255 {
			reason = reason[:255]
		}
		if uerr := db.Model(&models.SweepTransfer{}).Where("id = ? AND status = ?", transfer.ID, sweepSubmitted).
			Updates(map[string]any{"status": sweepFailed, "failure_reason": reason, "updated_at": s.now()}).Error; uerr != nil {
			s.logger.Error("failed to mark sweep failed", zap.String("sweep_id", transfer.ID), zap.Error(uerr))
		}
		metrics.Sweeps.WithLabelValues(transfer.Currency, sweepFailed).Inc()
		return nil, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := adjustWalletTx(tx, bal.Currency, models.WalletCold, amount); err != nil {
			return err
		}
		res := tx.Model(&models.SweepTransfer{}).Where("id = ? AND status = ?", transfer.ID, sweepSubmitted).
			Updates(map[string]any{"status": sweepCompleted, "reference": receipt.ReferenceID, "updated_at": s.now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.ConcurrentModification.Explain("sweep %s changed concurrently", transfer.ID)
		}
		return nil
	})
	if err != nil {
		// The rail already moved the funds; the submitted row is left for
		// reconciliation against the receipt.
		s.logger.Error("sweep broadcast but cold credit failed",
			zap.String("sweep_id", transfer.ID),
			zap.String("reference", receipt.ReferenceID),
			zap.Error(err))
		return nil, err
	}
	transfer.Status = sweepCompleted
	transfer.Reference = receipt.ReferenceID

	s.logger.Info("hot wallet swept",
		zap.String("sweep_id", transfer.ID),
		zap.String("currency", transfer.Currency),
		zap.String("amount", amount.String()),
		zap.String("reference", receipt.ReferenceID),
		zap.String("hot_after", after.String()))
	metrics.Sweeps.WithLabelValues(transfer.Currency, sweepCompleted).Inc()
	s.emitter.Emit(ctx, messaging.TopicCustody, transfer.ID, EventSweepCompleted, transfer)
	return transfer, nil
}

// Sweeps lists recorded sweeps for currency, newest first. An empty currency
// lists all.
func (s *Sweeper) Sweeps(ctx context.Context, currency string) ([]models.SweepTransfer, error) {
	q := s.db.WithContext(ctx).Model(&models.SweepTransfer{})
	if currency != "" {
		q = q.Where("currency = ?", strings.ToUpper(currency))
	}
	var out []models.SweepTransfer
	if err := q.Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Invalid.Explain("sweep interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep pass failed", zap.Error(err))
			}
		}
	}
}
