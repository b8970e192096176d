// Package settlement runs the two-sided settlement of matched deals and
// block trades over the payment rails.
package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/internal/clients"
	"github.com/Aidin1998/otcdesk/internal/compliance"
	"github.com/Aidin1998/otcdesk/internal/credit"
	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/internal/messaging"
	"github.com/Aidin1998/otcdesk/internal/otc"
	"github.com/Aidin1998/otcdesk/internal/rails"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/ids"
	"github.com/Aidin1998/otcdesk/pkg/metrics"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Settlement event types.
const (
	EventInitiated = "settlement.initiated"
	EventConfirmed = "settlement.confirming"
	EventCompleted = "settlement.completed"
	EventFailed    = "settlement.failed"
)

// Side names a settlement leg.
type Side string

const (
	SideBuyer  Side = "buyer"
	SideSeller Side = "seller"
)

// Whitelist answers whether a client may receive funds at a crypto address.
type Whitelist interface {
	IsWhitelisted(ctx context.Context, clientID, currency, address, tag string) (bool, error)
}

// Request starts settling a deal or block trade. Each instruction names the
// account its owner receives at: the buyer receives the base currency and
// the seller receives the quote currency.
type Request struct {
	SourceType          models.SettlementSource `json:"source_type" binding:"required,oneof=deal block_trade"`
	SourceID            string                  `json:"source_id" binding:"required"`
	BuyerInstructionID  string                  `json:"buyer_instruction_id" binding:"required"`
	SellerInstructionID string                  `json:"seller_instruction_id" binding:"required"`
	Priority            models.Priority         `json:"priority" binding:"omitempty,oneof=standard urgent same_day"`
	UseCredit           bool                    `json:"use_credit"`
}

// source is the trade being settled, whichever record it came from.
type source struct {
	buyerID, sellerID string
	base, quote       string
	amount, notional  decimal.Decimal
}

// Orchestrator drives settlements through pending, processing, confirming
// and completed. Every transition is a conditional update.
type Orchestrator struct {
	db        *gorm.DB
	trades    *otc.Repository
	ledger    *credit.Ledger
	screener  *compliance.Screener
	whitelist Whitelist
	rails     rails.Gateway
	events    *messaging.Emitter
	scheduler *Scheduler
	logger    *zap.Logger
	now       func() time.Time
}

// Config of the orchestrator.
type Config struct {
	CompletionDelay time.Duration
}

func NewOrchestrator(
	db *gorm.DB,
	trades *otc.Repository,
	ledger *credit.Ledger,
	screener *compliance.Screener,
	whitelist Whitelist,
	gateway rails.Gateway,
	events *messaging.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:        db,
		trades:    trades,
		ledger:    ledger,
		screener:  screener,
		whitelist: whitelist,
		rails:     gateway,
		events:    events,
		scheduler: NewScheduler(cfg.CompletionDelay, logger),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Scheduler exposes the completion scheduler.
func (o *Orchestrator) Scheduler() *Scheduler { return o.scheduler }

// InitiateSettlement validates both instructions, prices the settlement and
// records it together with the credit draw and the source transition.
func (o *Orchestrator) InitiateSettlement(ctx context.Context, req Request) (*models.Settlement, error) {
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityStandard
	}
	if !validPriority(priority) {
		return nil, errors.Invalid.Explain("unknown priority %q", req.Priority)
	}

	var existing int64
	if err := o.db.WithContext(ctx).Model(&models.Settlement{}).
		Where("source_type = ? AND source_id = ?", req.SourceType, req.SourceID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, errors.Conflict.Explain("%s %s already has a settlement", req.SourceType, req.SourceID)
	}

	src, err := o.loadSource(ctx, req.SourceType, req.SourceID)
	if err != nil {
		return nil, err
	}

	buyerIns, buyerMethod, err := o.resolveInstruction(ctx, req.BuyerInstructionID, src.buyerID, src.base)
	if err != nil {
		return nil, err
	}
	sellerIns, sellerMethod, err := o.resolveInstruction(ctx, req.SellerInstructionID, src.sellerID, src.quote)
	if err != nil {
		return nil, err
	}

	now := o.now()
	fees := ComputeFees(buyerMethod, sellerMethod, src.base, src.quote, priority, src.notional)
	minutes := Minutes(buyerMethod, priority)
	if m := Minutes(sellerMethod, priority); m > minutes {
		minutes = m
	}

	st := &models.Settlement{
		ID:                  ids.Settlement(),
		SourceType:          req.SourceType,
		SourceID:            req.SourceID,
		BuyerID:             src.buyerID,
		SellerID:            src.sellerID,
		Priority:            priority,
		BuyerInstructionID:  buyerIns.ID,
		BuyerMethod:         buyerMethod,
		BuyerAmount:         src.amount,
		BuyerCurrency:       src.base,
		BuyerStatus:         models.SidePending,
		SellerInstructionID: sellerIns.ID,
		SellerMethod:        sellerMethod,
		SellerAmount:        src.notional,
		SellerCurrency:      src.quote,
		SellerStatus:        models.SidePending,
		BuyerFee:            fees.Buyer,
		SellerFee:           fees.Seller,
		SettlementFee:       fees.Buyer.Add(fees.Seller),
		NetworkFee:          fees.Network,
		ProcessingFee:       fees.Processing,
		TotalFees:           fees.Total,
		FeeCurrency:         src.quote,
		CreditDrawn:         decimal.Zero,
		InitiatedAt:         now,
		ExpectedCompletion:  now.Add(time.Duration(minutes) * time.Minute),
		Status:              models.SettlementPending,
		Version:             1,
	}
	if req.UseCredit {
		st.CreditDrawn = src.notional
	}

	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(st).Error; err != nil {
			if database.IsDuplicate(err) {
				return errors.Conflict.Explain("%s %s already has a settlement", req.SourceType, req.SourceID)
			}
			return err
		}
		if req.UseCredit {
			if _, err := o.ledger.DrawTx(tx, src.buyerID, src.quote, src.notional); err != nil {
				return err
			}
		}
		return o.advanceSource(ctx, o.trades.WithTx(tx), st, models.SettlementPending)
	})
	if err != nil {
		return nil, err
	}

	metrics.SettlementTransitions.WithLabelValues(string(models.SettlementPending)).Inc()
	o.events.Emit(ctx, messaging.TopicSettlements, st.ID, EventInitiated, st)
	o.logger.Info("settlement initiated",
		zap.String("settlement_id", st.ID),
		zap.String("source_type", string(st.SourceType)),
		zap.String("source_id", st.SourceID),
		zap.String("buyer_method", string(buyerMethod)),
		zap.String("seller_method", string(sellerMethod)),
		zap.String("total_fees", st.TotalFees.String()),
		zap.Time("expected_completion", st.ExpectedCompletion))
	return st, nil
}

func (o *Orchestrator) loadSource(ctx context.Context, kind models.SettlementSource, id string) (*source, error) {
	switch kind {
	case models.SourceDeal:
		deal, err := o.trades.GetDeal(ctx, id)
		if err != nil {
			return nil, err
		}
		if deal.Status != models.DealMatched {
			return nil, errors.InvalidStateTransition.Explain("deal %s is %s, only matched deals settle", id, deal.Status)
		}
		return &source{
			buyerID:  deal.BuyerID(),
			sellerID: deal.SellerID(),
			base:     deal.BaseCurrency,
			quote:    deal.QuoteCurrency,
			amount:   deal.Amount,
			notional: deal.TotalValue,
		}, nil
	case models.SourceBlockTrade:
		b, err := o.trades.GetBlockTrade(ctx, id)
		if err != nil {
			return nil, err
		}
		if b.Status != models.BlockPending && b.Status != models.BlockExecuting {
			return nil, errors.InvalidStateTransition.Explain("block trade %s is %s", id, b.Status)
		}
		return &source{
			buyerID:  b.BuyerID,
			sellerID: b.SellerID,
			base:     b.BaseCurrency,
			quote:    b.QuoteCurrency,
			amount:   b.Amount,
			notional: b.TotalValue,
		}, nil
	}
	return nil, errors.Invalid.Explain("unknown settlement source %q", kind)
}

// resolveInstruction loads a verified instruction of owner in currency and
// screens crypto destinations.
func (o *Orchestrator) resolveInstruction(ctx context.Context, id, owner, currency string) (*models.SettlementInstruction, models.SettlementMethod, error) {
	ins, err := clients.GetInstructionTx(o.db.WithContext(ctx), id)
	if err != nil {
		return nil, "", err
	}
	if ins.ClientID != owner {
		return nil, "", errors.Invalid.Explain("instruction %s does not belong to %s", id, owner)
	}
	if !ins.Verified {
		return nil, "", errors.Invalid.Explain("instruction %s is not verified", id)
	}
	if !strings.EqualFold(ins.Currency, currency) {
		return nil, "", errors.Invalid.Explain("instruction %s is for %s, the leg settles %s", id, ins.Currency, currency)
	}
	method, err := MethodFor(ins.Type)
	if err != nil {
		return nil, "", err
	}
	if method != models.MethodCrypto {
		return ins, method, nil
	}

	screen, err := o.screener.Screen(ctx, ins.Address)
	if err != nil {
		return nil, "", err
	}
	if screen.Hit {
		o.logger.Warn("settlement destination is sanctioned",
			zap.String("client_id", owner),
			zap.String("instruction_id", id))
		return nil, "", errors.ComplianceRejected.
			Explain("destination of instruction %s is sanctioned", id).
			WithReason(errors.ReasonSanctionsHit)
	}
	ok, err := o.whitelist.IsWhitelisted(ctx, owner, ins.Currency, ins.Address, ins.Tag)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", errors.AddressNotWhitelisted.
			Explain("%s address of instruction %s is not whitelisted for %s", ins.Currency, id, owner)
	}
	return ins, method, nil
}

// GetSettlement loads a settlement by id.
func (o *Orchestrator) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	return getTx(o.db.WithContext(ctx), id)
}

func getTx(tx *gorm.DB, id string) (*models.Settlement, error) {
	var st models.Settlement
	if err := tx.Where("id = ?", id).First(&st).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("settlement %s not found", id)
		}
		return nil, err
	}
	return &st, nil
}

// ListSettlements lists settlements, optionally in one status, newest first.
func (o *Orchestrator) ListSettlements(ctx context.Context, status models.SettlementStatus) ([]models.Settlement, error) {
	q := o.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Settlement
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
