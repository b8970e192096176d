package settlement

import (
	"context"
	"fmt"

	"github.com/Aidin1998/otcdesk/internal/clients"
	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/internal/messaging"
	"github.com/Aidin1998/otcdesk/internal/otc"
	"github.com/Aidin1998/otcdesk/internal/rails"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/metrics"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var active = []models.SettlementStatus{models.SettlementProcessing, models.SettlementConfirming}

// ProcessSettlement submits both legs to the rails, each to the receiving
// party's instruction. A rail failure fails the settlement and is returned;
// the side statuses keep their last value.
func (o *Orchestrator) ProcessSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	st, err := o.GetSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Status != models.SettlementPending {
		return nil, errors.InvalidStateTransition.Explain("settlement %s is %s, only pending settlements are processed", id, st.Status)
	}
	if err := database.UpdateVersioned(o.db.WithContext(ctx), &models.Settlement{}, st.Version,
		map[string]any{"status": models.SettlementProcessing}, "id = ? AND status = ?", id, models.SettlementPending); err != nil {
		return nil, err
	}
	metrics.SettlementTransitions.WithLabelValues(string(models.SettlementProcessing)).Inc()

	legs := []struct {
		side          Side
		suffix        string
		instructionID string
		method        models.SettlementMethod
		amount        decimal.Decimal
		currency      string
	}{
		{SideBuyer, "BUY", st.BuyerInstructionID, st.BuyerMethod, st.BuyerAmount, st.BuyerCurrency},
		{SideSeller, "SELL", st.SellerInstructionID, st.SellerMethod, st.SellerAmount, st.SellerCurrency},
	}
	for _, leg := range legs {
		ins, err := clients.GetInstructionTx(o.db.WithContext(ctx), leg.instructionID)
		if err != nil {
			return nil, o.failAfterRail(ctx, id, err)
		}
		// The side is initiated under its idempotency key before the rail sees
		// it, so a confirmation racing the receipt finds it initiated.
		ref := id + "-" + leg.suffix
		refCol := string(leg.side) + "_reference"
		n, err := o.setSide(o.db.WithContext(ctx), id, leg.side,
			[]models.SideStatus{models.SidePending}, models.SideInitiated,
			map[string]any{refCol: ref})
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errors.ConcurrentModification.Explain("settlement %s changed before submitting the %s leg", id, leg.side)
		}
		receipt, err := o.rails.Submit(ctx, rails.Transfer{
			Method:      leg.method,
			Reference:   ref,
			Amount:      leg.amount,
			Currency:    leg.currency,
			Destination: ins.Destination(),
			Tag:         ins.Tag,
			Memo:        fmt.Sprintf("%s %s %s", id, st.SourceType, st.SourceID),
		})
		if err != nil {
			return nil, o.failAfterRail(ctx, id, err)
		}
		if receipt.ReferenceID != "" && receipt.ReferenceID != ref {
			if err := o.db.WithContext(ctx).Model(&models.Settlement{}).
				Where("id = ? AND "+refCol+" = ?", id, ref).
				Updates(map[string]any{
					refCol:       receipt.ReferenceID,
					"version":    gorm.Expr("version + 1"),
					"updated_at": o.now(),
				}).Error; err != nil {
				return nil, err
			}
		}
		o.logger.Info("settlement leg submitted",
			zap.String("settlement_id", id),
			zap.String("side", string(leg.side)),
			zap.String("method", string(leg.method)),
			zap.String("amount", leg.amount.String()),
			zap.String("currency", leg.currency),
			zap.String("rail_reference", receipt.ReferenceID))
	}
	return o.GetSettlement(ctx, id)
}

func (o *Orchestrator) failAfterRail(ctx context.Context, id string, cause error) error {
	if _, err := o.FailSettlement(ctx, id, cause.Error()); err != nil {
		o.logger.Error("failed to fail settlement after rail error",
			zap.String("settlement_id", id),
			zap.NamedError("rail_error", cause),
			zap.Error(err))
	}
	return cause
}

// ConfirmSettlement records the rail confirmation of one side. Confirming an
// already confirmed side is a no-op. When both sides are confirmed the
// settlement moves to confirming exactly once and completion is scheduled.
func (o *Orchestrator) ConfirmSettlement(ctx context.Context, id string, side Side) (*models.Settlement, error) {
	if side != SideBuyer && side != SideSeller {
		return nil, errors.Invalid.Explain("side must be buyer or seller")
	}
	db := o.db.WithContext(ctx)
	n, err := o.setSide(db, id, side, []models.SideStatus{models.SideInitiated}, models.SideConfirmed, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		st, err := getTx(db, id)
		if err != nil {
			return nil, err
		}
		if status := sideStatus(st, side); status == models.SideConfirmed || status == models.SideCompleted {
			return st, nil
		}
		return nil, errors.InvalidStateTransition.
			Explain("cannot confirm %s side of settlement %s (%s, side %s)", side, id, st.Status, sideStatus(st, side))
	}

	res := db.Model(&models.Settlement{}).
		Where("id = ? AND status = ? AND buyer_status = ? AND seller_status = ?",
			id, models.SettlementProcessing, models.SideConfirmed, models.SideConfirmed).
		Updates(map[string]any{
			"status":     models.SettlementConfirming,
			"version":    gorm.Expr("version + 1"),
			"updated_at": o.now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	st, err := getTx(db, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 1 {
		metrics.SettlementTransitions.WithLabelValues(string(models.SettlementConfirming)).Inc()
		o.events.Emit(ctx, messaging.TopicSettlements, id, EventConfirmed, st)
		o.scheduleCompletion(id)
		o.logger.Info("settlement confirming", zap.String("settlement_id", id))
	}
	return st, nil
}

func (o *Orchestrator) scheduleCompletion(id string) {
	o.scheduler.Schedule(id, func(ctx context.Context, id string) error {
		_, err := o.CompleteSettlement(ctx, id)
		return err
	})
}

// Resume schedules completion for every confirming settlement. Timers do not
// survive a restart, so this runs once at startup.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	var ids []string
	if err := o.db.WithContext(ctx).Model(&models.Settlement{}).
		Where("status = ?", models.SettlementConfirming).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	for _, id := range ids {
		o.scheduleCompletion(id)
	}
	if len(ids) > 0 {
		o.logger.Info("resumed confirming settlements", zap.Int("count", len(ids)))
	}
	return len(ids), nil
}

// CompleteSettlement finalizes a confirming settlement, repays drawn credit
// and completes the source, all in one transaction.
func (o *Orchestrator) CompleteSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	var st *models.Settlement
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		st, err = getTx(tx, id)
		if err != nil {
			return err
		}
		if st.Status != models.SettlementConfirming {
			return errors.InvalidStateTransition.Explain("settlement %s is %s, only confirming settlements complete", id, st.Status)
		}
		now := o.now()
		if err := database.UpdateVersioned(tx, &models.Settlement{}, st.Version, map[string]any{
			"status":            models.SettlementCompleted,
			"buyer_status":      models.SideCompleted,
			"seller_status":     models.SideCompleted,
			"actual_completion": now,
		}, "id = ? AND status = ?", id, models.SettlementConfirming); err != nil {
			return err
		}
		if st.CreditDrawn.IsPositive() {
			if _, err := o.ledger.RepayTx(tx, st.BuyerID, st.FeeCurrency, st.CreditDrawn); err != nil {
				return err
			}
		}
		if err := o.advanceSource(ctx, o.trades.WithTx(tx), st, models.SettlementCompleted); err != nil {
			return err
		}
		st, err = getTx(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.scheduler.Cancel(id)
	metrics.SettlementTransitions.WithLabelValues(string(models.SettlementCompleted)).Inc()
	o.events.Emit(ctx, messaging.TopicSettlements, id, EventCompleted, st)
	o.logger.Info("settlement completed", zap.String("settlement_id", id), zap.Timep("actual_completion", st.ActualCompletion))
	return st, nil
}

// FailSettlement fails a non-terminal settlement, releases drawn credit and
// unwinds the source. The record is kept with its side statuses.
func (o *Orchestrator) FailSettlement(ctx context.Context, id, reason string) (*models.Settlement, error) {
	var st *models.Settlement
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		st, err = getTx(tx, id)
		if err != nil {
			return err
		}
		if st.Status.Terminal() {
			return errors.InvalidStateTransition.Explain("settlement %s is already %s", id, st.Status)
		}
		if err := database.UpdateVersioned(tx, &models.Settlement{}, st.Version, map[string]any{
			"status":         models.SettlementFailed,
			"failure_reason": reason,
		}, "id = ? AND status = ?", id, st.Status); err != nil {
			return err
		}
		if st.CreditDrawn.IsPositive() {
			if _, err := o.ledger.RepayTx(tx, st.BuyerID, st.FeeCurrency, st.CreditDrawn); err != nil {
				return err
			}
		}
		if err := o.advanceSource(ctx, o.trades.WithTx(tx), st, models.SettlementFailed); err != nil {
			return err
		}
		st, err = getTx(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.scheduler.Cancel(id)
	metrics.SettlementTransitions.WithLabelValues(string(models.SettlementFailed)).Inc()
	o.events.Emit(ctx, messaging.TopicSettlements, id, EventFailed, st)
	o.logger.Warn("settlement failed", zap.String("settlement_id", id), zap.String("reason", reason))
	return st, nil
}

// advanceSource moves the settled deal or block trade in step with the
// settlement reaching status.
func (o *Orchestrator) advanceSource(ctx context.Context, repo *otc.Repository, st *models.Settlement, status models.SettlementStatus) error {
	switch st.SourceType {
	case models.SourceDeal:
		var to models.DealStatus
		switch status {
		case models.SettlementPending:
			to = models.DealExecuting
		case models.SettlementCompleted:
			to = models.DealCompleted
		case models.SettlementFailed:
			to = models.DealCancelled
		default:
			return nil
		}
		_, err := repo.UpdateDealStatus(ctx, st.SourceID, to, nil)
		return err
	case models.SourceBlockTrade:
		var to models.BlockTradeStatus
		switch status {
		case models.SettlementPending:
			b, err := repo.GetBlockTrade(ctx, st.SourceID)
			if err != nil {
				return err
			}
			if b.Status == models.BlockExecuting {
				return nil
			}
			to = models.BlockExecuting
		case models.SettlementCompleted:
			to = models.BlockCompleted
		case models.SettlementFailed:
			to = models.BlockFailed
		default:
			return nil
		}
		_, err := repo.UpdateBlockTradeStatus(ctx, st.SourceID, to)
		return err
	}
	return errors.Invalid.Explain("unknown settlement source %q", st.SourceType)
}

// setSide conditionally moves one side from one of from to to while the
// settlement is active or, for initiation, processing.
func (o *Orchestrator) setSide(tx *gorm.DB, id string, side Side, from []models.SideStatus, to models.SideStatus, extra map[string]any) (int64, error) {
	col := string(side) + "_status"
	values := map[string]any{
		col:          to,
		"version":    gorm.Expr("version + 1"),
		"updated_at": o.now(),
	}
	for k, v := range extra {
		values[k] = v
	}
	res := tx.Model(&models.Settlement{}).
		Where("id = ?", id).
		Where(col+" IN ?", from).
		Where("status IN ?", active).
		Updates(values)
	return res.RowsAffected, res.Error
}

func sideStatus(st *models.Settlement, side Side) models.SideStatus {
	if side == SideBuyer {
		return st.BuyerStatus
	}
	return st.SellerStatus
}
