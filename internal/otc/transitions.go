package otc

import (
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
)

var dealTransitions = map[models.DealStatus][]models.DealStatus{
	models.DealPending:   {models.DealMatched, models.DealCancelled},
	models.DealMatched:   {models.DealExecuting, models.DealCancelled},
	models.DealExecuting: {models.DealCompleted, models.DealCancelled},
}

var quoteTransitions = map[models.QuoteStatus][]models.QuoteStatus{
	models.QuotePending: {models.QuoteQuoted, models.QuoteExpired, models.QuoteCancelled},
	models.QuoteQuoted:  {models.QuoteAccepted, models.QuoteExpired, models.QuoteCancelled},
}

var blockTransitions = map[models.BlockTradeStatus][]models.BlockTradeStatus{
	models.BlockPending:   {models.BlockExecuting},
	models.BlockExecuting: {models.BlockCompleted, models.BlockFailed},
}

func allowed[S ~string](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkDeal(d *models.Deal, to models.DealStatus) error {
	if !allowed(dealTransitions, d.Status, to) {
		return errors.InvalidStateTransition.
			Explain("deal %s cannot move from %s to %s", d.ID, d.Status, to).
			WithDetail("from", string(d.Status)).
			WithDetail("to", string(to))
	}
	return nil
}

func checkQuote(q *models.Quote, to models.QuoteStatus) error {
	if !allowed(quoteTransitions, q.Status, to) {
		return errors.InvalidStateTransition.
			Explain("quote %s cannot move from %s to %s", q.ID, q.Status, to).
			WithDetail("from", string(q.Status)).
			WithDetail("to", string(to))
	}
	return nil
}

func checkBlock(b *models.BlockTrade, to models.BlockTradeStatus) error {
	if !allowed(blockTransitions, b.Status, to) {
		return errors.InvalidStateTransition.
			Explain("block trade %s cannot move from %s to %s", b.ID, b.Status, to).
			WithDetail("from", string(b.Status)).
			WithDetail("to", string(to))
	}
	return nil
}
