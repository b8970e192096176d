package api

import (
	"github.com/Aidin1998/otcdesk/api/responses"
	"github.com/Aidin1998/otcdesk/internal/otc"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/Aidin1998/otcdesk/pkg/validation"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// POST /api/v1/deals
func (s *Server) createDeal(c *gin.Context) {
	var req otc.NewDeal
	if !s.bind(c, &req) {
		return
	}
	deal, err := s.svc.Desk.CreateDeal(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Created(c, deal)
}

// GET /api/v1/deals?client_id=&status=&asset=&min_amount=&max_amount=&visibility=&limit=&offset=
func (s *Server) listDeals(c *gin.Context) {
	var f otc.DealFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		s.writeError(c, validation.Errors(err))
		return
	}
	var err error
	if f.MinAmount, err = queryDecimal(c, "min_amount"); err != nil {
		s.writeError(c, err)
		return
	}
	if f.MaxAmount, err = queryDecimal(c, "max_amount"); err != nil {
		s.writeError(c, err)
		return
	}
	deals, err := s.svc.Desk.ListDeals(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.List(c, deals)
}

// queryDecimal parses an optional decimal query parameter.
func queryDecimal(c *gin.Context, name string) (decimal.NullDecimal, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, errors.Invalid.Explain("malformed query").
			WithField("decimal", name, "must be a decimal number")
	}
	return decimal.NewNullDecimal(d), nil
}

// GET /api/v1/deals/:id
func (s *Server) getDeal(c *gin.Context) {
	deal, err := s.svc.Desk.GetDeal(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, deal)
}

// POST /api/v1/deals/:id/match
// An empty body or counterparty fills the deal from the house pool.
func (s *Server) matchDeal(c *gin.Context) {
	var req struct {
		CounterpartyID string `json:"counterparty_id"`
	}
	if c.Request.ContentLength > 0 && !s.bind(c, &req) {
		return
	}
	deal, err := s.svc.Desk.MatchDeal(c.Request.Context(), c.Param("id"), req.CounterpartyID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, deal, "Deal matched")
}

// POST /api/v1/deals/:id/cancel
func (s *Server) cancelDeal(c *gin.Context) {
	deal, err := s.svc.Desk.CancelDeal(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, deal, "Deal cancelled")
}

// POST /api/v1/block-trades
func (s *Server) createBlockTrade(c *gin.Context) {
	var req otc.NewBlockTrade
	if !s.bind(c, &req) {
		return
	}
	block, err := s.svc.Desk.CreateBlockTrade(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Created(c, block)
}

// GET /api/v1/block-trades/:id
func (s *Server) getBlockTrade(c *gin.Context) {
	block, err := s.svc.Desk.GetBlockTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, block)
}

// POST /api/v1/block-trades/:id/execute
func (s *Server) executeBlockTrade(c *gin.Context) {
	block, err := s.svc.Desk.ExecuteBlockTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, block, "Block trade executing")
}

type poolRequest struct {
	BaseCurrency  string          `json:"base_currency" binding:"required,currency_code"`
	QuoteCurrency string          `json:"quote_currency" binding:"required,currency_code"`
	BaseAmount    decimal.Decimal `json:"base_amount" binding:"gte=0"`
	QuoteAmount   decimal.Decimal `json:"quote_amount" binding:"gte=0"`
	BaseCapacity  decimal.Decimal `json:"base_capacity"`
	BidSpread     decimal.Decimal `json:"bid_spread" binding:"gte=0"`
	AskSpread     decimal.Decimal `json:"ask_spread" binding:"gte=0"`
	MinTradeSize  decimal.Decimal `json:"min_trade_size" binding:"gte=0"`
	MaxTradeSize  decimal.Decimal `json:"max_trade_size" binding:"gte=0"`
}

// POST /api/v1/pools
func (s *Server) createPool(c *gin.Context) {
	var req poolRequest
	if !s.bind(c, &req) {
		return
	}
	pool := &models.LiquidityPool{
		BaseCurrency:  req.BaseCurrency,
		QuoteCurrency: req.QuoteCurrency,
		BaseAmount:    req.BaseAmount,
		QuoteAmount:   req.QuoteAmount,
		BaseCapacity:  req.BaseCapacity,
		BidSpread:     req.BidSpread,
		AskSpread:     req.AskSpread,
		MinTradeSize:  req.MinTradeSize,
		MaxTradeSize:  req.MaxTradeSize,
	}
	if err := s.svc.Desk.Repository().CreateLiquidityPool(c.Request.Context(), pool); err != nil {
		s.writeError(c, err)
		return
	}
	responses.Created(c, pool)
}

// GET /api/v1/pools
func (s *Server) listPools(c *gin.Context) {
	pools, err := s.svc.Desk.Repository().ListPools(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.List(c, pools)
}

// GET /api/v1/pools/:id
func (s *Server) getPool(c *gin.Context) {
	pool, err := s.svc.Desk.Repository().GetPool(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, pool)
}
