package api

import (
	"github.com/Aidin1998/otcdesk/api/responses"
	"github.com/Aidin1998/otcdesk/internal/otc"
	"github.com/Aidin1998/otcdesk/internal/pricing"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/gin-gonic/gin"
)

// POST /api/v1/quotes
func (s *Server) requestQuote(c *gin.Context) {
	var req otc.QuoteRequest
	if !s.bind(c, &req) {
		return
	}
	quote, err := s.svc.Desk.RequestQuote(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Created(c, quote)
}

// GET /api/v1/quotes/:id
func (s *Server) getQuote(c *gin.Context) {
	quote, err := s.svc.Desk.GetQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, quote)
}

type pricedQuote struct {
	Quote   *models.Quote        `json:"quote"`
	Pricing *pricing.PriceResult `json:"pricing"`
}

// POST /api/v1/quotes/:id/price
func (s *Server) priceQuote(c *gin.Context) {
	quote, price, err := s.svc.Desk.PriceQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, pricedQuote{Quote: quote, Pricing: price}, "Quote priced")
}

type acceptedQuote struct {
	Quote *models.Quote `json:"quote"`
	Deal  *models.Deal  `json:"deal,omitempty"`
}

// POST /api/v1/quotes/:id/accept
func (s *Server) acceptQuote(c *gin.Context) {
	var req struct {
		CreateDeal bool `json:"create_deal"`
	}
	if c.Request.ContentLength > 0 && !s.bind(c, &req) {
		return
	}
	quote, deal, err := s.svc.Desk.AcceptQuote(c.Request.Context(), c.Param("id"), req.CreateDeal)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, acceptedQuote{Quote: quote, Deal: deal}, "Quote accepted")
}

// POST /api/v1/quotes/:id/cancel
func (s *Server) cancelQuote(c *gin.Context) {
	quote, err := s.svc.Desk.CancelQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, quote, "Quote cancelled")
}

// POST /api/v1/pricing/strategy
func (s *Server) executionStrategy(c *gin.Context) {
	var req pricing.StrategyRequest
	if !s.bind(c, &req) {
		return
	}
	strategy, err := s.svc.Desk.ExecutionStrategy(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, strategy)
}
