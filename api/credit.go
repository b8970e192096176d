package api

import (
	"github.com/Aidin1998/otcdesk/api/responses"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// GET /api/v1/credit/:client_id
func (s *Server) creditUtilization(c *gin.Context) {
	u, err := s.svc.Credit.GetUtilization(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, u)
}

// POST /api/v1/credit/:client_id/extend
// A negative delta shrinks the line.
func (s *Server) extendCredit(c *gin.Context) {
	var req struct {
		Currency string          `json:"currency" binding:"required,currency_code"`
		Delta    decimal.Decimal `json:"delta" binding:"ne=0"`
	}
	if !s.bind(c, &req) {
		return
	}
	line, err := s.svc.Credit.ExtendCreditLine(c.Request.Context(), c.Param("client_id"), req.Currency, req.Delta)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, line, "Credit line updated")
}
