package api

import (
	"github.com/Aidin1998/otcdesk/api/responses"
	"github.com/Aidin1998/otcdesk/internal/settlement"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/gin-gonic/gin"
)

// POST /api/v1/settlements
func (s *Server) initiateSettlement(c *gin.Context) {
	var req settlement.Request
	if !s.bind(c, &req) {
		return
	}
	st, err := s.svc.Settlements.InitiateSettlement(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Created(c, st)
}

// GET /api/v1/settlements?status=
func (s *Server) listSettlements(c *gin.Context) {
	list, err := s.svc.Settlements.ListSettlements(c.Request.Context(), models.SettlementStatus(c.Query("status")))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.List(c, list)
}

// GET /api/v1/settlements/:id
func (s *Server) getSettlement(c *gin.Context) {
	st, err := s.svc.Settlements.GetSettlement(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, st)
}

// POST /api/v1/settlements/:id/process
func (s *Server) processSettlement(c *gin.Context) {
	st, err := s.svc.Settlements.ProcessSettlement(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, st, "Settlement submitted to rails")
}

// POST /api/v1/settlements/:id/confirm
func (s *Server) confirmSettlement(c *gin.Context) {
	var req struct {
		Side settlement.Side `json:"side" binding:"required,oneof=buyer seller"`
	}
	if !s.bind(c, &req) {
		return
	}
	st, err := s.svc.Settlements.ConfirmSettlement(c.Request.Context(), c.Param("id"), req.Side)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, st)
}

// POST /api/v1/settlements/:id/fail
func (s *Server) failSettlement(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if !s.bind(c, &req) {
		return
	}
	st, err := s.svc.Settlements.FailSettlement(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, st, "Settlement failed")
}
