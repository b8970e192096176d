package api

import (
	"github.com/Aidin1998/otcdesk/api/responses"
	"github.com/Aidin1998/otcdesk/internal/compliance"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/gin-gonic/gin"
)

// POST /api/v1/compliance/check
// The decision is returned whether or not it approves; nothing is recorded.
func (s *Server) checkCompliance(c *gin.Context) {
	var req compliance.TransactionCheck
	if !s.bind(c, &req) {
		return
	}
	decision, err := s.svc.Compliance.CheckTransactionCompliance(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, decision)
}

// POST /api/v1/compliance/verify
func (s *Server) verifyUser(c *gin.Context) {
	var req struct {
		ClientID string                      `json:"client_id" binding:"required"`
		Kind     compliance.VerificationKind `json:"kind" binding:"required,oneof=email phone document"`
	}
	if !s.bind(c, &req) {
		return
	}
	client, err := s.svc.Compliance.VerifyUser(c.Request.Context(), req.ClientID, req.Kind)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, client, "Verification recorded")
}

// POST /api/v1/compliance/sanctions
func (s *Server) addSanction(c *gin.Context) {
	var req struct {
		Kind   models.SanctionKind `json:"kind" binding:"required,oneof=address domain"`
		Value  string              `json:"value" binding:"required"`
		Source string              `json:"source"`
	}
	if !s.bind(c, &req) {
		return
	}
	entry, err := s.svc.Compliance.Screener().AddSanction(c.Request.Context(), req.Kind, req.Value, req.Source)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Created(c, entry)
}
