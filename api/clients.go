package api

import (
	"github.com/Aidin1998/otcdesk/api/responses"
	"github.com/Aidin1998/otcdesk/internal/clients"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/gin-gonic/gin"
)

// POST /api/v1/clients
func (s *Server) createClient(c *gin.Context) {
	var req clients.NewClient
	if !s.bind(c, &req) {
		return
	}
	client, err := s.svc.Clients.Create(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Created(c, client)
}

// GET /api/v1/clients/:id
func (s *Server) getClient(c *gin.Context) {
	client, err := s.svc.Clients.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, client)
}

// PUT /api/v1/clients/:id/tier
func (s *Server) updateClientTier(c *gin.Context) {
	var req struct {
		Tier models.ClientTier `json:"tier" binding:"required,oneof=retail professional institutional"`
	}
	if !s.bind(c, &req) {
		return
	}
	client, err := s.svc.Clients.UpdateTier(c.Request.Context(), c.Param("id"), req.Tier)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, client)
}

// POST /api/v1/clients/:id/deactivate
func (s *Server) deactivateClient(c *gin.Context) {
	client, err := s.svc.Clients.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, client, "Client deactivated")
}

// POST /api/v1/clients/:id/instructions
func (s *Server) addInstruction(c *gin.Context) {
	var req clients.NewInstruction
	if !s.bind(c, &req) {
		return
	}
	req.ClientID = c.Param("id")
	inst, err := s.svc.Clients.AddInstruction(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Created(c, inst)
}

// GET /api/v1/clients/:id/instructions
func (s *Server) listInstructions(c *gin.Context) {
	list, err := s.svc.Clients.ListInstructions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.List(c, list)
}

// GET /api/v1/instructions/:id
func (s *Server) getInstruction(c *gin.Context) {
	inst, err := s.svc.Clients.GetInstruction(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, inst)
}

// POST /api/v1/instructions/:id/verify
func (s *Server) verifyInstruction(c *gin.Context) {
	inst, err := s.svc.Clients.VerifyInstruction(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, inst, "Instruction verified")
}

// POST /api/v1/instructions/:id/default
func (s *Server) setDefaultInstruction(c *gin.Context) {
	inst, err := s.svc.Clients.SetDefault(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, inst)
}
