package api

import (
	"github.com/Aidin1998/otcdesk/api/responses"
	"github.com/Aidin1998/otcdesk/internal/custody"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/gin-gonic/gin"
)

// POST /api/v1/custody/whitelist
func (s *Server) whitelistAddress(c *gin.Context) {
	var req custody.WhitelistRequest
	if !s.bind(c, &req) {
		return
	}
	entry, err := s.svc.Custody.WhitelistAddress(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Created(c, entry)
}

// GET /api/v1/custody/whitelist/:client_id
func (s *Server) listWhitelist(c *gin.Context) {
	list, err := s.svc.Custody.ListWhitelist(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.List(c, list)
}

// DELETE /api/v1/custody/whitelist/:client_id/:currency/:address?tag=
func (s *Server) removeWhitelistAddress(c *gin.Context) {
	err := s.svc.Custody.RemoveWhitelistAddress(c.Request.Context(),
		c.Param("client_id"), c.Param("currency"), c.Param("address"), c.Query("tag"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.NoContent(c)
}

// POST /api/v1/custody/withdrawals
// Withdrawals under the multisig threshold are broadcast before the
// response; larger ones wait in pending_approval.
func (s *Server) createWithdrawal(c *gin.Context) {
	var req custody.WithdrawalRequest
	if !s.bind(c, &req) {
		return
	}
	w, err := s.svc.Custody.ProcessWithdrawal(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if w.Status == models.WithdrawalPendingApproval {
		responses.Accepted(c, w, "Withdrawal awaiting approvals")
		return
	}
	responses.Created(c, w)
}

// GET /api/v1/custody/withdrawals?client_id=&status=
func (s *Server) listWithdrawals(c *gin.Context) {
	list, err := s.svc.Custody.ListWithdrawals(c.Request.Context(), c.Query("client_id"), models.WithdrawalStatus(c.Query("status")))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.List(c, list)
}

type withdrawalView struct {
	*models.Withdrawal
	Approvals []models.WithdrawalApproval `json:"approvals"`
}

// GET /api/v1/custody/withdrawals/:id
func (s *Server) getWithdrawal(c *gin.Context) {
	ctx := c.Request.Context()
	w, err := s.svc.Custody.GetWithdrawal(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	approvals, err := s.svc.Custody.Approvals(ctx, w.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if approvals == nil {
		approvals = []models.WithdrawalApproval{}
	}
	responses.Success(c, withdrawalView{Withdrawal: w, Approvals: approvals})
}

type signerDecision struct {
	SignerID string `json:"signer_id" binding:"required"`
	Code     string `json:"code" binding:"required,len=6,numeric"`
	Reason   string `json:"reason"`
}

// POST /api/v1/custody/withdrawals/:id/approve
func (s *Server) approveWithdrawal(c *gin.Context) {
	var req signerDecision
	if !s.bind(c, &req) {
		return
	}
	w, err := s.svc.Custody.ApproveWithdrawal(c.Request.Context(), c.Param("id"), req.SignerID, req.Code)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, w, "Approval recorded")
}

// POST /api/v1/custody/withdrawals/:id/reject
func (s *Server) rejectWithdrawal(c *gin.Context) {
	var req signerDecision
	if !s.bind(c, &req) {
		return
	}
	w, err := s.svc.Custody.RejectWithdrawal(c.Request.Context(), c.Param("id"), req.SignerID, req.Code, req.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, w, "Withdrawal rejected")
}

type enrolledSigner struct {
	Signer     *models.Signer `json:"signer"`
	Secret     string         `json:"secret"`
	OTPAuthURL string         `json:"otpauth_url"`
}

// POST /api/v1/custody/signers
// The TOTP secret is returned once, at enrolment.
func (s *Server) addSigner(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if !s.bind(c, &req) {
		return
	}
	signer, key, err := s.svc.Custody.AddSigner(c.Request.Context(), req.Name)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Created(c, enrolledSigner{Signer: signer, Secret: key.Secret(), OTPAuthURL: key.URL()})
}

// GET /api/v1/custody/signers
func (s *Server) listSigners(c *gin.Context) {
	list, err := s.svc.Custody.Signers(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.List(c, list)
}

// DELETE /api/v1/custody/signers/:id
func (s *Server) deactivateSigner(c *gin.Context) {
	if err := s.svc.Custody.DeactivateSigner(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	responses.NoContent(c)
}

// GET /api/v1/custody/accounts/:client_id
func (s *Server) listCustodyAccounts(c *gin.Context) {
	list, err := s.svc.Custody.Accounts(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.List(c, list)
}

// GET /api/v1/custody/wallets?tier=hot|cold
func (s *Server) walletBalances(c *gin.Context) {
	tier := models.WalletTier(c.DefaultQuery("tier", string(models.WalletHot)))
	if tier != models.WalletHot && tier != models.WalletCold {
		s.writeError(c, errors.Invalid.Explain("malformed query").WithField("oneof", "tier", "tier must be hot or cold"))
		return
	}
	list, err := s.svc.Custody.WalletBalances(c.Request.Context(), tier)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.List(c, list)
}

// GET /api/v1/custody/sweeps?currency=
func (s *Server) listSweeps(c *gin.Context) {
	if s.svc.Sweeper == nil {
		s.writeError(c, errors.NotFound.Explain("sweeping is not enabled"))
		return
	}
	list, err := s.svc.Sweeper.Sweeps(c.Request.Context(), c.Query("currency"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.List(c, list)
}

// POST /api/v1/custody/sweeps
// Runs one sweep pass outside the schedule.
func (s *Server) runSweep(c *gin.Context) {
	if s.svc.Sweeper == nil {
		s.writeError(c, errors.NotFound.Explain("sweeping is not enabled"))
		return
	}
	transfers, err := s.svc.Sweeper.Sweep(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.List(c, transfers)
}

// POST /api/v1/custody/deposits
func (s *Server) registerDeposit(c *gin.Context) {
	if s.svc.Deposits == nil {
		s.writeError(c, errors.NotFound.Explain("deposit tracking is not enabled"))
		return
	}
	var req custody.DepositRequest
	if !s.bind(c, &req) {
		return
	}
	dep, err := s.svc.Deposits.RegisterDeposit(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Created(c, dep)
}

// GET /api/v1/custody/deposits/:id
func (s *Server) getDeposit(c *gin.Context) {
	if s.svc.Deposits == nil {
		s.writeError(c, errors.NotFound.Explain("deposit tracking is not enabled"))
		return
	}
	dep, err := s.svc.Deposits.GetDeposit(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, dep)
}
