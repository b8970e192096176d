package custody

import (
	"context"
	"strconv"
	"strings"

	"github.com/Aidin1998/otcdesk/internal/compliance"
	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/internal/messaging"
	"github.com/Aidin1998/otcdesk/internal/rails"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/ids"
	"github.com/Aidin1998/otcdesk/pkg/metrics"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const totpIssuer = "OTC Desk"

var withdrawalTransitions = map[models.WithdrawalStatus][]models.WithdrawalStatus{
	models.WithdrawalPendingApproval: {models.WithdrawalApproved, models.WithdrawalRejected},
	models.WithdrawalApproved:        {models.WithdrawalBroadcasted, models.WithdrawalFailed},
}

func checkWithdrawal(w *models.Withdrawal, to models.WithdrawalStatus) error {
	for _, next := range withdrawalTransitions[w.Status] {
		if next == to {
			return nil
		}
	}
	return errors.InvalidStateTransition.
		Explain("withdrawal %s cannot move from %s to %s", w.ID, w.Status, to).
		WithDetail("from", string(w.Status)).
		WithDetail("to", string(to))
}

// WithdrawalRequest asks to move custody funds to a whitelisted address.
type WithdrawalRequest struct {
	ClientID string          `json:"client_id" binding:"required"`
	Currency string          `json:"currency" binding:"required,currency_code"`
	Amount   decimal.Decimal `json:"amount" binding:"gt=0"`
	Address  string          `json:"address" binding:"required"`
	Tag      string          `json:"tag,omitempty"`
}

// ProcessWithdrawal accepts a withdrawal after the whitelist, compliance and
// balance checks, in that order. At or above the multisig threshold the
// withdrawal waits for signer approvals; below it the funds are broadcast at once.
func (s *Service) ProcessWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.Withdrawal, error) {
	currency := strings.ToUpper(req.Currency)
	if !req.Amount.IsPositive() {
		return nil, errors.Invalid.Explain("withdrawal amount must be positive")
	}
	address := canonicalAddress(currency, req.Address)
	tag := canonicalTag(currency, req.Tag)

	ok, err := s.IsWhitelisted(ctx, req.ClientID, currency, address, tag)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.Withdrawals.WithLabelValues("not_whitelisted").Inc()
		e := errors.AddressNotWhitelisted.
			Explain("%s address %s is not whitelisted for %s", currency, address, req.ClientID).
			WithDetail("address", address)
		if addressRules[currency].requiresTag {
			e = e.WithDetail("tag", tag)
		}
		return nil, e
	}

	check := compliance.TransactionCheck{
		ClientID:    req.ClientID,
		Type:        models.TxWithdrawal,
		Amount:      req.Amount,
		Currency:    currency,
		Destination: address,
	}
	w := &models.Withdrawal{
		ID:       ids.Withdrawal(),
		ClientID: req.ClientID,
		Currency: currency,
		Amount:   req.Amount,
		Address:  address,
		Tag:      tag,
		Status:   models.WithdrawalApproved,
		Version:  1,
	}
	var multisig bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		decision, err := s.gate.AuthorizeTx(tx, check, w.ID)
		if err != nil {
			return err
		}
		w.AmountUSD = decision.AmountUSD
		w.ReviewFlag = decision.AmountUSD.GreaterThan(s.policy.SmallWithdrawalCapUSD)
		multisig = decision.AmountUSD.GreaterThanOrEqual(s.policy.MultisigThresholdUSD)
		if multisig {
			w.Status = models.WithdrawalPendingApproval
			w.RequiredSignatures = s.policy.RequiredSignatures
		}
		if _, err := lockTx(tx, w.ClientID, currency, w.Amount); err != nil {
			return err
		}
		return tx.Create(w).Error
	})
	if err != nil {
		switch {
		case errors.Is(err, errors.ComplianceRejected):
			metrics.Withdrawals.WithLabelValues("compliance_rejected").Inc()
		case errors.Is(err, errors.InsufficientBalance):
			metrics.Withdrawals.WithLabelValues("insufficient_balance").Inc()
		}
		return nil, err
	}

	if w.ReviewFlag {
		s.logger.Warn("withdrawal flagged for review",
			zap.String("withdrawal_id", w.ID),
			zap.String("client_id", w.ClientID),
			zap.String("amount_usd", w.AmountUSD.String()))
	}
	s.logger.Info("withdrawal accepted",
		zap.String("withdrawal_id", w.ID),
		zap.String("client_id", w.ClientID),
		zap.String("currency", currency),
		zap.String("amount", w.Amount.String()),
		zap.String("status", string(w.Status)))
	metrics.Withdrawals.WithLabelValues(string(w.Status)).Inc()
	s.emitter.Emit(ctx, messaging.TopicCustody, w.ID, EventWithdrawalRequested, w)

	if multisig {
		return w, nil
	}
	return s.broadcast(ctx, w)
}

// broadcast sends an approved withdrawal through the crypto rail. A rail
// failure fails the withdrawal and releases the lock.
func (s *Service) broadcast(ctx context.Context, w *models.Withdrawal) (*models.Withdrawal, error) {
	receipt, railErr := s.gateway.Submit(ctx, rails.Transfer{
		Method:      models.MethodCrypto,
		Reference:   w.ID,
		Amount:      w.Amount,
		Currency:    w.Currency,
		Destination: w.Address,
		Tag:         w.Tag,
		Memo:        "withdrawal " + w.ID,
	})

	to := models.WithdrawalBroadcasted
	updates := map[string]any{"status": to}
	if railErr != nil {
		to = models.WithdrawalFailed
		updates = map[string]any{"status": to, "failure_reason": railErr.Error()}
	} else {
		updates["tx_id"] = receipt.ReferenceID
		updates["reference"] = receipt.ReferenceID
	}
	if err := checkWithdrawal(w, to); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.UpdateVersioned(tx, &models.Withdrawal{}, w.Version, updates,
			"id = ? AND status = ?", w.ID, w.Status); err != nil {
			return err
		}
		if railErr != nil {
			return releaseTx(tx, w.ClientID, w.Currency, w.Amount)
		}
		return settleLockTx(tx, w.ClientID, w.Currency, w.Amount)
	})
	if err != nil {
		return nil, err
	}
	w.Status = to
	w.Version++
	metrics.Withdrawals.WithLabelValues(string(to)).Inc()

	if railErr != nil {
		w.FailureReason = railErr.Error()
		s.logger.Error("withdrawal broadcast failed",
			zap.String("withdrawal_id", w.ID),
			zap.Error(railErr))
		s.emitter.Emit(ctx, messaging.TopicCustody, w.ID, EventWithdrawalFailed, w)
		return w, railErr
	}
	w.TxID = receipt.ReferenceID
	w.Reference = receipt.ReferenceID
	s.logger.Info("withdrawal broadcast",
		zap.String("withdrawal_id", w.ID),
		zap.String("tx_id", w.TxID))
	s.emitter.Emit(ctx, messaging.TopicCustody, w.ID, EventWithdrawalBroadcasted, w)
	return w, nil
}

// GetWithdrawal loads a withdrawal by id.
func (s *Service) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	return getWithdrawalTx(s.db.WithContext(ctx), id)
}

func getWithdrawalTx(tx *gorm.DB, id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := tx.First(&w, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("withdrawal %s not found", id)
		}
		return nil, err
	}
	return &w, nil
}

// ListWithdrawals returns the client's withdrawals, newest first. An empty
// status matches all.
func (s *Service) ListWithdrawals(ctx context.Context, clientID string, status models.WithdrawalStatus) ([]models.Withdrawal, error) {
	q := s.db.WithContext(ctx).Model(&models.Withdrawal{})
	if clientID != "" {
		q = q.Where("client_id = ?", clientID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Withdrawal
	if err := q.Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Approvals returns the signer approvals collected for a withdrawal.
func (s *Service) Approvals(ctx context.Context, withdrawalID string) ([]models.WithdrawalApproval, error) {
	var out []models.WithdrawalApproval
	if err := s.db.WithContext(ctx).Where("withdrawal_id = ?", withdrawalID).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ApproveWithdrawal records one signer's approval, authenticated with the
// signer's current TOTP code. The approval that reaches the required count
// moves the withdrawal to approved and broadcasts it.
func (s *Service) ApproveWithdrawal(ctx context.Context, id, signerID, code string) (*models.Withdrawal, error) {
	signer, err := s.authenticate(ctx, signerID, code)
	if err != nil {
		return nil, err
	}

	var (
		reached bool
		count   int64
		w       *models.Withdrawal
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if w, err = getWithdrawalTx(tx, id); err != nil {
			return err
		}
		if w.Status != models.WithdrawalPendingApproval {
			return errors.InvalidStateTransition.
				Explain("withdrawal %s is %s, not awaiting approval", w.ID, w.Status).
				WithDetail("from", string(w.Status))
		}
		err = tx.Create(&models.WithdrawalApproval{WithdrawalID: w.ID, SignerID: signer.ID, CreatedAt: s.now()}).Error
		if database.IsDuplicate(err) {
			return errors.Conflict.Explain("signer %s already approved withdrawal %s", signer.ID, w.ID)
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&models.WithdrawalApproval{}).Where("withdrawal_id = ?", w.ID).Count(&count).Error; err != nil {
			return err
		}
		if int(count) < w.RequiredSignatures {
			return nil
		}
		if err := checkWithdrawal(w, models.WithdrawalApproved); err != nil {
			return err
		}
		if err := database.UpdateVersioned(tx, &models.Withdrawal{}, w.Version,
			map[string]any{"status": models.WithdrawalApproved},
			"id = ? AND status = ?", w.ID, models.WithdrawalPendingApproval); err != nil {
			return err
		}
		w.Status = models.WithdrawalApproved
		w.Version++
		reached = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal approval recorded",
		zap.String("withdrawal_id", w.ID),
		zap.String("signer_id", signer.ID),
		zap.String("approvals", approvalsLabel(int(count), w.RequiredSignatures)))
	if !reached {
		return w, nil
	}
	metrics.Withdrawals.WithLabelValues(string(models.WithdrawalApproved)).Inc()
	s.emitter.Emit(ctx, messaging.TopicCustody, w.ID, EventWithdrawalApproved, w)
	return s.broadcast(ctx, w)
}

// RejectWithdrawal cancels a withdrawal awaiting approval and releases its funds.
func (s *Service) RejectWithdrawal(ctx context.Context, id, signerID, code, reason string) (*models.Withdrawal, error) {
	signer, err := s.authenticate(ctx, signerID, code)
	if err != nil {
		return nil, err
	}

	var w *models.Withdrawal
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if w, err = getWithdrawalTx(tx, id); err != nil {
			return err
		}
		if err := checkWithdrawal(w, models.WithdrawalRejected); err != nil {
			return err
		}
		if err := database.UpdateVersioned(tx, &models.Withdrawal{}, w.Version,
			map[string]any{"status": models.WithdrawalRejected, "failure_reason": reason},
			"id = ? AND status = ?", w.ID, w.Status); err != nil {
			return err
		}
		return releaseTx(tx, w.ClientID, w.Currency, w.Amount)
	})
	if err != nil {
		return nil, err
	}
	w.Status = models.WithdrawalRejected
	w.FailureReason = reason
	w.Version++

	s.logger.Info("withdrawal rejected",
		zap.String("withdrawal_id", w.ID),
		zap.String("signer_id", signer.ID),
		zap.String("reason", reason))
	metrics.Withdrawals.WithLabelValues(string(models.WithdrawalRejected)).Inc()
	s.emitter.Emit(ctx, messaging.TopicCustody, w.ID, EventWithdrawalRejected, w)
	return w, nil
}

func (s *Service) authenticate(ctx context.Context, signerID, code string) (*models.Signer, error) {
	var signer models.Signer
	if err := s.db.WithContext(ctx).First(&signer, "id = ?", signerID).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("signer %s not found", signerID)
		}
		return nil, err
	}
	if !signer.Active {
		return nil, errors.Invalid.Explain("signer %s is deactivated", signer.ID)
	}
	if !totp.Validate(code, signer.TOTPSecret) {
		s.logger.Warn("invalid signer code", zap.String("signer_id", signer.ID))
		return nil, errors.Invalid.Explain("invalid one-time code for signer %s", signer.ID).WithField("invalid", "code", "")
	}
	return &signer, nil
}

// AddSigner enrolls an approver and returns the TOTP key to provision on
// the signer's authenticator.
func (s *Service) AddSigner(ctx context.Context, name string) (*models.Signer, *otp.Key, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, errors.Invalid.Explain("signer name is required")
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: name,
		SecretSize:  32,
	})
	if err != nil {
		return nil, nil, err
	}
	signer := &models.Signer{
		ID:         ids.Signer(),
		Name:       name,
		TOTPSecret: key.Secret(),
		Active:     true,
	}
	if err := s.db.WithContext(ctx).Create(signer).Error; err != nil {
		return nil, nil, err
	}
	s.logger.Info("signer enrolled", zap.String("signer_id", signer.ID), zap.String("name", name))
	return signer, key, nil
}

// DeactivateSigner stops a signer from approving. Approvals already given stand.
func (s *Service) DeactivateSigner(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Signer{}).Where("id = ? AND active = ?", id, true).Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.NotFound.Explain("active signer %s not found", id)
	}
	s.logger.Info("signer deactivated", zap.String("signer_id", id))
	return nil
}

// Signers returns active signers.
func (s *Service) Signers(ctx context.Context) ([]models.Signer, error) {
	var out []models.Signer
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("name").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func approvalsLabel(n, required int) string {
	return strconv.Itoa(n) + "/" + strconv.Itoa(required)
}
