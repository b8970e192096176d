package clients

import (
	"context"
	"strings"

	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/ids"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxDefaultAttempts = 3

// NewInstruction registers a standing settlement instruction.
type NewInstruction struct {
	ClientID      string                 `json:"client_id"`
	Currency      string                 `json:"currency" binding:"required,currency_code"`
	Type          models.InstructionType `json:"type" binding:"required,oneof=crypto_wallet bank_wire swift fedwire"`
	Address       string                 `json:"address"`
	Tag           string                 `json:"tag"`
	BankName      string                 `json:"bank_name"`
	AccountNumber string                 `json:"account_number"`
	RoutingCode   string                 `json:"routing_code"`
	IsDefault     bool                   `json:"is_default"`
}

func (r NewInstruction) validate() error {
	switch r.Type {
	case models.InstructionCryptoWallet:
		if r.Address == "" {
			return errors.Invalid.Explain("crypto_wallet instructions need an address")
		}
	case models.InstructionBankWire, models.InstructionSWIFT, models.InstructionFedwire:
		if r.AccountNumber == "" || r.RoutingCode == "" {
			return errors.Invalid.Explain("%s instructions need an account number and routing code", r.Type)
		}
	default:
		return errors.UnsupportedRail.Explain("unknown instruction type %q", r.Type)
	}
	if r.Currency == "" {
		return errors.Invalid.Explain("currency is required")
	}
	return nil
}

// AddInstruction stores an unverified instruction. The first instruction
// for a currency becomes the default; a new default demotes the old one.
func (s *Service) AddInstruction(ctx context.Context, req NewInstruction) (*models.SettlementInstruction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if _, err := s.GetActive(ctx, req.ClientID); err != nil {
		return nil, err
	}

	ins := &models.SettlementInstruction{
		ID:            ids.Instruction(),
		ClientID:      req.ClientID,
		Currency:      strings.ToUpper(req.Currency),
		Type:          req.Type,
		Address:       strings.TrimSpace(req.Address),
		Tag:           req.Tag,
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		RoutingCode:   req.RoutingCode,
		IsDefault:     req.IsDefault,
		Version:       1,
	}
	// idx_ssi_one_default admits one default per client and currency. A
	// writer that loses the race retries and sees the winner's row.
	var err error
	for attempt := 1; attempt <= maxDefaultAttempts; attempt++ {
		ins.IsDefault = req.IsDefault
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing int64
			if err := tx.Model(&models.SettlementInstruction{}).
				Where("client_id = ? AND currency = ?", ins.ClientID, ins.Currency).
				Count(&existing).Error; err != nil {
				return err
			}
			if existing == 0 {
				ins.IsDefault = true
			}
			if ins.IsDefault {
				if err := clearDefault(tx, ins.ClientID, ins.Currency); err != nil {
					return err
				}
			}
			return tx.Create(ins).Error
		})
		if !database.IsDuplicate(err) {
			break
		}
		s.logger.Debug("default instruction raced, retrying",
			zap.String("client_id", ins.ClientID),
			zap.String("currency", ins.Currency),
			zap.Int("attempt", attempt))
	}
	if database.IsDuplicate(err) {
		return nil, errors.ConcurrentModification.Explain("default %s instruction of %s changed concurrently", ins.Currency, ins.ClientID)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("settlement instruction added",
		zap.String("client_id", ins.ClientID),
		zap.String("instruction_id", ins.ID),
		zap.String("type", string(ins.Type)),
		zap.Bool("default", ins.IsDefault))
	return ins, nil
}

// VerifyInstruction marks an instruction as verified by operations.
func (s *Service) VerifyInstruction(ctx context.Context, id string) (*models.SettlementInstruction, error) {
	ins, err := s.GetInstruction(ctx, id)
	if err != nil {
		return nil, err
	}
	if ins.Verified {
		return ins, nil
	}
	if err := database.UpdateVersioned(s.db.WithContext(ctx), &models.SettlementInstruction{}, ins.Version,
		map[string]any{"verified": true}, "id = ?", id); err != nil {
		return nil, err
	}
	ins.Verified = true
	ins.Version++
	return ins, nil
}

// SetDefault makes id the default instruction for its client and currency.
func (s *Service) SetDefault(ctx context.Context, id string) (*models.SettlementInstruction, error) {
	ins, err := s.GetInstruction(ctx, id)
	if err != nil {
		return nil, err
	}
	if ins.IsDefault {
		return ins, nil
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := clearDefault(tx, ins.ClientID, ins.Currency); err != nil {
			return err
		}
		return database.UpdateVersioned(tx, &models.SettlementInstruction{}, ins.Version,
			map[string]any{"is_default": true}, "id = ?", id)
	})
	if database.IsDuplicate(err) {
		return nil, errors.ConcurrentModification.Explain("default %s instruction of %s changed concurrently", ins.Currency, ins.ClientID)
	}
	if err != nil {
		return nil, err
	}
	ins.IsDefault = true
	ins.Version++
	return ins, nil
}

func (s *Service) GetInstruction(ctx context.Context, id string) (*models.SettlementInstruction, error) {
	return GetInstructionTx(s.db.WithContext(ctx), id)
}

// GetInstructionTx loads an instruction inside the caller's transaction.
func GetInstructionTx(tx *gorm.DB, id string) (*models.SettlementInstruction, error) {
	var ins models.SettlementInstruction
	if err := tx.First(&ins, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("settlement instruction %s not found", id)
		}
		return nil, err
	}
	return &ins, nil
}

// DefaultInstruction returns the client's default instruction for currency.
func (s *Service) DefaultInstruction(ctx context.Context, clientID, currency string) (*models.SettlementInstruction, error) {
	var ins models.SettlementInstruction
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND currency = ? AND is_default = ?", clientID, strings.ToUpper(currency), true).
		First(&ins).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("no default %s instruction for client %s", currency, clientID)
		}
		return nil, err
	}
	return &ins, nil
}

func (s *Service) ListInstructions(ctx context.Context, clientID string) ([]models.SettlementInstruction, error) {
	var out []models.SettlementInstruction
	err := s.db.WithContext(ctx).Where("client_id = ?", clientID).Order("created_at").Find(&out).Error
	return out, err
}

// clearDefault demotes the current default. It touches at most one row,
// still bumping its version so concurrent writers notice.
func clearDefault(tx *gorm.DB, clientID, currency string) error {
	return tx.Model(&models.SettlementInstruction{}).
		Where("client_id = ? AND currency = ? AND is_default = ?", clientID, currency, true).
		Updates(map[string]any{"is_default": false, "version": gorm.Expr("version + 1")}).Error
}
