// Package clients onboards desk counterparties and keeps their standing
// settlement instructions.
package clients

import (
	"context"
	"strings"

	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/ids"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewClient is the onboarding request.
type NewClient struct {
	ID            string            `json:"id,omitempty"`
	Name          string            `json:"name" binding:"required"`
	Email         string            `json:"email" binding:"required,email"`
	Tier          models.ClientTier `json:"tier" binding:"omitempty,oneof=retail professional institutional"`
	Institutional bool              `json:"institutional"`
	TradingLimit  decimal.Decimal   `json:"trading_limit"`
	RiskScore     int               `json:"risk_score" binding:"gte=0,lte=100"`
}

// Service owns Client and SettlementInstruction records.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Create onboards a client. New clients start unverified and active.
func (s *Service) Create(ctx context.Context, req NewClient) (*models.Client, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.Invalid.Explain("name is required")
	}
	tier := req.Tier
	if tier == "" {
		tier = models.TierRetail
	}
	id := req.ID
	if id == "" {
		id = ids.Client()
	}
	c := &models.Client{
		ID:            id,
		Name:          req.Name,
		Email:         strings.ToLower(strings.TrimSpace(req.Email)),
		Tier:          tier,
		Institutional: req.Institutional,
		TradingLimit:  req.TradingLimit,
		RiskScore:     req.RiskScore,
		Active:        true,
		Version:       1,
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		if database.IsDuplicate(err) {
			return nil, errors.Conflict.Explain("client %s or email %s already exists", c.ID, c.Email)
		}
		return nil, err
	}
	s.logger.Info("client onboarded", zap.String("client_id", c.ID), zap.String("tier", string(c.Tier)))
	return c, nil
}

// Get loads a client by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Client, error) {
	return GetTx(s.db.WithContext(ctx), id)
}

// GetTx loads a client inside the caller's transaction.
func GetTx(tx *gorm.DB, id string) (*models.Client, error) {
	var c models.Client
	if err := tx.First(&c, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errors.NotFound.Explain("client %s not found", id)
		}
		return nil, err
	}
	return &c, nil
}

// GetActive loads a client and fails with Invalid if it was deactivated.
func (s *Service) GetActive(ctx context.Context, id string) (*models.Client, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, errors.Invalid.Explain("client %s is deactivated", id)
	}
	return c, nil
}

// Deactivate disables a client. Clients are never deleted.
func (s *Service) Deactivate(ctx context.Context, id string) (*models.Client, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return c, nil
	}
	if err := database.UpdateVersioned(s.db.WithContext(ctx), &models.Client{}, c.Version,
		map[string]any{"active": false}, "id = ?", id); err != nil {
		return nil, err
	}
	c.Active = false
	c.Version++
	s.logger.Info("client deactivated", zap.String("client_id", id))
	return c, nil
}

// UpdateTier changes the commercial tier used for pricing.
func (s *Service) UpdateTier(ctx context.Context, id string, tier models.ClientTier) (*models.Client, error) {
	switch tier {
	case models.TierRetail, models.TierProfessional, models.TierInstitutional:
	default:
		return nil, errors.Invalid.Explain("unknown tier %q", tier)
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := database.UpdateVersioned(s.db.WithContext(ctx), &models.Client{}, c.Version,
		map[string]any{"tier": tier}, "id = ?", id); err != nil {
		return nil, err
	}
	c.Tier = tier
	c.Version++
	return c, nil
}
