// Package custody enforces the desk's custody policy: destination
// whitelisting, multisig withdrawals, hot/cold sweeps and deposit
// confirmation depth.
package custody

import (
	"time"

	"github.com/Aidin1998/otcdesk/internal/compliance"
	"github.com/Aidin1998/otcdesk/internal/marketdata"
	"github.com/Aidin1998/otcdesk/internal/messaging"
	"github.com/Aidin1998/otcdesk/internal/rails"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Event types published on the custody topic.
const (
	EventWithdrawalRequested   = "withdrawal.requested"
	EventWithdrawalApproved    = "withdrawal.approved"
	EventWithdrawalBroadcasted = "withdrawal.broadcasted"
	EventWithdrawalRejected    = "withdrawal.rejected"
	EventWithdrawalFailed      = "withdrawal.failed"
	EventSweepCompleted        = "sweep.completed"
	EventDepositCredited       = "deposit.credited"
)

// Policy holds the withdrawal thresholds.
type Policy struct {
	MultisigThresholdUSD  decimal.Decimal
	RequiredSignatures    int
	SmallWithdrawalCapUSD decimal.Decimal
}

// DefaultPolicy is the desk's standard withdrawal policy.
func DefaultPolicy() Policy {
	return Policy{
		MultisigThresholdUSD:  decimal.NewFromInt(100_000),
		RequiredSignatures:    3,
		SmallWithdrawalCapUSD: decimal.NewFromInt(1_000),
	}
}

// Service owns whitelists, custody accounts and withdrawals.
type Service struct {
	db        *gorm.DB
	gate      *compliance.Gate
	converter *marketdata.Converter
	gateway   rails.Gateway
	emitter   *messaging.Emitter
	policy    Policy
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(db *gorm.DB, gate *compliance.Gate, converter *marketdata.Converter, gateway rails.Gateway,
	emitter *messaging.Emitter, policy Policy, logger *zap.Logger) *Service {
	defaults := DefaultPolicy()
	if !policy.MultisigThresholdUSD.IsPositive() {
		policy.MultisigThresholdUSD = defaults.MultisigThresholdUSD
	}
	if policy.RequiredSignatures < 1 {
		policy.RequiredSignatures = defaults.RequiredSignatures
	}
	if !policy.SmallWithdrawalCapUSD.IsPositive() {
		policy.SmallWithdrawalCapUSD = defaults.SmallWithdrawalCapUSD
	}
	return &Service{
		db:        db,
		gate:      gate,
		converter: converter,
		gateway:   gateway,
		emitter:   emitter,
		policy:    policy,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the effective withdrawal policy.
func (s *Service) Policy() Policy { return s.policy }
