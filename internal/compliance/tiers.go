package compliance

import (
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/shopspring/decimal"
)

// TierLimits are rolling USD allowances per verification tier.
type TierLimits struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

var tierLimits = map[models.VerificationTier]TierLimits{
	models.VerificationUnverified:    {Daily: decimal.NewFromInt(10_000), Monthly: decimal.NewFromInt(50_000)},
	models.VerificationEmailVerified: {Daily: decimal.NewFromInt(100_000), Monthly: decimal.NewFromInt(500_000)},
	models.VerificationPhoneVerified: {Daily: decimal.NewFromInt(500_000), Monthly: decimal.NewFromInt(2_000_000)},
	models.VerificationFullKYC:       {Daily: decimal.NewFromInt(10_000_000), Monthly: decimal.NewFromInt(100_000_000)},
}

// kycThresholds: a single transaction above the amount forces KYC for the tier.
var kycThresholds = map[models.VerificationTier]decimal.Decimal{
	models.VerificationUnverified:    decimal.NewFromInt(10_000),
	models.VerificationEmailVerified: decimal.NewFromInt(100_000),
}

// LimitsFor returns the allowances of a verification tier.
func LimitsFor(tier models.VerificationTier) TierLimits {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[models.VerificationUnverified]
}

var travelRuleThreshold = decimal.NewFromInt(1_000)

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

var riskLadder = []string{RiskLow, RiskMedium, RiskHigh}

var (
	lowRiskBelow    = decimal.NewFromInt(10_000)
	mediumRiskBelow = decimal.NewFromInt(100_000)
)

func riskBucket(amountUSD decimal.Decimal) int {
	switch {
	case amountUSD.LessThan(lowRiskBelow):
		return 0
	case amountUSD.LessThan(mediumRiskBelow):
		return 1
	default:
		return 2
	}
}

func escalate(bucket int) int {
	if bucket < len(riskLadder)-1 {
		return bucket + 1
	}
	return bucket
}

// VerificationKind is a verification step a client completes.
type VerificationKind string

const (
	VerifyEmail    VerificationKind = "email"
	VerifyPhone    VerificationKind = "phone"
	VerifyDocument VerificationKind = "document"
)

var verificationLevels = map[VerificationKind]int{
	VerifyEmail:    1,
	VerifyPhone:    2,
	VerifyDocument: 3,
}
